package settlement

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-settlement/internal/cart"
	"github.com/noah-isme/pos-settlement/internal/common"
	"github.com/noah-isme/pos-settlement/internal/currency"
	"github.com/noah-isme/pos-settlement/internal/discount"
	"github.com/noah-isme/pos-settlement/internal/preference"
)

// Handler exposes price resolution, quotes and terminal preferences over HTTP.
type Handler struct {
	Svc    *Service
	Logger zerolog.Logger
}

type resolveRequest struct {
	SKU      string          `json:"sku" validate:"required"`
	Unit     string          `json:"unit"`
	Column   string          `json:"column"`
	Quantity decimal.Decimal `json:"quantity"`
}

type columnPayload struct {
	Column string `json:"column" validate:"required"`
}

// ResolvePrice resolves one unit price.
func (h *Handler) ResolvePrice(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "settlement service not configured", nil)
		return
	}
	var req resolveRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	column := req.Column
	if column == "" {
		if terminal, ok := common.TerminalID(r.Context()); ok {
			stored, err := h.Svc.PriceColumn(r.Context(), terminal)
			if err != nil {
				h.Logger.Warn().Err(err).Str("terminal_id", terminal).Msg("load price column preference")
			}
			column = stored
		}
	}
	res := h.Svc.ResolvePrice(req.SKU, req.Unit, column, req.Quantity)
	common.Data(w, http.StatusOK, res)
}

// Quote prices a cart and applies its discount.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeQuote(w, r)
	if !ok {
		return
	}
	totals, err := h.Svc.Quote(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, totals)
}

// Preview returns the totals of a cart with and without its discount.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeQuote(w, r)
	if !ok {
		return
	}
	preview, err := h.Svc.PreviewQuote(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, preview)
}

// GetPriceColumn returns the column selected on a terminal.
func (h *Handler) GetPriceColumn(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "settlement service not configured", nil)
		return
	}
	terminal := strings.TrimSpace(chi.URLParam(r, "terminal"))
	column, err := h.Svc.PriceColumn(r.Context(), terminal)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, map[string]string{"terminal": terminal, "column": column})
}

// SetPriceColumn stores the column selected on a terminal.
func (h *Handler) SetPriceColumn(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "settlement service not configured", nil)
		return
	}
	var payload columnPayload
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	terminal := strings.TrimSpace(chi.URLParam(r, "terminal"))
	if err := h.Svc.SetPriceColumn(r.Context(), terminal, payload.Column); err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, map[string]string{"terminal": terminal, "column": strings.TrimSpace(payload.Column)})
}

func (h *Handler) decodeQuote(w http.ResponseWriter, r *http.Request) (QuoteRequest, bool) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "settlement service not configured", nil)
		return QuoteRequest{}, false
	}
	var req QuoteRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return QuoteRequest{}, false
	}
	if terminal, ok := common.TerminalID(r.Context()); ok {
		req.Terminal = terminal
	}
	return req, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cart.ErrInvalidInput):
		common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_LINE", err.Error(), nil)
	case errors.Is(err, discount.ErrInvalidDiscount):
		common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_DISCOUNT", err.Error(), nil)
	case errors.Is(err, ErrUnknownColumn):
		common.JSONError(w, http.StatusUnprocessableEntity, "UNKNOWN_COLUMN", err.Error(), nil)
	case errors.Is(err, currency.ErrUnknownCurrency):
		common.JSONError(w, http.StatusUnprocessableEntity, "UNKNOWN_CURRENCY", err.Error(), nil)
	case errors.Is(err, preference.ErrInvalidTerminal):
		common.JSONError(w, http.StatusBadRequest, "INVALID_TERMINAL", err.Error(), nil)
	default:
		h.Logger.Error().Err(err).Msg("settlement request failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "settlement failed", nil)
	}
}
