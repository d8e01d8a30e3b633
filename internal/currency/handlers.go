package currency

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"

	"github.com/noah-isme/pos-settlement/internal/common"
	"github.com/noah-isme/pos-settlement/internal/obs"
)

// Handler exposes the currency store over HTTP.
type Handler struct {
	Store   *Store
	Metrics *obs.SettlementMetrics
}

type descriptorPayload struct {
	Name      string          `json:"name"`
	Rate      decimal.Decimal `json:"rate"`
	Precision *int32          `json:"precision" validate:"required,min=0,max=8"`
	Symbol    string          `json:"symbol"`
	Position  SymbolPosition  `json:"position" validate:"omitempty,oneof=before after"`
	Active    *bool           `json:"active"`
}

type codePayload struct {
	Code string `json:"code" validate:"required,min=3,max=8"`
}

type convertPayload struct {
	Amount decimal.Decimal  `json:"amount"`
	From   string           `json:"from" validate:"required"`
	To     string           `json:"to" validate:"required"`
	Rate   *decimal.Decimal `json:"rate,omitempty"`
}

type formatPayload struct {
	Amount     decimal.Decimal `json:"amount"`
	Code       string          `json:"code" validate:"required"`
	ShowSymbol bool            `json:"showSymbol"`
	ShowCode   bool            `json:"showCode"`
	Locale     string          `json:"locale"`
	Precision  *int32          `json:"precision" validate:"omitempty,min=0,max=8"`
}

type listResponse struct {
	Base       string       `json:"base"`
	Document   string       `json:"document"`
	Version    uint64       `json:"version"`
	Currencies []Descriptor `json:"currencies"`
}

// List returns every configured currency.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "currency store not configured", nil)
		return
	}
	common.Data(w, http.StatusOK, snapshotResponse(h.Store.Snapshot()))
}

// Update inserts or replaces the currency named in the path.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "currency store not configured", nil)
		return
	}
	var payload descriptorPayload
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	active := true
	if payload.Active != nil {
		active = *payload.Active
	}
	desc := Descriptor{
		Code:      chi.URLParam(r, "code"),
		Name:      payload.Name,
		Rate:      payload.Rate,
		Precision: *payload.Precision,
		Symbol:    payload.Symbol,
		Position:  payload.Position,
		Active:    active,
	}
	if err := h.Store.UpdateCurrency(desc); err != nil {
		writeStoreError(w, err)
		return
	}
	h.Metrics.ObserveCurrencyMutation("update")
	saved, _ := h.Store.Descriptor(desc.Code)
	common.Data(w, http.StatusOK, saved)
}

// SetBase moves the base currency.
func (h *Handler) SetBase(w http.ResponseWriter, r *http.Request) {
	h.setCode(w, r, "set_base", (*Store).SetBaseCurrency)
}

// SetDocument selects the document currency.
func (h *Handler) SetDocument(w http.ResponseWriter, r *http.Request) {
	h.setCode(w, r, "set_document", (*Store).SetDocumentCurrency)
}

func (h *Handler) setCode(w http.ResponseWriter, r *http.Request, op string, apply func(*Store, string) error) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "currency store not configured", nil)
		return
	}
	var payload codePayload
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := apply(h.Store, payload.Code); err != nil {
		writeStoreError(w, err)
		return
	}
	h.Metrics.ObserveCurrencyMutation(op)
	common.Data(w, http.StatusOK, snapshotResponse(h.Store.Snapshot()))
}

// Convert converts an amount between two currencies.
func (h *Handler) Convert(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "currency store not configured", nil)
		return
	}
	var payload convertPayload
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	snap := h.Store.Snapshot()
	amount, err := snap.Convert(payload.Amount, payload.From, payload.To, payload.Rate)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	rate, err := snap.GetRate(payload.From, payload.To)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if payload.Rate != nil && payload.Rate.IsPositive() {
		rate = *payload.Rate
	}
	common.Data(w, http.StatusOK, map[string]any{
		"amount": amount,
		"from":   NormalizeCode(payload.From),
		"to":     NormalizeCode(payload.To),
		"rate":   rate,
	})
}

// Format renders an amount for display.
func (h *Handler) Format(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "currency store not configured", nil)
		return
	}
	var payload formatPayload
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	var tag language.Tag
	if loc := strings.TrimSpace(payload.Locale); loc != "" {
		parsed, err := language.Parse(loc)
		if err != nil {
			common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_LOCALE", "invalid locale", map[string]string{"locale": loc})
			return
		}
		tag = parsed
	}
	text, err := h.Store.FormatMoney(payload.Amount, payload.Code, FormatOptions{
		ShowSymbol: payload.ShowSymbol,
		ShowCode:   payload.ShowCode,
		Locale:     tag,
		Precision:  payload.Precision,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	common.Data(w, http.StatusOK, map[string]any{"text": text})
}

func snapshotResponse(snap Snapshot) listResponse {
	return listResponse{
		Base:       snap.BaseCode,
		Document:   snap.Document,
		Version:    snap.Version,
		Currencies: snap.Currencies(),
	}
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownCurrency):
		common.JSONError(w, http.StatusNotFound, "CURRENCY_NOT_FOUND", err.Error(), nil)
	case errors.Is(err, ErrInvalidCurrency):
		common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_CURRENCY", err.Error(), nil)
	case errors.Is(err, ErrBaseCurrency):
		common.JSONError(w, http.StatusConflict, "BASE_CURRENCY_CONFLICT", err.Error(), nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "currency operation failed", nil)
	}
}
