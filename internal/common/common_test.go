package common_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pos-settlement/internal/common"
)

type payload struct {
	Name  string   `json:"name" validate:"required"`
	Lines []string `json:"lines" validate:"min=1,dive,required"`
}

func TestDecodeJSONValidation(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"lines":[""]}`))
	var p payload
	err := common.DecodeJSON(req, &p)
	require.ErrorIs(t, err, common.ErrInvalidPayload)

	var appErr *common.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, http.StatusUnprocessableEntity, appErr.HTTPStatus)
	fields, ok := appErr.Details.([]common.FieldError)
	require.True(t, ok)
	require.ElementsMatch(t, []common.FieldError{{Field: "name", Rule: "required"}, {Field: "lines[0]", Rule: "required"}}, fields)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a","lines":["x"],"extra":1}`))
	err = common.DecodeJSON(req, &p)
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, http.StatusBadRequest, appErr.HTTPStatus)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a","lines":["x"]}`))
	require.NoError(t, common.DecodeJSON(req, &p))
}

func TestWriteError(t *testing.T) {
	rr := httptest.NewRecorder()
	common.WriteError(rr, common.NewAppError("NOT_FOUND", "missing", http.StatusNotFound, nil))
	require.Equal(t, http.StatusNotFound, rr.Code)

	var body map[string]common.ErrorBody
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	require.Equal(t, "NOT_FOUND", body["error"].Code)

	rr = httptest.NewRecorder()
	common.WriteError(rr, errors.New("boom"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "boom")
}

func TestTerminalMiddleware(t *testing.T) {
	var seen string
	handler := common.TerminalMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = common.TerminalID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(common.TerminalHeader, " pos-7 ")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, "pos-7", seen)

	_, ok := common.TerminalID(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	require.False(t, ok)
}

func TestIdempotencyReplay(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	calls := 0
	handler := common.Idem{R: client}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/currencies/base", nil)
		req.Header.Set("Idempotency-Key", "abc")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}
	require.Equal(t, http.StatusNoContent, send().Code)
	require.Equal(t, http.StatusConflict, send().Code)
	require.Equal(t, 1, calls)
}

func TestDataEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	common.Data(rr, http.StatusOK, map[string]string{"column": "retail"})
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	require.JSONEq(t, `{"data":{"column":"retail"}}`, rr.Body.String())
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:5123"
	require.Equal(t, "10.0.0.9", common.ClientIP(req))

	req.Header.Set("X-Real-IP", "10.0.0.2")
	require.Equal(t, "10.0.0.2", common.ClientIP(req))

	req.Header.Set("X-Forwarded-For", " 192.168.1.4 , 10.0.0.1")
	require.Equal(t, "192.168.1.4", common.ClientIP(req))
}
