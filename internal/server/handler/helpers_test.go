package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wishledger/internal/domain"
)

func TestStatusFor(t *testing.T) {
	tests := map[string]int{
		"invalid_parameters": http.StatusBadRequest,
		"invalid_amount":     http.StatusBadRequest,
		"wish_not_found":     http.StatusNotFound,
		"unauthorized":       http.StatusForbidden,
		"wish_closed":        http.StatusConflict,
		"too_early":          http.StatusConflict,
		"target_not_met":     http.StatusConflict,
		"target_met":         http.StatusConflict,
		"already_finalized":  http.StatusConflict,
		"insufficient_funds": http.StatusConflict,
		"balance_overflow":   http.StatusConflict,
		"rate_limited":       http.StatusTooManyRequests,
		"internal":           http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, StatusFor(code), code)
	}
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"ok", `{"amount":5}`, false},
		{"unknown field", `{"amount":5,"extra":1}`, true},
		{"trailing", `{"amount":5}{"amount":6}`, true},
		{"empty", ``, true},
		{"wrong type", `{"amount":"5"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var req amountRequest
			err := decodeJSON(r, &req)
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrInvalidParameters)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(5), req.Amount)
		})
	}
}

func TestParseListOpts(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=9000&offset=-3", nil)
	assert.Equal(t, domain.ListOpts{Limit: 500, Offset: 0}, parseListOpts(r))

	r = httptest.NewRequest(http.MethodGet, "/?limit=10&offset=20", nil)
	assert.Equal(t, domain.ListOpts{Limit: 10, Offset: 20}, parseListOpts(r))
}
