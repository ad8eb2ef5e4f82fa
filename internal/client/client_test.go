package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wishledger/internal/crypto"
	"github.com/alanyoungcy/wishledger/internal/domain"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestSignedRequestsVerify(t *testing.T) {
	signer, err := crypto.NewSigner(testKey, 31337)
	require.NoError(t, err)
	verifier := crypto.NewVerifier(31337, time.Minute, nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		ts, err := strconv.ParseInt(r.Header.Get(crypto.HeaderTimestamp), 10, 64)
		assert.NoError(t, err)
		call := crypto.WishCall{
			Caller:    signer.Address(),
			Method:    r.Method,
			Path:      r.URL.Path,
			BodyHash:  crypto.BodyHash(body),
			Timestamp: ts,
		}
		copy(call.Nonce[:], hexHeader(r.Header.Get(crypto.HeaderNonce)))
		assert.Equal(t, signer.Address().Hex(), r.Header.Get(crypto.HeaderCaller))
		assert.NoError(t, verifier.Verify(r.Context(), call, r.Header.Get(crypto.HeaderSignature)))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":7,"raised":5,"status":"open"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, WithHTTPClient(srv.Client()), WithSigner(signer))
	w, err := c.FundWish(context.Background(), 7, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), w.ID)
	assert.Equal(t, int64(5), w.Raised)
}

func TestAPIErrorUnwrapsToSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"ledger: claim wish 1: target not met","code":"target_not_met"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, WithHTTPClient(srv.Client()), WithCaller(someAccount()))
	_, err := c.Claim(context.Background(), 1)
	require.ErrorIs(t, err, domain.ErrTargetNotMet)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
}

func TestMissingCredentials(t *testing.T) {
	c := New("http://127.0.0.1:0")
	_, err := c.Withdraw(context.Background(), 1)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = c.Deposit(context.Background(), someAccount(), 1)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestNonJSONError(t *testing.T) {
	err := checkHTTPStatus(http.StatusBadGateway, []byte("upstream down\n"))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "upstream down", apiErr.Message)
	assert.Nil(t, apiErr.Unwrap())
}
