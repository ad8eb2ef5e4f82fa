// Package client is a typed HTTP client for the wishledger API. Calls that
// act for an account are signed with the configured key.
package client

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wishledger/internal/crypto"
	"github.com/alanyoungcy/wishledger/internal/domain"
	"github.com/alanyoungcy/wishledger/internal/service"
)

// Client talks to a wishledger server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	caller     common.Address
	adminKey   string
	now        func() time.Time
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default 30s-timeout client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithSigner signs caller requests with s.
func WithSigner(s *crypto.Signer) Option {
	return func(c *Client) {
		c.signer = s
		c.caller = s.Address()
	}
}

// WithCaller sends an unsigned X-Wish-Caller header. Only servers running
// with signature checks disabled accept it.
func WithCaller(addr common.Address) Option {
	return func(c *Client) { c.caller = addr }
}

// WithAdminKey sets the key sent to admin endpoints.
func WithAdminKey(key string) Option {
	return func(c *Client) { c.adminKey = key }
}

// New creates a Client for the server at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Caller returns the account requests are made for.
func (c *Client) Caller() common.Address {
	return c.caller
}

// APIError is a non-2xx reply. It unwraps to the matching domain sentinel
// so callers can use errors.Is across the wire.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	return domain.ErrorForCode(e.Code)
}

type authMode int

const (
	authNone authMode = iota
	authCaller
	authAdmin
)

// ListQuery filters ListWishes.
type ListQuery struct {
	Owner  *common.Address
	Status domain.WishStatus
	Limit  int
	Offset int
}

// Health returns the server's health report.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, authNone, &out); err != nil {
		return nil, fmt.Errorf("client: health: %w", err)
	}
	return out, nil
}

// CreateWish creates a wish owned by the client's caller.
func (c *Client) CreateWish(ctx context.Context, description string, target int64, deadline time.Time) (domain.Wish, error) {
	body := map[string]any{
		"description": description,
		"target":      target,
		"deadline":    deadline.UTC(),
	}
	var out struct {
		ID   uint64      `json:"id"`
		Wish domain.Wish `json:"wish"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/wishes", body, authCaller, &out); err != nil {
		return domain.Wish{}, fmt.Errorf("client: create wish: %w", err)
	}
	return out.Wish, nil
}

// FundWish contributes amount to wish id.
func (c *Client) FundWish(ctx context.Context, id uint64, amount int64) (domain.Wish, error) {
	var out domain.Wish
	path := fmt.Sprintf("/api/wishes/%d/fund", id)
	if err := c.do(ctx, http.MethodPost, path, map[string]int64{"amount": amount}, authCaller, &out); err != nil {
		return domain.Wish{}, fmt.Errorf("client: fund wish %d: %w", id, err)
	}
	return out, nil
}

// Claim claims wish id for its owner.
func (c *Client) Claim(ctx context.Context, id uint64) (service.ClaimResult, error) {
	var out service.ClaimResult
	path := fmt.Sprintf("/api/wishes/%d/claim", id)
	if err := c.do(ctx, http.MethodPost, path, nil, authCaller, &out); err != nil {
		return service.ClaimResult{}, fmt.Errorf("client: claim wish %d: %w", id, err)
	}
	return out, nil
}

// Settle settles wish id. The request is signed when a caller is configured.
func (c *Client) Settle(ctx context.Context, id uint64) (service.SettleResult, error) {
	var out service.SettleResult
	mode := authNone
	if c.caller != (common.Address{}) {
		mode = authCaller
	}
	path := fmt.Sprintf("/api/wishes/%d/settle", id)
	if err := c.do(ctx, http.MethodPost, path, nil, mode, &out); err != nil {
		return service.SettleResult{}, fmt.Errorf("client: settle wish %d: %w", id, err)
	}
	return out, nil
}

// Wish fetches a single wish.
func (c *Client) Wish(ctx context.Context, id uint64) (domain.Wish, error) {
	var out domain.Wish
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/wishes/%d", id), nil, authNone, &out); err != nil {
		return domain.Wish{}, fmt.Errorf("client: get wish %d: %w", id, err)
	}
	return out, nil
}

// ListWishes lists wishes matching q.
func (c *Client) ListWishes(ctx context.Context, q ListQuery) ([]domain.Wish, error) {
	v := url.Values{}
	if q.Owner != nil {
		v.Set("owner", q.Owner.Hex())
	}
	if q.Status != "" {
		v.Set("status", string(q.Status))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	path := "/api/wishes"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}

	var out struct {
		Wishes []domain.Wish `json:"wishes"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, authNone, &out); err != nil {
		return nil, fmt.Errorf("client: list wishes: %w", err)
	}
	return out.Wishes, nil
}

type balanceResponse struct {
	Balance int64 `json:"balance"`
}

// Balance returns the balance of account.
func (c *Client) Balance(ctx context.Context, account common.Address) (int64, error) {
	var out balanceResponse
	if err := c.do(ctx, http.MethodGet, "/api/accounts/"+account.Hex(), nil, authNone, &out); err != nil {
		return 0, fmt.Errorf("client: balance %s: %w", account.Hex(), err)
	}
	return out.Balance, nil
}

// Withdraw debits the caller's balance.
func (c *Client) Withdraw(ctx context.Context, amount int64) (int64, error) {
	var out balanceResponse
	if err := c.do(ctx, http.MethodPost, "/api/accounts/withdraw", map[string]int64{"amount": amount}, authCaller, &out); err != nil {
		return 0, fmt.Errorf("client: withdraw: %w", err)
	}
	return out.Balance, nil
}

// Deposit credits account. Requires the admin key.
func (c *Client) Deposit(ctx context.Context, account common.Address, amount int64) (int64, error) {
	var out balanceResponse
	path := "/api/admin/accounts/" + account.Hex() + "/deposit"
	if err := c.do(ctx, http.MethodPost, path, map[string]int64{"amount": amount}, authAdmin, &out); err != nil {
		return 0, fmt.Errorf("client: deposit %s: %w", account.Hex(), err)
	}
	return out.Balance, nil
}

// Archive asks the server to archive wishes finalized before the cutoff. A
// nil before means now.
func (c *Client) Archive(ctx context.Context, before *time.Time) (int64, error) {
	var body any
	if before != nil {
		body = map[string]time.Time{"before": before.UTC()}
	}
	var out struct {
		Archived int64 `json:"archived"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/admin/archive", body, authAdmin, &out); err != nil {
		return 0, fmt.Errorf("client: archive: %w", err)
	}
	return out.Archived, nil
}

// ListArchive lists archive objects.
func (c *Client) ListArchive(ctx context.Context) ([]domain.BlobInfo, error) {
	var out struct {
		Objects []domain.BlobInfo `json:"objects"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/admin/archive", nil, authAdmin, &out); err != nil {
		return nil, fmt.Errorf("client: list archive: %w", err)
	}
	return out.Objects, nil
}

// do builds, authenticates, sends, and decodes one request.
func (c *Client) do(ctx context.Context, method, path string, body any, mode authMode, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	switch mode {
	case authCaller:
		if err := c.authenticate(req, payload); err != nil {
			return err
		}
	case authAdmin:
		if c.adminKey == "" {
			return fmt.Errorf("no admin key configured: %w", domain.ErrUnauthorized)
		}
		req.Header.Set("Authorization", "Bearer "+c.adminKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// authenticate sets the caller headers, signing them when a key is loaded.
// The signed path excludes the query string, matching the server.
func (c *Client) authenticate(req *http.Request, payload []byte) error {
	if c.caller == (common.Address{}) {
		return fmt.Errorf("no caller configured: %w", domain.ErrUnauthorized)
	}
	req.Header.Set(crypto.HeaderCaller, c.caller.Hex())
	if c.signer == nil {
		return nil
	}

	var nonce common.Hash
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	call := crypto.WishCall{
		Method:    req.Method,
		Path:      req.URL.Path,
		BodyHash:  crypto.BodyHash(payload),
		Timestamp: c.now().Unix(),
		Nonce:     nonce,
	}
	sig, err := c.signer.SignCall(call)
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	req.Header.Set(crypto.HeaderTimestamp, strconv.FormatInt(call.Timestamp, 10))
	req.Header.Set(crypto.HeaderNonce, nonce.Hex())
	req.Header.Set(crypto.HeaderSignature, sig)
	return nil
}

// checkHTTPStatus turns a non-2xx reply into an *APIError.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	apiErr := &APIError{Status: statusCode}
	var parsed struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		apiErr.Code = parsed.Code
		apiErr.Message = parsed.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
