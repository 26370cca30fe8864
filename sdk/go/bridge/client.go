// Package bridge is a Go client for the DappBridge REST API.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Writes wait for on-chain confirmation, so it is generous.
const DefaultHTTPTimeout = 5 * time.Minute

// Client wraps the HTTP interactions with a DappBridge daemon.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Session mirrors the daemon's wallet session view.
type Session struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	Account   string    `json:"account,omitempty"`
	ChainID   *big.Int  `json:"chain_id,omitempty"`
	Err       string    `json:"error,omitempty"`
	ErrCode   string    `json:"error_code,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Connected reports whether the session holds an account.
func (s Session) Connected() bool { return s.State == "connected" && s.Account != "" }

// Account is the response of the account probe.
type Account struct {
	Account string `json:"account,omitempty"`
	Found   bool   `json:"found"`
}

// PendingCall is an invocation still in flight on the daemon.
type PendingCall struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Operation string    `json:"operation"`
	Args      []any     `json:"args,omitempty"`
	Account   string    `json:"account,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
}

// CallRequest names a contract operation and its arguments. Value is a
// decimal wei amount and only applies to writes.
type CallRequest struct {
	Operation string `json:"operation"`
	Args      []any  `json:"args,omitempty"`
	Value     string `json:"value,omitempty"`
}

// ReadResult holds the decoded outputs of a read.
type ReadResult struct {
	Operation string            `json:"operation"`
	Outputs   []json.RawMessage `json:"outputs"`
}

// Notification is an event emitted by the contract during a write.
type Notification struct {
	Event    string         `json:"event,omitempty"`
	Fields   map[string]any `json:"fields,omitempty"`
	Address  string         `json:"address"`
	Topics   []string       `json:"topics,omitempty"`
	Data     []byte         `json:"data,omitempty"`
	TxHash   string         `json:"tx_hash"`
	LogIndex uint           `json:"log_index"`
}

// WriteResult is the confirmed outcome of a write.
type WriteResult struct {
	Success       bool           `json:"success"`
	Operation     string         `json:"operation"`
	TxHash        string         `json:"tx_hash"`
	BlockNumber   uint64         `json:"block_number"`
	GasUsed       uint64         `json:"gas_used"`
	Notifications []Notification `json:"notifications,omitempty"`
	ConfirmedAt   time.Time      `json:"confirmed_at"`
}

// CallRecord is one journal entry.
type CallRecord struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	Kind       string          `json:"kind"`
	Operation  string          `json:"operation"`
	Args       json.RawMessage `json:"args,omitempty"`
	Account    string          `json:"account,omitempty"`
	Outcome    string          `json:"outcome"`
	ErrorCode  string          `json:"error_code,omitempty"`
	Error      string          `json:"error,omitempty"`
	TxHash     string          `json:"tx_hash,omitempty"`
	IssuedAt   time.Time       `json:"issued_at"`
	DurationMS int64           `json:"duration_ms"`
}

// Role describes the cached role of the connected account.
type Role struct {
	Role  string `json:"role,omitempty"`
	Found bool   `json:"found"`
}

// APIError is returned for every non-2xx response.
type APIError struct {
	StatusCode int
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("dappbridge api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("dappbridge api error (%d): %s", e.StatusCode, e.Message)
}

// ErrorCode returns the API error code carried by err, if any.
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// NewClient instantiates a client for the daemon at rawURL. When httpClient
// is nil a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host are required", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAccessToken sets the bearer token sent with every request.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// AccessToken returns the stored bearer token.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// Session returns the current session view.
func (c *Client) Session(ctx context.Context) (Session, error) {
	var out Session
	err := c.get(ctx, "/api/v1/session", nil, &out)
	return out, err
}

// Connect asks the daemon's wallet for account access.
func (c *Client) Connect(ctx context.Context) (Session, error) {
	var out Session
	err := c.post(ctx, "/api/v1/session/connect", nil, &out)
	return out, err
}

// Disconnect clears the daemon's session.
func (c *Client) Disconnect(ctx context.Context) (Session, error) {
	var out Session
	err := c.post(ctx, "/api/v1/session/disconnect", nil, &out)
	return out, err
}

// Account probes the current account without prompting the wallet.
func (c *Client) Account(ctx context.Context) (Account, error) {
	var out Account
	err := c.get(ctx, "/api/v1/session/account", nil, &out)
	return out, err
}

// Pending lists in-flight calls.
func (c *Client) Pending(ctx context.Context) ([]PendingCall, error) {
	var out []PendingCall
	err := c.get(ctx, "/api/v1/session/pending", nil, &out)
	return out, err
}

// Read performs a read-only contract call.
func (c *Client) Read(ctx context.Context, operation string, args ...any) (ReadResult, error) {
	var out ReadResult
	err := c.post(ctx, "/api/v1/contract/read", CallRequest{Operation: operation, Args: args}, &out)
	return out, err
}

// Write performs a state-changing contract call and waits for confirmation.
func (c *Client) Write(ctx context.Context, req CallRequest) (WriteResult, error) {
	var out WriteResult
	err := c.post(ctx, "/api/v1/contract/write", req, &out)
	return out, err
}

// Calls lists the latest journal entries, newest first.
func (c *Client) Calls(ctx context.Context, limit int) ([]CallRecord, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out []CallRecord
	err := c.get(ctx, "/api/v1/calls", query, &out)
	return out, err
}

// CurrentRole returns the cached role of the connected account.
func (c *Client) CurrentRole(ctx context.Context) (Role, error) {
	var out Role
	err := c.get(ctx, "/api/v1/roles/current", nil, &out)
	return out, err
}

// SwitchRole switches to an already registered role.
func (c *Client) SwitchRole(ctx context.Context, role string) (Role, error) {
	var out Role
	err := c.post(ctx, "/api/v1/roles/switch", map[string]string{"role": role}, &out)
	return out, err
}

// RegisterRole registers role on the contract.
func (c *Client) RegisterRole(ctx context.Context, role string) (WriteResult, error) {
	var out WriteResult
	err := c.post(ctx, "/api/v1/roles/register", map[string]string{"role": role}, &out)
	return out, err
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: apiErr})
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
