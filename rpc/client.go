package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"repchain/crypto"
)

// Client is a thin JSON-RPC wrapper around the arbiter endpoint. Requests are
// signed with Key when one is configured and carry Token as a bearer
// credential when set.
type Client struct {
	url        string
	key        *crypto.PrivateKey
	token      string
	httpClient *http.Client
	nextID     atomic.Int64
}

// ClientConfig represents the client configuration.
type ClientConfig struct {
	URL     string
	Key     *crypto.PrivateKey
	Token   string
	Timeout time.Duration
}

// NewClient constructs a JSON-RPC client targeting the supplied URL.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		url:   strings.TrimSpace(cfg.URL),
		key:   cfg.Key,
		token: strings.TrimSpace(cfg.Token),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type clientRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	// Nonce is the signing time. It keeps identical signed bodies distinct and
	// bounds how long a captured body stays usable.
	Nonce int64 `json:"nonce,omitempty"`
}

type clientError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type clientResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *clientError    `json:"error"`
}

// Call invokes method with a single parameter object (nil for none) and
// decodes the result into out. Signed calls require a key.
func (c *Client) Call(ctx context.Context, method string, params interface{}, out interface{}, signed bool) error {
	if c == nil || c.httpClient == nil {
		return fmt.Errorf("rpc: client not configured")
	}
	id := c.nextID.Add(1)
	reqBody := clientRequest{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: []interface{}{}}
	if params != nil {
		reqBody.Params = []interface{}{params}
	}
	if signed {
		reqBody.Nonce = time.Now().UnixNano()
	}
	buf, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if signed {
		if c.key == nil {
			return fmt.Errorf("rpc: %s requires a signing key", method)
		}
		sig, err := c.key.SignRequest(buf)
		if err != nil {
			return fmt.Errorf("rpc: sign request: %w", err)
		}
		req.Header.Set(SignatureHeader, hexutil.Encode(sig))
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var rpcResp clientResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("rpc: decode response (status %d): %w", resp.StatusCode, err)
	}
	if rpcResp.Error != nil {
		e := &Error{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message, Status: resp.StatusCode}
		var data errorData
		if len(rpcResp.Error.Data) > 0 && json.Unmarshal(rpcResp.Error.Data, &data) == nil {
			e.Reason = data.Reason
		}
		return e
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("rpc: unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return fmt.Errorf("rpc: empty result")
	}
	return json.Unmarshal(rpcResp.Result, out)
}
