package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/privtx/internal/enc"
)

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// Client calls a node's HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for baseURL. A nil httpClient gets a default
// with a 30 second timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), httpClient: httpClient}
}

// Send encrypts, stores and distributes a payload.
func (c *Client) Send(ctx context.Context, req SendRequest) (SendResponse, error) {
	var resp SendResponse
	err := c.do(ctx, http.MethodPost, "/send", req, &resp)
	return resp, err
}

// StoreRaw stores a payload without distributing it.
func (c *Client) StoreRaw(ctx context.Context, req StoreRawRequest) (StoreRawResponse, error) {
	var resp StoreRawResponse
	err := c.do(ctx, http.MethodPost, "/storeraw", req, &resp)
	return resp, err
}

// Receive fetches and decrypts a transaction. A nil recipient lets the node
// pick one of its keys.
func (c *Client) Receive(ctx context.Context, hash enc.MessageHash, recipient *enc.PublicKey, raw bool) (ReceiveResponse, error) {
	q := url.Values{}
	if recipient != nil {
		q.Set("to", recipient.String())
	}
	if raw {
		q.Set("isRaw", strconv.FormatBool(raw))
	}
	path := "/transaction/" + hash.URLString()
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp ReceiveResponse
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	return resp, err
}

// Delete removes a transaction.
func (c *Client) Delete(ctx context.Context, hash enc.MessageHash) error {
	return c.do(ctx, http.MethodDelete, "/transaction/"+hash.URLString(), nil, nil)
}

// Resend republishes transactions to publicKey. A nil hash resends every
// transaction the key is entitled to.
func (c *Client) Resend(ctx context.Context, publicKey enc.PublicKey, hash *enc.MessageHash) (ResendResponse, error) {
	req := ResendRequest{Type: ResendAll, PublicKey: publicKey}
	if hash != nil {
		req.Type = ResendIndividual
		req.Key = hash
	}
	var resp ResendResponse
	err := c.do(ctx, http.MethodPost, "/resend", req, &resp)
	return resp, err
}

// Keys lists the node's public keys.
func (c *Client) Keys(ctx context.Context) ([]enc.PublicKey, error) {
	var resp KeysResponse
	err := c.do(ctx, http.MethodGet, "/keys", nil, &resp)
	return resp.Keys, err
}

// Upcheck returns nil when the node reports itself healthy.
func (c *Client) Upcheck(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/upcheck", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode), Message: strings.TrimSpace(string(data))}
		var er ErrorResponse
		if json.Unmarshal(data, &er) == nil && er.Code != "" {
			apiErr.Code = er.Code
			apiErr.Message = er.Message
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
