package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client reads public and account state from /info. Every call is unsigned.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func New(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

type InfoRequest struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
}

// StatusError is a non-2xx /info reply.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// MetaAndAssetCtxs returns the perp universe together with per-asset
// contexts (mark price, funding, open interest) in one call.
func (c *Client) MetaAndAssetCtxs(ctx context.Context) (any, error) {
	var out any
	err := c.Info(ctx, InfoRequest{Type: "metaAndAssetCtxs"}, &out)
	return out, err
}

func (c *Client) ClearinghouseState(ctx context.Context, user string) (map[string]any, error) {
	var out map[string]any
	err := c.Info(ctx, InfoRequest{Type: "clearinghouseState", User: user}, &out)
	return out, err
}

func (c *Client) OpenOrders(ctx context.Context, user string) (any, error) {
	var out any
	err := c.Info(ctx, InfoRequest{Type: "openOrders", User: user}, &out)
	return out, err
}

// Info posts req to /info and decodes the reply into out.
func (c *Client) Info(ctx context.Context, req InfoRequest, out any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/info", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("info %s: %w", req.Type, err)
	}
	defer resp.Body.Close()
	c.log.Debug("info request",
		zap.String("type", req.Type),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode info %s: %w", req.Type, err)
	}
	return nil
}
