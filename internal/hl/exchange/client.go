package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Client posts signed L1 actions to /exchange. It only knows the two actions
// an order attempt needs: updateLeverage and a single IOC order.
type Client struct {
	baseURL string
	http    *http.Client
	signer  *Signer
	vault   *common.Address
	nonces  nonceSequence
	log     *zap.Logger
}

// HTTPError is returned when the venue answers with a non-2xx status.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

func NewClient(baseURL string, timeout time.Duration, signer *Signer, vaultAddress string) (*Client, error) {
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	if baseURL == "" {
		baseURL = "https://api.hyperliquid.xyz"
	}
	var vault *common.Address
	if trimmed := strings.TrimSpace(vaultAddress); trimmed != "" {
		if !common.IsHexAddress(trimmed) {
			return nil, fmt.Errorf("invalid vault address %q", vaultAddress)
		}
		addr := common.HexToAddress(trimmed)
		vault = &addr
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		signer:  signer,
		vault:   vault,
		log:     zap.NewNop(),
	}, nil
}

func (c *Client) SetLogger(log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	c.log = log
}

// PlaceOrder signs and submits a single order. The raw reply is returned
// for ClassifyOrderResponse.
func (c *Client) PlaceOrder(ctx context.Context, order OrderWire) (map[string]any, error) {
	return c.send(ctx, OrderAction{Type: "order", Orders: []OrderWire{order}, Grouping: "na"})
}

// UpdateLeverage sets the account leverage for asset. The raw reply is
// returned for ClassifyActionResponse.
func (c *Client) UpdateLeverage(ctx context.Context, asset int, leverage int, isCross bool) (map[string]any, error) {
	return c.send(ctx, UpdateLeverageAction{Type: "updateLeverage", Asset: asset, IsCross: isCross, Leverage: leverage})
}

// InitNonceStore restores the nonce floor from store and persists every
// nonce issued afterwards.
func (c *Client) InitNonceStore(ctx context.Context, store NonceStore) error {
	if store == nil {
		return nil
	}
	return c.nonces.attach(ctx, store, nonceStoreKey(c.baseURL, c.signer, c.vault))
}

func (c *Client) NonceState() (NonceState, bool) {
	return c.nonces.state()
}

func (c *Client) nextNonce() uint64 {
	return c.nonces.next(c.log)
}

func (c *Client) send(ctx context.Context, action any) (map[string]any, error) {
	nonce := c.nextNonce()
	sig, err := c.signer.SignL1Action(action, nonce, c.vault)
	if err != nil {
		return nil, fmt.Errorf("sign %T: %w", action, err)
	}
	payload := SignedAction{Action: action, Nonce: nonce, Signature: sig}
	if c.vault != nil {
		addr := c.vault.Hex()
		payload.VaultAddress = &addr
	}
	return c.post(ctx, "/exchange", payload)
}

func (c *Client) post(ctx context.Context, path string, req any) (map[string]any, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	var data map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode exchange response: %w", err)
	}
	return data, nil
}
