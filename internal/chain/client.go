package chain

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

// Range is an LP position's price range.
type Range struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

func (r Range) Contains(price float64) bool {
	return price >= r.Lower && price <= r.Upper
}

// Amounts is the LP position's current token composition.
type Amounts struct {
	Base  float64 `json:"base"`
	Quote float64 `json:"quote"`
}

// Token describes one side of a pool for wallet balance reads.
type Token struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
}

// TxResult is the collaborator's report for one confirmed chain call.
type TxResult struct {
	TxHash string  `json:"txHash"`
	FeeUSD float64 `json:"feeUsd"`
}

// NewPosition is the collaborator's report for a freshly opened LP
// position.
type NewPosition struct {
	PositionID  string  `json:"positionId"`
	PairName    string  `json:"pairName"`
	StartPrice  float64 `json:"startPrice"`
	EndPrice    float64 `json:"endPrice"`
	BaseAmount  float64 `json:"baseAmount"`
	QuoteAmount float64 `json:"quoteAmount"`
	ValueUSD    float64 `json:"valueUsd"`
	FeeUSD      float64 `json:"feeUsd"`
}

// SwapResult reports one executed swap.
type SwapResult struct {
	AmountIn  float64 `json:"amountIn"`
	AmountOut float64 `json:"amountOut"`
	FeeUSD    float64 `json:"feeUsd"`
}

// PoolAPI is the boundary to the pool collaborator service that owns
// transaction construction and tick math. Every call is a bounded
// HTTP round trip; nothing here blocks indefinitely.
type PoolAPI interface {
	PoolPrice(ctx context.Context, poolID string) (float64, error)
	PoolTokens(ctx context.Context, poolID string) ([]Token, error)
	PositionRange(ctx context.Context, positionID string) (Range, error)
	PositionAmounts(ctx context.Context, positionID string) (Amounts, error)
	PositionExists(ctx context.Context, positionID string) (bool, error)
	DecreaseLiquidity(ctx context.Context, positionID string) (TxResult, error)
	ClosePositionAccount(ctx context.Context, positionID string) (TxResult, error)
	OpenPosition(ctx context.Context, poolID string, baseAmount float64, rng Range) (NewPosition, error)
	ExecuteSwap(ctx context.Context, poolID, fromSymbol string, amount float64) (SwapResult, error)
	SuggestRange(ctx context.Context, poolID string, capitalUSD float64) (Range, error)
}

// Client talks to the pool collaborator over HTTP/JSON.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

func (c *Client) PoolPrice(ctx context.Context, poolID string) (float64, error) {
	var resp struct {
		Price float64 `json:"price"`
	}
	if err := c.get(ctx, "/pools/"+poolID+"/price", &resp); err != nil {
		return 0, err
	}
	if resp.Price <= 0 {
		return 0, fmt.Errorf("pool %s reported non-positive price %v", poolID, resp.Price)
	}
	return resp.Price, nil
}

func (c *Client) PoolTokens(ctx context.Context, poolID string) ([]Token, error) {
	var resp struct {
		Tokens []Token `json:"tokens"`
	}
	if err := c.get(ctx, "/pools/"+poolID+"/tokens", &resp); err != nil {
		return nil, err
	}
	if len(resp.Tokens) != 2 {
		return nil, fmt.Errorf("pool %s reported %d tokens, want 2", poolID, len(resp.Tokens))
	}
	return resp.Tokens, nil
}

func (c *Client) PositionRange(ctx context.Context, positionID string) (Range, error) {
	var rng Range
	err := c.get(ctx, "/positions/"+positionID+"/range", &rng)
	return rng, err
}

func (c *Client) PositionAmounts(ctx context.Context, positionID string) (Amounts, error) {
	var amounts Amounts
	err := c.get(ctx, "/positions/"+positionID+"/amounts", &amounts)
	return amounts, err
}

func (c *Client) PositionExists(ctx context.Context, positionID string) (bool, error) {
	var resp struct {
		Exists bool `json:"exists"`
	}
	err := c.get(ctx, "/positions/"+positionID+"/exists", &resp)
	return resp.Exists, err
}

func (c *Client) DecreaseLiquidity(ctx context.Context, positionID string) (TxResult, error) {
	var result TxResult
	err := c.post(ctx, "/positions/"+positionID+"/decrease-liquidity", nil, &result)
	return result, err
}

func (c *Client) ClosePositionAccount(ctx context.Context, positionID string) (TxResult, error) {
	var result TxResult
	err := c.post(ctx, "/positions/"+positionID+"/close", nil, &result)
	return result, err
}

func (c *Client) OpenPosition(ctx context.Context, poolID string, baseAmount float64, rng Range) (NewPosition, error) {
	req := map[string]any{
		"baseAmount": baseAmount,
		"lower":      rng.Lower,
		"upper":      rng.Upper,
	}
	var pos NewPosition
	err := c.post(ctx, "/pools/"+poolID+"/open-position", req, &pos)
	return pos, err
}

func (c *Client) ExecuteSwap(ctx context.Context, poolID, fromSymbol string, amount float64) (SwapResult, error) {
	req := map[string]any{
		"from":   fromSymbol,
		"amount": amount,
	}
	var result SwapResult
	err := c.post(ctx, "/pools/"+poolID+"/swap", req, &result)
	return result, err
}

func (c *Client) SuggestRange(ctx context.Context, poolID string, capitalUSD float64) (Range, error) {
	req := map[string]any{
		"capitalUsd": capitalUSD,
	}
	var rng Range
	err := c.post(ctx, "/pools/"+poolID+"/suggest-range", req, &rng)
	return rng, err
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("pool api http %d on %s: %s", resp.StatusCode, path, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
