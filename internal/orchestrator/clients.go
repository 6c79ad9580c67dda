package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HedgeClient drives the hedge engine's remap endpoint.
type HedgeClient struct {
	baseURL string
	http    *http.Client
}

func NewHedgeClient(baseURL string, timeout time.Duration) *HedgeClient {
	return &HedgeClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *HedgeClient) Remap(ctx context.Context, oldID, newID string) error {
	body, err := json.Marshal(map[string]string{
		"oldPositionId": oldID,
		"newPositionId": newID,
	})
	if err != nil {
		return err
	}
	return postJSON(ctx, c.http, c.baseURL+"/hedging/remap", body)
}

// RebalancerClient tells the state machine to start tracking an id.
type RebalancerClient struct {
	baseURL string
	http    *http.Client
}

func NewRebalancerClient(baseURL string, timeout time.Duration) *RebalancerClient {
	return &RebalancerClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *RebalancerClient) StartTracking(ctx context.Context, positionID string) error {
	body, err := json.Marshal(map[string]string{"positionId": positionID})
	if err != nil {
		return err
	}
	return postJSON(ctx, c.http, c.baseURL+"/rebalance/start", body)
}

func postJSON(ctx context.Context, client *http.Client, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("http %d on %s: %s", resp.StatusCode, url, strings.TrimSpace(string(raw)))
	}
	return nil
}
