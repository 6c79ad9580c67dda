package hedge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// AssetSource supplies the LP position's live token composition, the
// adjustment targets. Leg 0 maps to base, leg 1 to quote.
type AssetSource interface {
	PositionAssets(ctx context.Context, positionID string) (base, quote float64, err error)
}

// SnapshotSink is the durable store boundary. Pushes are best-effort;
// the in-memory table stays authoritative.
type SnapshotSink interface {
	PushSnapshot(ctx context.Context, snap Snapshot) error
	FetchSnapshot(ctx context.Context, positionID string) (Snapshot, bool, error)
	ActiveForHedging(ctx context.Context) ([]Snapshot, error)
}

// RebalancerClient reads LP asset amounts from the rebalancer service.
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

func (c *RebalancerClient) PositionAssets(ctx context.Context, positionID string) (float64, float64, error) {
	url := c.baseURL + "/rebalance/position/" + positionID + "/assets"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return 0, 0, fmt.Errorf("rebalancer http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out struct {
		Base  float64 `json:"base"`
		Quote float64 `json:"quote"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, 0, err
	}
	return out.Base, out.Quote, nil
}

// OrchestratorClient pushes and fetches hedge snapshots. Snapshot
// bodies travel as msgpack.
type OrchestratorClient struct {
	baseURL string
	http    *http.Client
}

func NewOrchestratorClient(baseURL string, timeout time.Duration) *OrchestratorClient {
	return &OrchestratorClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *OrchestratorClient) PushSnapshot(ctx context.Context, snap Snapshot) error {
	payload, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/hedge-snapshot", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/msgpack")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("snapshot push http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (c *OrchestratorClient) FetchSnapshot(ctx context.Context, positionID string) (Snapshot, bool, error) {
	url := c.baseURL + "/internal/hedge-snapshot/" + positionID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Snapshot{}, false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Snapshot{}, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return Snapshot{}, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Snapshot{}, false, fmt.Errorf("snapshot fetch http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Snapshot{}, false, err
	}
	snap, err := DecodeSnapshot(raw)
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

func (c *OrchestratorClient) ActiveForHedging(ctx context.Context) ([]Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/positions/active-for-hedging", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("active-for-hedging http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var snaps []Snapshot
	if err := msgpack.Unmarshal(raw, &snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}
