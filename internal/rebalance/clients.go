package rebalance

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

// HedgeClient calls the hedge engine's internal pause endpoint.
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

func (c *HedgeClient) PrepareForRebalance(ctx context.Context, positionID string) error {
	body, err := json.Marshal(map[string]string{"positionId": positionID})
	if err != nil {
		return err
	}
	return postJSON(ctx, c.http, c.baseURL+"/hedging/internal/prepare-for-rebalance", body, nil)
}

// OrchestratorClient handles task row IO and the completion callback.
type OrchestratorClient struct {
	baseURL     string
	callbackURL string
	http        *http.Client
}

func NewOrchestratorClient(baseURL, callbackURL string, timeout time.Duration) *OrchestratorClient {
	client := &http.Client{Timeout: timeout}
	if callbackURL == "" {
		callbackURL = strings.TrimRight(baseURL, "/") + "/internal/rebalance-complete"
	}
	return &OrchestratorClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		callbackURL: callbackURL,
		http:        client,
	}
}

func (c *OrchestratorClient) LoadTask(ctx context.Context, positionID string) (Task, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/positions/"+positionID, nil)
	if err != nil {
		return Task{}, false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Task{}, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return Task{}, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Task{}, false, fmt.Errorf("load task http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var task Task
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return Task{}, false, err
	}
	return task, true, nil
}

func (c *OrchestratorClient) SaveTask(ctx context.Context, task Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}
	url := c.baseURL + "/positions/" + task.PositionID + "/rebalance-state"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("save task http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}

func (c *OrchestratorClient) ActiveTasks(ctx context.Context) ([]Task, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/positions/active-for-rebalance", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("active tasks http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var tasks []Task
	if err := json.NewDecoder(resp.Body).Decode(&tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (c *OrchestratorClient) NotifyComplete(ctx context.Context, report CompletionReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return postJSON(ctx, c.http, c.callbackURL, body, nil)
}

func postJSON(ctx context.Context, client *http.Client, url string, body []byte, out any) error {
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
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
