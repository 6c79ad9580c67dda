package hedge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func newTestServer(t *testing.T, e *Engine) *httptest.Server {
	t.Helper()
	s := NewServer(":0", e, nil, zap.NewNop())
	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, srv *httptest.Server, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestServerStartStatusStop(t *testing.T) {
	cli := newFakeClient()
	cli.mark["SOLUSDT"] = 100
	assets := &fakeAssets{base: 2}
	e := newTestEngine(cli, assets, nil)
	srv := newTestServer(t, e)

	resp := postJSON(t, srv, "/hedging/start-dual-delta-neutral",
		`{"positionId":"pos-1","pairName":"SOL/USDC","totalValue":1000,"legs":[{"tradingPair":"SOLUSDT","leverage":2}]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d", resp.StatusCode)
	}

	resp, err := http.Get(srv.URL + "/hedging/status/pos-1")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status status = %d", resp.StatusCode)
	}
	var view StatusView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if view.PositionID != "pos-1" || len(view.Legs) != 1 || view.Legs[0].HedgeAmount != 2 {
		t.Fatalf("view = %+v", view)
	}

	resp = postJSON(t, srv, "/hedging/stop", `{"positionId":"pos-1"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d", resp.StatusCode)
	}
	if _, ok := e.table.Get("pos-1"); ok {
		t.Fatalf("position survived stop")
	}
}

func TestServerErrorMapping(t *testing.T) {
	cli := newFakeClient()
	cli.mark["SOLUSDT"] = 100
	assets := &fakeAssets{base: 1}
	e := newTestEngine(cli, assets, nil)
	srv := newTestServer(t, e)

	// Invalid request body.
	resp := postJSON(t, srv, "/hedging/stop", `{bad json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad body status = %d, want 400", resp.StatusCode)
	}

	// Unknown position.
	resp = postJSON(t, srv, "/hedging/stop", `{"positionId":"nope"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown stop status = %d, want 404", resp.StatusCode)
	}

	// Validation failure.
	resp = postJSON(t, srv, "/hedging/validate-value",
		`{"totalValue":1,"legs":[{"tradingPair":"SOLUSDT"}]}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("validate status = %d, want 400", resp.StatusCode)
	}

	// Duplicate start.
	body := `{"positionId":"pos-1","pairName":"SOL/USDC","totalValue":1000,"legs":[{"tradingPair":"SOLUSDT","leverage":2}]}`
	if resp := postJSON(t, srv, "/hedging/start-dual-delta-neutral", body); resp.StatusCode != http.StatusOK {
		t.Fatalf("first start status = %d", resp.StatusCode)
	}
	if resp := postJSON(t, srv, "/hedging/start-dual-delta-neutral", body); resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate start status = %d, want 409", resp.StatusCode)
	}
}

func TestServerPrepareForRebalanceAlwaysSucceeds(t *testing.T) {
	e := newTestEngine(newFakeClient(), nil, nil)
	srv := newTestServer(t, e)

	resp := postJSON(t, srv, "/hedging/internal/prepare-for-rebalance", `{"positionId":"missing"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("prepare status = %d, want 200 even for unknown ids", resp.StatusCode)
	}
}
