package chain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestRangeContains(t *testing.T) {
	rng := Range{Lower: 90, Upper: 110}
	cases := []struct {
		price float64
		want  bool
	}{
		{100, true},
		{90, true},
		{110, true},
		{89.99, false},
		{110.01, false},
	}
	for _, tc := range cases {
		if got := rng.Contains(tc.price); got != tc.want {
			t.Errorf("Contains(%v) = %v, want %v", tc.price, got, tc.want)
		}
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second, zap.NewNop())
}

func TestPoolPriceRejectsNonPositive(t *testing.T) {
	cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"price": 0}`))
	})
	if _, err := cli.PoolPrice(context.Background(), "pool-1"); err == nil {
		t.Fatalf("zero price accepted")
	}
}

func TestPoolTokensRequiresExactlyTwo(t *testing.T) {
	cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tokens":[{"symbol":"SOL"}]}`))
	})
	if _, err := cli.PoolTokens(context.Background(), "pool-1"); err == nil {
		t.Fatalf("single-token pool accepted")
	}
}

func TestOpenPositionRoundTrip(t *testing.T) {
	cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pools/pool-1/open-position" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"positionId":"pos-9","pairName":"SOL/USDC","startPrice":90,"endPrice":110,"valueUsd":1000,"feeUsd":0.5}`))
	})
	pos, err := cli.OpenPosition(context.Background(), "pool-1", 5, Range{Lower: 90, Upper: 110})
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	if pos.PositionID != "pos-9" || pos.ValueUSD != 1000 || pos.FeeUSD != 0.5 {
		t.Fatalf("pos = %+v", pos)
	}
}

func TestErrorResponseCarriesBody(t *testing.T) {
	cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`rpc node syncing`))
	})
	_, err := cli.PoolPrice(context.Background(), "pool-1")
	if err == nil {
		t.Fatalf("expected error on http 503")
	}
}
