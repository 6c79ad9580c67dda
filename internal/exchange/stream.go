package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// PriceStream keeps a live mark-price cache over one websocket
// connection. Subscriptions are replayed after every reconnect.
type PriceStream struct {
	url            string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	subs   map[string]struct{}
	prices map[string]float64
	nextID int64
}

func NewPriceStream(url string, reconnectDelay, pingInterval time.Duration, log *zap.Logger) *PriceStream {
	return &PriceStream{
		url:            url,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		log:            log,
		subs:           make(map[string]struct{}),
		prices:         make(map[string]float64),
	}
}

// Subscribe starts tracking a symbol's mark price. Safe before the
// stream is running; the subscription is sent on next connect.
func (s *PriceStream) Subscribe(ctx context.Context, symbol string) error {
	s.mu.Lock()
	s.subs[symbol] = struct{}{}
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return s.sendSubscribe(ctx, conn, []string{symbol})
}

func (s *PriceStream) Unsubscribe(ctx context.Context, symbol string) error {
	s.mu.Lock()
	delete(s.subs, symbol)
	delete(s.prices, symbol)
	conn := s.conn
	id := s.nextMsgID()
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return writeJSON(ctx, conn, map[string]any{
		"method": "UNSUBSCRIBE",
		"params": []string{streamName(symbol)},
		"id":     id,
	})
}

// Last returns the cached mark price for a symbol, if any update has
// arrived since subscribing.
func (s *PriceStream) Last(symbol string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	price, ok := s.prices[symbol]
	return price, ok
}

func (s *PriceStream) Run(ctx context.Context) error {
	for {
		if err := s.ensureConnected(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn("price stream connect failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.reconnectDelay):
			}
			continue
		}
		pingCtx, cancel := context.WithCancel(ctx)
		pingDone := make(chan struct{})
		go func() {
			defer close(pingDone)
			s.pingLoop(pingCtx)
		}()
		err := s.readLoop(ctx)
		cancel()
		<-pingDone
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn("price stream read loop ended", zap.Error(err))
		s.resetConn()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *PriceStream) ensureConnected(ctx context.Context) error {
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	conn, _, err := websocket.Dial(ctx, s.url, nil)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conn = conn
	symbols := make([]string, 0, len(s.subs))
	for sym := range s.subs {
		symbols = append(symbols, sym)
	}
	s.mu.Unlock()
	if len(symbols) == 0 {
		return nil
	}
	return s.sendSubscribe(ctx, conn, symbols)
}

func (s *PriceStream) sendSubscribe(ctx context.Context, conn *websocket.Conn, symbols []string) error {
	params := make([]string, len(symbols))
	for i, sym := range symbols {
		params[i] = streamName(sym)
	}
	s.mu.Lock()
	id := s.nextMsgID()
	s.mu.Unlock()
	return writeJSON(ctx, conn, map[string]any{
		"method": "SUBSCRIBE",
		"params": params,
		"id":     id,
	})
}

func (s *PriceStream) readLoop(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("price stream not connected")
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		s.handleMessage(data)
	}
}

func (s *PriceStream) handleMessage(data []byte) {
	var msg struct {
		Event  string `json:"e"`
		Symbol string `json:"s"`
		Price  string `json:"p"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if msg.Event != "markPriceUpdate" || msg.Symbol == "" {
		return
	}
	price, err := strconv.ParseFloat(msg.Price, 64)
	if err != nil || price <= 0 {
		return
	}
	s.mu.Lock()
	if _, ok := s.subs[msg.Symbol]; ok {
		s.prices[msg.Symbol] = price
	}
	s.mu.Unlock()
}

func (s *PriceStream) pingLoop(ctx context.Context) {
	s.mu.Lock()
	conn := s.conn
	interval := s.pingInterval
	s.mu.Unlock()
	if conn == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				return
			}
		}
	}
}

func (s *PriceStream) resetConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close(websocket.StatusNormalClosure, "reset")
		s.conn = nil
	}
}

func (s *PriceStream) nextMsgID() int64 {
	s.nextID++
	return s.nextID
}

func streamName(symbol string) string {
	return strings.ToLower(symbol) + "@markPrice"
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
