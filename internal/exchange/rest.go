package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// RESTClient signs and sends futures REST calls. Paths follow the
// USD-M futures API layout; signing is HMAC-SHA256 over the query
// string with a millisecond timestamp.
type RESTClient struct {
	baseURL   string
	apiKey    string
	apiSecret string
	http      *http.Client
	log       *zap.Logger
}

func NewREST(baseURL, apiKey, apiSecret string, timeout time.Duration, log *zap.Logger) *RESTClient {
	return &RESTClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiSecret: apiSecret,
		http:      &http.Client{Timeout: timeout},
		log:       log,
	}
}

func (c *RESTClient) PlaceMarketOrder(ctx context.Context, symbol string, side Side, quantity float64) (string, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", "MARKET")
	params.Set("quantity", strconv.FormatFloat(quantity, 'f', -1, 64))
	var resp struct {
		OrderID int64 `json:"orderId"`
	}
	if err := c.signed(ctx, http.MethodPost, "/fapi/v1/order", params, &resp); err != nil {
		return "", err
	}
	if resp.OrderID == 0 {
		return "", fmt.Errorf("order response missing order id for %s", symbol)
	}
	return strconv.FormatInt(resp.OrderID, 10), nil
}

func (c *RESTClient) GetOrder(ctx context.Context, symbol, orderID string) (Fill, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	var resp struct {
		OrderID     int64  `json:"orderId"`
		Side        string `json:"side"`
		Status      string `json:"status"`
		ExecutedQty string `json:"executedQty"`
		AvgPrice    string `json:"avgPrice"`
	}
	if err := c.signed(ctx, http.MethodGet, "/fapi/v1/order", params, &resp); err != nil {
		return Fill{}, err
	}
	qty, _ := strconv.ParseFloat(resp.ExecutedQty, 64)
	avg, _ := strconv.ParseFloat(resp.AvgPrice, 64)
	return Fill{
		OrderID:     strconv.FormatInt(resp.OrderID, 10),
		Symbol:      symbol,
		Side:        Side(resp.Side),
		ExecutedQty: qty,
		AvgPrice:    avg,
		Status:      resp.Status,
	}, nil
}

func (c *RESTClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	var resp struct {
		Leverage int `json:"leverage"`
	}
	if err := c.signed(ctx, http.MethodPost, "/fapi/v1/leverage", params, &resp); err != nil {
		return err
	}
	if resp.Leverage != leverage {
		return fmt.Errorf("leverage for %s set to %d, wanted %d", symbol, resp.Leverage, leverage)
	}
	return nil
}

func (c *RESTClient) PositionRisk(ctx context.Context, symbol string) (PositionRisk, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	var resp []struct {
		Symbol      string `json:"symbol"`
		PositionAmt string `json:"positionAmt"`
		EntryPrice  string `json:"entryPrice"`
		MarkPrice   string `json:"markPrice"`
		Leverage    string `json:"leverage"`
	}
	if err := c.signed(ctx, http.MethodGet, "/fapi/v2/positionRisk", params, &resp); err != nil {
		return PositionRisk{}, err
	}
	for _, p := range resp {
		if p.Symbol != symbol {
			continue
		}
		amt, _ := strconv.ParseFloat(p.PositionAmt, 64)
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(p.MarkPrice, 64)
		lev, _ := strconv.Atoi(p.Leverage)
		return PositionRisk{Symbol: symbol, PositionAmt: amt, EntryPrice: entry, MarkPrice: mark, Leverage: lev}, nil
	}
	return PositionRisk{Symbol: symbol}, nil
}

func (c *RESTClient) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	var resp struct {
		MarkPrice string `json:"markPrice"`
	}
	if err := c.public(ctx, "/fapi/v1/premiumIndex", params, &resp); err != nil {
		return 0, err
	}
	price, err := strconv.ParseFloat(resp.MarkPrice, 64)
	if err != nil {
		return 0, fmt.Errorf("bad mark price %q for %s: %w", resp.MarkPrice, symbol, err)
	}
	return price, nil
}

func (c *RESTClient) Balance(ctx context.Context, asset string) (float64, error) {
	var resp []struct {
		Asset     string `json:"asset"`
		Available string `json:"availableBalance"`
	}
	if err := c.signed(ctx, http.MethodGet, "/fapi/v2/balance", url.Values{}, &resp); err != nil {
		return 0, err
	}
	for _, b := range resp {
		if b.Asset == asset {
			avail, _ := strconv.ParseFloat(b.Available, 64)
			return avail, nil
		}
	}
	return 0, nil
}

// FetchRules pulls the full symbol rule table from exchangeInfo.
// Called once at startup; the table is read-mostly afterwards.
func (c *RESTClient) FetchRules(ctx context.Context) (*Rules, error) {
	var resp struct {
		Symbols []struct {
			Symbol            string `json:"symbol"`
			QuantityPrecision int    `json:"quantityPrecision"`
			PricePrecision    int    `json:"pricePrecision"`
			Filters           []struct {
				FilterType  string `json:"filterType"`
				MinQty      string `json:"minQty"`
				MinNotional string `json:"notional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := c.public(ctx, "/fapi/v1/exchangeInfo", url.Values{}, &resp); err != nil {
		return nil, err
	}
	rules := NewRules()
	for _, s := range resp.Symbols {
		rule := SymbolRule{
			Symbol:            s.Symbol,
			QuantityPrecision: s.QuantityPrecision,
			PricePrecision:    s.PricePrecision,
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				rule.MinQty, _ = strconv.ParseFloat(f.MinQty, 64)
			case "MIN_NOTIONAL":
				rule.MinNotional, _ = strconv.ParseFloat(f.MinNotional, 64)
			}
		}
		rules.Put(rule)
	}
	return rules, nil
}

func (c *RESTClient) public(ctx context.Context, path string, params url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, params.Encode(), out)
}

func (c *RESTClient) signed(ctx context.Context, method, path string, params url.Values, out any) error {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	query := params.Encode()
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(query))
	query += "&signature=" + hex.EncodeToString(mac.Sum(nil))
	return c.do(ctx, method, path, query, out)
}

func (c *RESTClient) do(ctx context.Context, method, path, query string, out any) error {
	fullURL := c.baseURL + path
	if query != "" {
		fullURL += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("exchange http %d on %s: %s", resp.StatusCode, path, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
