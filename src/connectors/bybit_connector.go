// REST client for Bybit v5 linear perpetuals.
// RESTY ONLY + INTERNAL RETRY
package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
)

const (
	defaultRetryAttempts   = 5
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxBackoff = 8 * time.Second

	bybitRecvWindow = "5000"
)

// bybitResponse is the envelope every v5 endpoint answers with.
type bybitResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// Bybit retCodes that do not condemn the request itself.
const (
	bybitCodeTimeout       = 10000
	bybitCodeSystemBusy    = 10016
	bybitCodeRateLimited   = 10006
	bybitCodeOrderNotFound = 110001
)

// BybitConnector drives one Bybit linear (USDT) derivatives account.
type BybitConnector struct {
	apiKey     string
	apiSecret  string
	http       *resty.Client
	precisions map[string]int
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}

	code := r.StatusCode()
	if code >= 500 && code <= 599 {
		return true
	}
	if code == 429 || code == 408 {
		return true
	}
	return false
}

func NewBybitConnector(apiKey, apiSecret, baseURL string) *BybitConnector {
	if baseURL == "" {
		baseURL = "https://api.bybit.com"
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(defaultRetryAttempts - 1).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	return &BybitConnector{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		http:       httpClient,
		precisions: defaultPricePrecisions(),
	}
}

// signPayload implements the v5 signature: HMAC-SHA256 over
// timestamp + apiKey + recvWindow + (query or JSON body).
func (c *BybitConnector) signPayload(timestamp, payload string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(timestamp + c.apiKey + bybitRecvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *BybitConnector) doRequest(ctx context.Context, method, path, query string, body []byte) (*bybitResponse, error) {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	payload := query
	if body != nil {
		payload = string(body)
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeader("X-BAPI-API-KEY", c.apiKey).
		SetHeader("X-BAPI-TIMESTAMP", timestamp).
		SetHeader("X-BAPI-RECV-WINDOW", bybitRecvWindow).
		SetHeader("X-BAPI-SIGN", c.signPayload(timestamp, payload))

	if query != "" {
		req = req.SetQueryString(query)
	}
	if body != nil {
		req = req.SetBody(body).SetHeader("Content-Type", "application/json")
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, err
	}

	raw := resp.Body()
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode(), string(raw))
	}

	var apiResp bybitResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return nil, err
	}

	return &apiResp, nil
}

// checkRetCode maps a non-zero retCode into the adapter error taxonomy.
func checkRetCode(resp *bybitResponse) error {
	switch resp.RetCode {
	case 0:
		return nil
	case bybitCodeOrderNotFound:
		return ErrOrderNotFound
	case bybitCodeTimeout, bybitCodeSystemBusy, bybitCodeRateLimited:
		return fmt.Errorf("bybit busy (retCode %d): %s", resp.RetCode, resp.RetMsg)
	default:
		return &RejectionError{Code: resp.RetCode, Reason: resp.RetMsg}
	}
}

type bybitOrderResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

type bybitOrderList struct {
	List []struct {
		OrderID     string `json:"orderId"`
		OrderStatus string `json:"orderStatus"`
		AvgPrice    string `json:"avgPrice"`
		CumExecQty  string `json:"cumExecQty"`
	} `json:"list"`
}

func bybitOrderStatus(status string) OrderStatus {
	switch status {
	case "Filled":
		return OrderStatusFilled
	case "Cancelled", "Rejected", "Deactivated":
		return OrderStatusCancelled
	default:
		return OrderStatusPending
	}
}

func (c *BybitConnector) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderState, error) {
	logger.WithFields(map[string]interface{}{
		"connector": "bybit",
		"symbol":    req.Symbol,
		"side":      req.Side,
		"type":      req.Type,
		"client_id": req.ClientOrderID,
	}).Debug("Placing order")

	side := "Buy"
	if req.Side == SideSell {
		side = "Sell"
	}

	body := map[string]interface{}{
		"category":    "linear",
		"symbol":      req.Symbol,
		"side":        side,
		"orderType":   "Market",
		"qty":         strconv.FormatFloat(req.Quantity, 'f', -1, 64),
		"orderLinkId": req.ClientOrderID,
	}
	if req.Type != OrderTypeMarket {
		// conditional market order triggered at the stop price
		body["triggerPrice"] = strconv.FormatFloat(req.StopPrice, 'f', -1, 64)
		body["triggerBy"] = "MarkPrice"
	}
	if req.ReduceOnly {
		body["reduceOnly"] = true
	}

	b, _ := json.Marshal(body)

	resp, err := c.doRequest(ctx, "POST", "/v5/order/create", "", b)
	if err != nil {
		return nil, err
	}
	if err := checkRetCode(resp); err != nil {
		return nil, err
	}

	var result bybitOrderResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, err
	}

	// creation ack carries no fill data; the caller confirms via lookup
	return &OrderState{Ticket: result.OrderID, Status: OrderStatusPending}, nil
}

func (c *BybitConnector) getOrder(ctx context.Context, query string) (*OrderState, error) {
	resp, err := c.doRequest(ctx, "GET", "/v5/order/realtime", query, nil)
	if err != nil {
		return nil, err
	}
	if err := checkRetCode(resp); err != nil {
		return nil, err
	}

	var result bybitOrderList
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, err
	}
	if len(result.List) == 0 {
		return nil, ErrOrderNotFound
	}

	entry := result.List[0]
	avg, _ := strconv.ParseFloat(entry.AvgPrice, 64)
	filled, _ := strconv.ParseFloat(entry.CumExecQty, 64)

	return &OrderState{
		Ticket:    entry.OrderID,
		Status:    bybitOrderStatus(entry.OrderStatus),
		AvgPrice:  avg,
		FilledQty: filled,
	}, nil
}

func (c *BybitConnector) GetOrderStatus(ctx context.Context, symbol, ticket string) (*OrderState, error) {
	return c.getOrder(ctx, "category=linear&symbol="+symbol+"&orderId="+ticket)
}

func (c *BybitConnector) GetOrderByClientID(ctx context.Context, symbol, clientOrderID string) (*OrderState, error) {
	return c.getOrder(ctx, "category=linear&symbol="+symbol+"&orderLinkId="+clientOrderID)
}

func (c *BybitConnector) CancelOrder(ctx context.Context, symbol, ticket string) error {
	body, _ := json.Marshal(map[string]interface{}{
		"category": "linear",
		"symbol":   symbol,
		"orderId":  ticket,
	})

	resp, err := c.doRequest(ctx, "POST", "/v5/order/cancel", "", body)
	if err != nil {
		return err
	}

	return checkRetCode(resp)
}

func (c *BybitConnector) GetPrice(ctx context.Context, symbol string) (float64, error) {
	resp, err := c.doRequest(ctx, "GET", "/v5/market/tickers", "category=linear&symbol="+symbol, nil)
	if err != nil {
		return 0, err
	}
	if err := checkRetCode(resp); err != nil {
		return 0, err
	}

	var result struct {
		List []struct {
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return 0, err
	}
	if len(result.List) == 0 {
		return 0, fmt.Errorf("no ticker returned for %s", symbol)
	}

	price, err := strconv.ParseFloat(result.List[0].LastPrice, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable price %q for %s: %w", result.List[0].LastPrice, symbol, err)
	}

	return price, nil
}

func (c *BybitConnector) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage <= 0 {
		return nil
	}

	lv := strconv.Itoa(leverage)
	body, _ := json.Marshal(map[string]interface{}{
		"category":     "linear",
		"symbol":       symbol,
		"buyLeverage":  lv,
		"sellLeverage": lv,
	})

	resp, err := c.doRequest(ctx, "POST", "/v5/position/set-leverage", "", body)
	if err != nil {
		return err
	}

	err = checkRetCode(resp)
	// 110043: leverage not modified, already at the requested value
	if err != nil && resp.RetCode == 110043 {
		return nil
	}
	return err
}

func (c *BybitConnector) PricePrecision(symbol string) *int {
	if p, ok := c.precisions[symbol]; ok {
		return &p
	}
	return nil
}
