package connectors

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	logger "github.com/sirupsen/logrus"
)

// Binance error codes that do not mean the request itself is bad.
const (
	binanceCodeUnknown      = -1000
	binanceCodeDisconnected = -1001
	binanceCodeTooManyReqs  = -1003
	binanceCodeTimeout      = -1007
	binanceCodeUnknownOrder = -2011
	binanceCodeNoSuchOrder  = -2013
)

// BinanceConnector drives one Binance USDT-M futures account.
type BinanceConnector struct {
	client     *futures.Client
	precisions map[string]int
}

func NewBinanceConnector(apiKey, apiSecret string) *BinanceConnector {
	return &BinanceConnector{
		client:     binance.NewFuturesClient(apiKey, apiSecret),
		precisions: defaultPricePrecisions(),
	}
}

// translateError maps a go-binance error into the adapter taxonomy:
// not-found sentinels, persistent RejectionError or passthrough (transient).
func translateBinanceError(err error) error {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	switch apiErr.Code {
	case binanceCodeUnknownOrder, binanceCodeNoSuchOrder:
		return ErrOrderNotFound
	case binanceCodeUnknown, binanceCodeDisconnected, binanceCodeTooManyReqs, binanceCodeTimeout:
		return err
	}

	return &RejectionError{Code: int(apiErr.Code), Reason: apiErr.Message}
}

func binanceOrderStatus(status futures.OrderStatusType) OrderStatus {
	switch status {
	case futures.OrderStatusTypeFilled:
		return OrderStatusFilled
	case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeExpired, futures.OrderStatusTypeRejected:
		return OrderStatusCancelled
	default:
		return OrderStatusPending
	}
}

func (c *BinanceConnector) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderState, error) {
	logger.WithFields(map[string]interface{}{
		"connector": "binance",
		"symbol":    req.Symbol,
		"side":      req.Side,
		"type":      req.Type,
		"qty":       req.Quantity,
		"client_id": req.ClientOrderID,
	}).Debug("Placing order")

	svc := c.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderType(req.Type)).
		NewClientOrderID(req.ClientOrderID)

	if req.Quantity > 0 {
		svc = svc.Quantity(strconv.FormatFloat(req.Quantity, 'f', -1, 64))
	}
	if req.StopPrice > 0 {
		svc = svc.StopPrice(strconv.FormatFloat(req.StopPrice, 'f', -1, 64))
	}
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, translateBinanceError(err)
	}

	avg, _ := strconv.ParseFloat(res.AvgPrice, 64)
	filled, _ := strconv.ParseFloat(res.ExecutedQuantity, 64)

	return &OrderState{
		Ticket:    strconv.FormatInt(res.OrderID, 10),
		Status:    binanceOrderStatus(res.Status),
		AvgPrice:  avg,
		FilledQty: filled,
	}, nil
}

func (c *BinanceConnector) GetOrderStatus(ctx context.Context, symbol, ticket string) (*OrderState, error) {
	orderID, err := strconv.ParseInt(ticket, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid binance ticket %q: %w", ticket, err)
	}

	order, err := c.client.NewGetOrderService().
		Symbol(symbol).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		return nil, translateBinanceError(err)
	}

	return binanceOrderState(order), nil
}

func (c *BinanceConnector) GetOrderByClientID(ctx context.Context, symbol, clientOrderID string) (*OrderState, error) {
	order, err := c.client.NewGetOrderService().
		Symbol(symbol).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return nil, translateBinanceError(err)
	}

	return binanceOrderState(order), nil
}

func binanceOrderState(order *futures.Order) *OrderState {
	avg, _ := strconv.ParseFloat(order.AvgPrice, 64)
	filled, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)

	return &OrderState{
		Ticket:    strconv.FormatInt(order.OrderID, 10),
		Status:    binanceOrderStatus(order.Status),
		AvgPrice:  avg,
		FilledQty: filled,
	}
}

func (c *BinanceConnector) CancelOrder(ctx context.Context, symbol, ticket string) error {
	orderID, err := strconv.ParseInt(ticket, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid binance ticket %q: %w", ticket, err)
	}

	_, err = c.client.NewCancelOrderService().
		Symbol(symbol).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		return translateBinanceError(err)
	}

	return nil
}

func (c *BinanceConnector) GetPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := c.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, translateBinanceError(err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("no price returned for %s", symbol)
	}

	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable price %q for %s: %w", prices[0].Price, symbol, err)
	}

	return price, nil
}

func (c *BinanceConnector) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage <= 0 {
		return nil
	}

	_, err := c.client.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		return translateBinanceError(err)
	}

	return nil
}

func (c *BinanceConnector) PricePrecision(symbol string) *int {
	if p, ok := c.precisions[symbol]; ok {
		return &p
	}
	return nil
}
