package bitmex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/zsluedem/monkq/internal/domain"
	"github.com/zsluedem/monkq/pkg/exception"
)

// InstrumentPayload /instrument/active 返回的合约信息
type InstrumentPayload struct {
	Symbol      string     `json:"symbol"`
	TickSize    float64    `json:"tickSize"`
	LotSize     float64    `json:"lotSize"`
	MakerFee    float64    `json:"makerFee"`
	TakerFee    float64    `json:"takerFee"`
	InitMargin  float64    `json:"initMargin"`
	MaintMargin float64    `json:"maintMargin"`
	FundingRate float64    `json:"fundingRate"`
	Listing     *time.Time `json:"listing"`
	Expiry      *time.Time `json:"expiry"`
}

// OrderPayload 订单下发/查询载荷
type OrderPayload struct {
	OrderID   string  `json:"orderID,omitempty"`
	ClOrdID   string  `json:"clOrdID,omitempty"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side,omitempty"`
	OrderQty  float64 `json:"orderQty,omitempty"`
	Price     float64 `json:"price,omitempty"`
	StopPx    float64 `json:"stopPx,omitempty"`
	OrdType   string  `json:"ordType,omitempty"`
	OrdStatus string  `json:"ordStatus,omitempty"`
	CumQty    float64 `json:"cumQty,omitempty"`
	LeavesQty float64 `json:"leavesQty,omitempty"`
}

// MarginPayload /user/margin 返回的保证金概要
type MarginPayload struct {
	Account         int64   `json:"account"`
	Currency        string  `json:"currency"`
	WalletBalance   float64 `json:"walletBalance"`
	AvailableMargin float64 `json:"availableMargin"`
	InitMargin      float64 `json:"initMargin"`
	MaintMargin     float64 `json:"maintMargin"`
	UnrealisedPnl   float64 `json:"unrealisedPnl"`
}

// Instruments 拉取活跃合约并转换为领域模型
func (g *Gateway) Instruments(ctx context.Context) ([]*domain.Instrument, error) {
	raw, err := g.Call(ctx, http.MethodGet, "/instrument/active", nil, nil, CallOptions{MaxRetries: -1})
	if err != nil {
		return nil, err
	}

	var payloads []InstrumentPayload
	if err := json.Unmarshal(raw, &payloads); err != nil {
		return nil, errors.Wrap(err, "解析合约列表失败")
	}

	out := make([]*domain.Instrument, 0, len(payloads))
	for _, p := range payloads {
		inst := &domain.Instrument{
			Symbol:          p.Symbol,
			TickSize:        p.TickSize,
			LotSize:         p.LotSize,
			MakerFee:        p.MakerFee,
			TakerFee:        p.TakerFee,
			InitMarginRate:  p.InitMargin,
			MaintMarginRate: p.MaintMargin,
			FundingRate:     p.FundingRate,
		}
		if p.Listing != nil {
			inst.ListingDate = *p.Listing
		}
		if p.Expiry != nil {
			inst.ExpiryDate = *p.Expiry
		}
		out = append(out, inst)
	}
	return out, nil
}

// PlaceOrder 下单。POST 默认零重试；需要重试的调用方必须显式抬高预算。
func (g *Gateway) PlaceOrder(ctx context.Context, req OrderPayload) (*OrderPayload, error) {
	raw, err := g.Call(ctx, http.MethodPost, "/order", nil, req, CallOptions{MaxRetries: -1})
	if err != nil {
		return nil, err
	}
	var out OrderPayload
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(err, "解析下单响应失败")
	}
	return &out, nil
}

// CancelOrder 撤单。DELETE 的 404 表示订单已不在，转换为已撤处理。
func (g *Gateway) CancelOrder(ctx context.Context, orderID string) error {
	query := url.Values{}
	query.Set("orderID", orderID)
	_, err := g.Call(ctx, http.MethodDelete, "/order", query, nil, CallOptions{MaxRetries: -1})
	if errors.Is(err, exception.ErrNotFound) {
		// 已撤或已成交
		return nil
	}
	return err
}

// OpenOrders 查询当前全部未完结订单
func (g *Gateway) OpenOrders(ctx context.Context) ([]OrderPayload, error) {
	query := url.Values{}
	query.Set("filter", `{"open": true}`)
	raw, err := g.Call(ctx, http.MethodGet, "/order", query, nil, CallOptions{MaxRetries: -1})
	if err != nil {
		return nil, err
	}
	var out []OrderPayload
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(err, "解析订单列表失败")
	}
	return out, nil
}

// SetLeverage 设置某合约的杠杆（0 表示全仓）
func (g *Gateway) SetLeverage(ctx context.Context, symbol string, leverage float64) error {
	body := map[string]interface{}{
		"symbol":   symbol,
		"leverage": leverage,
	}
	_, err := g.Call(ctx, http.MethodPost, "/position/leverage", nil, body, CallOptions{MaxRetries: -1})
	return err
}

// Margin 查询账户保证金概要
func (g *Gateway) Margin(ctx context.Context) (*MarginPayload, error) {
	raw, err := g.Call(ctx, http.MethodGet, "/user/margin", nil, nil, CallOptions{MaxRetries: -1})
	if err != nil {
		return nil, err
	}
	var out MarginPayload
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(err, "解析保证金失败")
	}
	return &out, nil
}
