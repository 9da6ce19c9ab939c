package domain

import (
	"math"
	"time"

	"github.com/zsluedem/monkq/pkg/exception"
)

// OrderKind 订单种类标签。行为（保证金、成交价）通过按标签分派的
// 函数实现，不做类型层级。
type OrderKind string

const (
	OrderKindMarket OrderKind = "market"
	OrderKindLimit  OrderKind = "limit"
	OrderKindStop   OrderKind = "stop"
)

// OrderStatus 订单状态，完全由 quantity 与 traded_quantity 推导，绝不冗余存储
type OrderStatus string

const (
	OrderStatusNotTraded    OrderStatus = "not_traded"
	OrderStatusPartlyTraded OrderStatus = "partly_traded"
	OrderStatusFullyTraded  OrderStatus = "fully_traded"
)

// Order 订单领域模型。
// 不变量: |TradedQuantity| <= |Quantity|，违反即致命缺陷而非可恢复错误。
type Order struct {
	Account    *Account    // 所属账户
	Instrument *Instrument // 合约
	OrderID    string      // 订单 ID
	Kind       OrderKind   // 订单种类
	Quantity   float64     // 订单数量（带符号，符号即方向）
	Traded     float64     // 已成交数量（带符号累计）
	Price      float64     // 限价（limit/stop limit，可选）
	StopPrice  float64     // 触发价（stop，可选）
	Trades     []*Trade    // 已应用的成交列表
	SubmitTime time.Time   // 提交时间
}

// Status 订单状态：quantity 与 traded 的纯函数
func (o *Order) Status() OrderStatus {
	switch {
	case o.Traded == 0:
		return OrderStatusNotTraded
	case math.Abs(o.Traded) < math.Abs(o.Quantity):
		return OrderStatusPartlyTraded
	default:
		return OrderStatusFullyTraded
	}
}

// Remaining 剩余未成交数量（带符号）
func (o *Order) Remaining() float64 {
	return o.Quantity - o.Traded
}

// Deal 应用一笔成交：校验该成交未曾应用过、且应用后不会超过订单数量，
// 然后累计已成交数量、记录成交，并把同一笔成交传导给所属仓位。
// 校验失败说明调度器出了缺陷，直接以不变量错误终止，绝不带着脏状态继续。
func (o *Order) Deal(trade *Trade) {
	for _, t := range o.Trades {
		if t.TradeID == trade.TradeID {
			exception.Impossible("order %s: trade %s applied twice", o.OrderID, trade.TradeID)
		}
	}
	if math.Abs(o.Traded+trade.Quantity) > math.Abs(o.Quantity) {
		exception.Impossible("order %s: fill %v would exceed order quantity %v (traded %v)",
			o.OrderID, trade.Quantity, o.Quantity, o.Traded)
	}

	o.Traded += trade.Quantity
	o.Trades = append(o.Trades, trade)

	o.Account.Deal(trade)
}

// FillPrice 按种类标签决定成交价：市价单吃当前最新价，
// 限价单按自身限价立即全额成交（回测简化模型，不模拟部分成交与滑点）。
func (o *Order) FillPrice(lastPrice float64) float64 {
	switch o.Kind {
	case OrderKindLimit:
		return o.Price
	case OrderKindStop:
		if o.Price != 0 {
			return o.Price
		}
		return lastPrice
	default:
		return lastPrice
	}
}

// IsBuy 按符号判断方向
func (o *Order) IsBuy() bool {
	return o.Quantity > 0
}
