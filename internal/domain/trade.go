package domain

import (
	"math"
	"time"
)

// Trade 一次实际的成交执行，由撮合调度器创建，创建后不可变。
// Order 是订单（可能未成交），Trade 是成交（已执行）。
type Trade struct {
	Order    *Order    // 所属订单
	Price    float64   // 成交价格
	Quantity float64   // 成交数量（带符号，符号即方向）
	TradeID  string    // 唯一成交 ID
	Time     time.Time // 成交时间
}

// NewTrade 创建成交记录
func NewTrade(order *Order, price, quantity float64, tradeID string, t time.Time) *Trade {
	return &Trade{
		Order:    order,
		Price:    price,
		Quantity: quantity,
		TradeID:  tradeID,
		Time:     t,
	}
}

// Value 成交金额（绝对值）
func (t *Trade) Value() float64 {
	return math.Abs(t.Price * t.Quantity)
}

// Commission 手续费 = |price * quantity| * taker 费率
func (t *Trade) Commission() float64 {
	return t.Value() * t.Order.Instrument.TakerFee
}
