package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Instrument 合约静态信息，加载后只读
type Instrument struct {
	Symbol          string    // 合约代码，例如 XBTUSD
	TickSize        float64   // 最小报价单位
	LotSize         float64   // 最小下单单位
	MakerFee        float64   // maker 费率（负数表示返佣）
	TakerFee        float64   // taker 费率
	InitMarginRate  float64   // 起始保证金率
	MaintMarginRate float64   // 维持保证金率
	FundingRate     float64   // 当前资金费率（永续合约，带符号）
	ListingDate     time.Time // 上市时间
	ExpiryDate      time.Time // 到期时间（永续为零值）
}

// RoundPrice 把价格对齐到 tick size（向下取整，避免越过对手价）。
// 用 decimal 计算，避免浮点残差把 10.00 取成 9.99。
func (i *Instrument) RoundPrice(price float64) float64 {
	if i.TickSize <= 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	tick := decimal.NewFromFloat(i.TickSize)
	f, _ := p.Div(tick).Floor().Mul(tick).Float64()
	return f
}

// RoundLot 把数量对齐到 lot size（绝对值向下取整，保留方向）
func (i *Instrument) RoundLot(quantity float64) float64 {
	if i.LotSize <= 0 {
		return quantity
	}
	q := decimal.NewFromFloat(quantity)
	lot := decimal.NewFromFloat(i.LotSize)
	neg := q.IsNegative()
	f, _ := q.Abs().Div(lot).Floor().Mul(lot).Float64()
	if neg {
		return -f
	}
	return f
}

// IsPerpetual 是否为永续合约
func (i *Instrument) IsPerpetual() bool {
	return i.ExpiryDate.IsZero()
}
