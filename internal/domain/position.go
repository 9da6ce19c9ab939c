package domain

import (
	"math"
)

// Position 仓位领域模型。
// Quantity 带符号，符号即方向；符号翻转只能经由明确的 flip 转移，
// 开仓价只在 open 与 flip 时重置为成交价，同向加仓时做加权平均。
type Position struct {
	Account    *Account    // 所属账户
	Instrument *Instrument // 合约
	Quantity   float64     // 持仓数量（带符号）
	OpenPrice  float64     // 平均开仓价
	Leverage   float64     // 杠杆倍数
	Isolated   bool        // 是否逐仓
}

// Deal 应用一笔成交，按当前持仓与成交数量的符号/大小关系走五种转移之一，
// 返回本次实现的已实现盈亏（减仓/平仓/翻转时非零）。
func (p *Position) Deal(price, quantity float64) float64 {
	cur := p.Quantity

	switch {
	case cur == 0:
		// 开仓：开仓价即成交价
		p.OpenPrice = price
		p.Quantity = quantity
		return 0

	case cur*quantity > 0:
		// 同向加仓：开仓价加权平均
		p.OpenPrice = (p.OpenPrice*cur + price*quantity) / (cur + quantity)
		p.Quantity = cur + quantity
		return 0

	case math.Abs(cur) > math.Abs(quantity):
		// 反向减仓（未过零）：开仓价不变
		p.Quantity = cur + quantity
		return (price - p.OpenPrice) * (-quantity)

	case math.Abs(cur) == math.Abs(quantity):
		// 精确平仓：数量与开仓价同时归零
		pnl := (price - p.OpenPrice) * cur
		p.Quantity = 0
		p.OpenPrice = 0
		return pnl

	default:
		// 减仓并翻转：越过零到反方向，开仓价重置为成交价（不加权）
		pnl := (price - p.OpenPrice) * cur
		p.Quantity = cur + quantity
		p.OpenPrice = price
		return pnl
	}
}

// OrderMargin 候选委托占用的保证金。
// 开仓/加仓按委托价值除以杠杆再乘 (1 + 起始保证金率 + taker 费率)；
// 纯减仓/平仓不占用保证金（开仓占用、平仓释放的不对称必须保持）；
// 翻转只对越过零之后新开的部分计保证金。
func (p *Position) OrderMargin(price, quantity float64) float64 {
	openFactor := 1 + p.Instrument.InitMarginRate + p.Instrument.TakerFee
	cur := p.Quantity

	switch {
	case cur == 0 || cur*quantity > 0:
		return math.Abs(price*quantity) / p.Leverage * openFactor
	case math.Abs(quantity) <= math.Abs(cur):
		return 0
	default:
		excess := math.Abs(quantity) - math.Abs(cur)
		return math.Abs(price) * excess / p.Leverage * openFactor
	}
}

// Margin 当前仓位占用的保证金
func (p *Position) Margin() float64 {
	if p.Quantity == 0 {
		return 0
	}
	return math.Abs(p.Quantity) * p.OpenPrice / p.Leverage
}

// LiqPrice 强平价。四个公式按 {逐仓,全仓} × {多,空} 选择；
// 资金费率只在对仓位方向不利时计入（正费率伤多头、负费率伤空头），
// 有利方向的费率在公式里取零。
func (p *Position) LiqPrice() float64 {
	if p.Quantity == 0 {
		return 0
	}

	maint := p.Instrument.MaintMarginRate
	funding := p.Instrument.FundingRate
	long := p.Quantity > 0

	// 不利方向的资金费率
	var adverse float64
	if long {
		adverse = math.Max(funding, 0)
	} else {
		adverse = math.Max(-funding, 0)
	}
	mt := maint + adverse

	if p.Isolated {
		if long {
			return p.OpenPrice / (1 + 1/p.Leverage - mt)
		}
		return p.OpenPrice / (1 - 1/p.Leverage + mt)
	}
	// 全仓：钱包整体以 1x 背书
	if long {
		return p.OpenPrice / (2 - mt)
	}
	return p.OpenPrice / mt
}

// IsLong 是否为多头仓位
func (p *Position) IsLong() bool {
	return p.Quantity > 0
}
