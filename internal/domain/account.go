package domain

import (
	"sync"
)

// Account 账户领域模型：钱包余额 + 按合约惰性创建的仓位。
// 仓位首次访问时以零数量创建，之后永不缺席；全平只把数量归零，不删除。
//
// 所有变更（Deal）与保证金计算都在 mu 下串行；并发读取方
// （状态接口等）必须走 Balances / PositionViews 快照，
// 直接读字段只允许在单 goroutine 场景（回测、测试）。
type Account struct {
	WalletBalance float64 // 只在 mu 下写入

	mu        sync.Mutex
	positions map[string]*Position // symbol -> 仓位

	defaultLeverage float64
	defaultIsolated bool
}

// NewAccount 创建账户
func NewAccount(walletBalance, defaultLeverage float64, defaultIsolated bool) *Account {
	if defaultLeverage <= 0 {
		defaultLeverage = 1
	}
	return &Account{
		WalletBalance:   walletBalance,
		positions:       make(map[string]*Position),
		defaultLeverage: defaultLeverage,
		defaultIsolated: defaultIsolated,
	}
}

// Position 返回该合约的仓位，不存在时显式创建零仓位（绝不隐式缺省容器）
func (a *Account) Position(inst *Instrument) *Position {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.position(inst)
}

// position 调用方必须已持有 a.mu
func (a *Account) position(inst *Instrument) *Position {
	pos, ok := a.positions[inst.Symbol]
	if !ok {
		pos = &Position{
			Account:    a,
			Instrument: inst,
			Leverage:   a.defaultLeverage,
			Isolated:   a.defaultIsolated,
		}
		a.positions[inst.Symbol] = pos
	}
	return pos
}

// Positions 返回当前全部仓位的快照（报表与状态接口用）
func (a *Account) Positions() []*Position {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]*Position, 0, len(a.positions))
	for _, p := range a.positions {
		out = append(out, p)
	}
	return out
}

// Deal 把一笔成交记入账户：仓位走五种转移，钱包入已实现盈亏、出手续费。
// 仓位变更与钱包写入在同一把锁下完成。
func (a *Account) Deal(trade *Trade) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pos := a.position(trade.Order.Instrument)
	pnl := pos.Deal(trade.Price, trade.Quantity)
	a.WalletBalance += pnl - trade.Commission()
}

// OrderMargin 候选订单相对当前仓位的保证金需求
func (a *Account) OrderMargin(order *Order, lastPrice float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	pos := a.position(order.Instrument)
	return pos.OrderMargin(order.FillPrice(lastPrice), order.Remaining())
}

// Wallet 钱包余额的串行化读取
func (a *Account) Wallet() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.WalletBalance
}

// Balances 同一把锁下读取钱包余额与可用余额
func (a *Account) Balances() (wallet, available float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	wallet = a.WalletBalance
	available = wallet
	for _, p := range a.positions {
		available -= p.Margin()
	}
	return wallet, available
}

// AvailableBalance 可用余额 = 钱包余额 - 各仓位占用保证金
func (a *Account) AvailableBalance() float64 {
	_, available := a.Balances()
	return available
}

// PositionView 仓位在某一时刻的只读快照，并发读取方用它代替活指针
type PositionView struct {
	Symbol    string
	Quantity  float64
	OpenPrice float64
	Leverage  float64
	Isolated  bool
	Margin    float64
	LiqPrice  float64
}

// PositionViews 在账户锁内构建全部仓位的快照
func (a *Account) PositionViews() []PositionView {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]PositionView, 0, len(a.positions))
	for _, p := range a.positions {
		out = append(out, PositionView{
			Symbol:    p.Instrument.Symbol,
			Quantity:  p.Quantity,
			OpenPrice: p.OpenPrice,
			Leverage:  p.Leverage,
			Isolated:  p.Isolated,
			Margin:    p.Margin(),
			LiqPrice:  p.LiqPrice(),
		})
	}
	return out
}
