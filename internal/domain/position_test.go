package domain

import (
	"math"
	"testing"
	"testing/quick"
)

func testInstrument() *Instrument {
	return &Instrument{
		Symbol:          "XBTUSD",
		TickSize:        0.5,
		LotSize:         1,
		TakerFee:        0.00075,
		InitMarginRate:  0.01,
		MaintMarginRate: 0.005,
	}
}

func newTestPosition(leverage float64, isolated bool) *Position {
	return &Position{
		Instrument: testInstrument(),
		Leverage:   leverage,
		Isolated:   isolated,
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// TestPositionOpen 零仓开仓：开仓价即成交价
func TestPositionOpen(t *testing.T) {
	p := newTestPosition(10, true)

	pnl := p.Deal(10, 100)
	if pnl != 0 {
		t.Errorf("开仓不应产生已实现盈亏，实际为 %v", pnl)
	}
	if p.Quantity != 100 || p.OpenPrice != 10 {
		t.Errorf("开仓后应为 100@10，实际为 %v@%v", p.Quantity, p.OpenPrice)
	}
}

// TestPositionAddBlend 同向加仓：开仓价加权平均
func TestPositionAddBlend(t *testing.T) {
	p := newTestPosition(10, true)
	p.Deal(10, 100)

	pnl := p.Deal(13, 50)
	if pnl != 0 {
		t.Errorf("加仓不应产生已实现盈亏，实际为 %v", pnl)
	}
	if p.Quantity != 150 {
		t.Errorf("加仓后数量应为 150，实际为 %v", p.Quantity)
	}
	if !almostEqual(p.OpenPrice, 11.0) {
		t.Errorf("加权开仓价应为 11.0，实际为 %v", p.OpenPrice)
	}
}

// TestPositionReduce 反向减仓（未过零）：开仓价不变，盈亏按减掉的部分实现
func TestPositionReduce(t *testing.T) {
	p := newTestPosition(10, true)
	p.Deal(10, 100)

	pnl := p.Deal(12, -30)
	if !almostEqual(pnl, 60) {
		t.Errorf("减仓盈亏应为 (12-10)*30=60，实际为 %v", pnl)
	}
	if p.Quantity != 70 || p.OpenPrice != 10 {
		t.Errorf("减仓后应为 70@10，实际为 %v@%v", p.Quantity, p.OpenPrice)
	}
}

// TestPositionClose 精确平仓：数量与开仓价同时归零
func TestPositionClose(t *testing.T) {
	p := newTestPosition(10, true)
	p.Deal(10, 100)

	pnl := p.Deal(11, -100)
	if !almostEqual(pnl, 100) {
		t.Errorf("平仓盈亏应为 (11-10)*100=100，实际为 %v", pnl)
	}
	if p.Quantity != 0 || p.OpenPrice != 0 {
		t.Errorf("平仓后数量与开仓价都应归零，实际为 %v@%v", p.Quantity, p.OpenPrice)
	}
}

// TestPositionFlip 翻转：越过零到反方向，开仓价重置为成交价
func TestPositionFlip(t *testing.T) {
	p := newTestPosition(10, true)
	p.Deal(10, 100)

	pnl := p.Deal(11, -300)
	if !almostEqual(pnl, 100) {
		t.Errorf("翻转时老仓盈亏应为 (11-10)*100=100，实际为 %v", pnl)
	}
	if p.Quantity != -200 {
		t.Errorf("翻转后数量应为 -200，实际为 %v", p.Quantity)
	}
	if p.OpenPrice != 11 {
		t.Errorf("翻转后开仓价应重置为 11（不加权），实际为 %v", p.OpenPrice)
	}
}

// TestPositionShortSide 空头方向的减仓与平仓盈亏符号
func TestPositionShortSide(t *testing.T) {
	p := newTestPosition(10, true)
	p.Deal(20, -100)

	// 价格跌到 18，买回 40：空头盈利 (20-18)*40
	pnl := p.Deal(18, 40)
	if !almostEqual(pnl, 80) {
		t.Errorf("空头减仓盈亏应为 80，实际为 %v", pnl)
	}
	// 剩余 -60 全平于 22：亏损 (20-22)*60
	pnl = p.Deal(22, 60)
	if !almostEqual(pnl, -120) {
		t.Errorf("空头平仓盈亏应为 -120，实际为 %v", pnl)
	}
}

// TestOrderMargin 开仓占保证金、减仓不占、翻转只计越零部分
func TestOrderMargin(t *testing.T) {
	p := newTestPosition(10, true)
	openFactor := 1 + p.Instrument.InitMarginRate + p.Instrument.TakerFee

	// 开仓
	got := p.OrderMargin(10, 100)
	want := 1000.0 / 10 * openFactor
	if !almostEqual(got, want) {
		t.Errorf("开仓保证金应为 %v，实际为 %v", want, got)
	}

	p.Deal(10, 100)

	// 纯减仓不占用保证金
	if got := p.OrderMargin(10, -50); got != 0 {
		t.Errorf("减仓保证金应为 0，实际为 %v", got)
	}
	// 精确平仓也不占用
	if got := p.OrderMargin(10, -100); got != 0 {
		t.Errorf("平仓保证金应为 0，实际为 %v", got)
	}
	// 翻转只对越过零的 100 计保证金
	got = p.OrderMargin(10, -200)
	want = 10.0 * 100 / 10 * openFactor
	if !almostEqual(got, want) {
		t.Errorf("翻转保证金应为 %v，实际为 %v", want, got)
	}
}

// TestLiqPrice 四种强平价公式
func TestLiqPrice(t *testing.T) {
	inst := testInstrument()
	mt := inst.MaintMarginRate

	cases := []struct {
		name     string
		quantity float64
		isolated bool
		want     float64
	}{
		{"逐仓多头", 100, true, 100 / (1 + 1.0/10 - mt)},
		{"逐仓空头", -100, true, 100 / (1 - 1.0/10 + mt)},
		{"全仓多头", 100, false, 100 / (2 - mt)},
		{"全仓空头", -100, false, 100 / mt},
	}
	for _, c := range cases {
		p := &Position{Instrument: inst, Leverage: 10, Isolated: c.isolated, Quantity: c.quantity, OpenPrice: 100}
		if got := p.LiqPrice(); !almostEqual(got, c.want) {
			t.Errorf("%s 强平价应为 %v，实际为 %v", c.name, c.want, got)
		}
	}

	// 资金费率只在不利方向计入
	inst2 := testInstrument()
	inst2.FundingRate = 0.001
	long := &Position{Instrument: inst2, Leverage: 10, Isolated: true, Quantity: 100, OpenPrice: 100}
	short := &Position{Instrument: inst2, Leverage: 10, Isolated: true, Quantity: -100, OpenPrice: 100}

	wantLong := 100 / (1 + 1.0/10 - (mt + 0.001))
	if got := long.LiqPrice(); !almostEqual(got, wantLong) {
		t.Errorf("正费率应推高多头强平价至 %v，实际为 %v", wantLong, got)
	}
	// 正费率对空头有利，公式里取零
	wantShort := 100 / (1 - 1.0/10 + mt)
	if got := short.LiqPrice(); !almostEqual(got, wantShort) {
		t.Errorf("正费率不应影响空头强平价 %v，实际为 %v", wantShort, got)
	}

	zero := &Position{Instrument: inst, Leverage: 10, Isolated: true}
	if got := zero.LiqPrice(); got != 0 {
		t.Errorf("零仓强平价应为 0，实际为 %v", got)
	}
}

// TestPropertyPositionConservation 任意成交序列下，
// 累计已实现盈亏 + 当前仓位按开仓价的名义敞口变化保持自洽：
// 把仓位按最后成交价全平后，总盈亏等于逐笔现金流之和。
func TestPropertyPositionConservation(t *testing.T) {
	property := func(deals []struct {
		Price int8
		Qty   int8
	}) bool {
		p := newTestPosition(10, true)

		var realized float64
		var cashFlow float64
		lastPrice := 10.0
		for _, d := range deals {
			price := float64(d.Price%50) + 60 // 约束到 [10,110)
			qty := float64(d.Qty % 20)
			if qty == 0 {
				continue
			}
			lastPrice = price
			realized += p.Deal(price, qty)
			cashFlow -= price * qty
		}

		// 按最后成交价全平
		if p.Quantity != 0 {
			q := p.Quantity
			realized += p.Deal(lastPrice, -q)
			cashFlow += lastPrice * q
		}

		return math.Abs(realized-cashFlow) < 1e-6
	}
	if err := quick.Check(property, &quick.Config{MaxCount: 200}); err != nil {
		t.Error(err)
	}
}
