package backtest

import (
	"testing"
	"time"

	"github.com/zsluedem/monkq/internal/domain"
	"github.com/zsluedem/monkq/pkg/bars"
	"github.com/zsluedem/monkq/pkg/config"
)

// 测试策略：第一根K线市价买入，最后一根K线市价平仓
type roundTripStrategy struct {
	symbol   string
	quantity float64
	lastBar  time.Time
	entered  bool
	exited   bool
}

func (s *roundTripStrategy) Name() string             { return "roundtrip" }
func (s *roundTripStrategy) Setup(ctx *Context) error { return nil }

func (s *roundTripStrategy) OnBar(ctx *Context) error {
	inst := ctx.Instruments[s.symbol]

	if !s.entered {
		s.entered = true
		return ctx.Scheduler.Submit(&domain.Order{
			Account:    ctx.Account,
			Instrument: inst,
			Kind:       domain.OrderKindMarket,
			Quantity:   s.quantity,
		})
	}
	if !s.exited && !ctx.Now().Before(s.lastBar) {
		s.exited = true
		return ctx.Scheduler.Submit(&domain.Order{
			Account:    ctx.Account,
			Instrument: inst,
			Kind:       domain.OrderKindMarket,
			Quantity:   -s.quantity,
		})
	}
	return nil
}

func testSettings(start, end time.Time) *config.Settings {
	s := config.Default()
	s.Trade.InitWallet = 100000
	s.Trade.Leverage = 10
	s.Trade.IsolatedMargin = true
	s.Backtest.Start = start
	s.Backtest.End = end
	s.Backtest.StatInterval = 2
	return s
}

// TestRunnerDeterministicLoop 每个模拟分钟完整结算：策略回调、撮合、统计采样
func TestRunnerDeterministicLoop(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(4 * time.Minute)

	// 价格从 100 涨到 104
	raw := make([]bars.Bar, 0, 5)
	for i := 0; i <= 4; i++ {
		raw = append(raw, bars.Bar{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Close:     float64(100 + i),
			Volume:    10,
		})
	}
	store := bars.NewMemoryStore()
	store.Put("XBTUSD", raw)

	inst := &domain.Instrument{
		Symbol:          "XBTUSD",
		TickSize:        0.5,
		LotSize:         1,
		TakerFee:        0.00075,
		InitMarginRate:  0.01,
		MaintMarginRate: 0.005,
	}
	strategy := &roundTripStrategy{symbol: "XBTUSD", quantity: 100, lastBar: end}

	runner := NewRunner(testSettings(start, end), store, strategy,
		map[string]*domain.Instrument{"XBTUSD": inst})
	summary, err := runner.Run()
	if err != nil {
		t.Fatalf("回测失败: %v", err)
	}

	// 100 买 @100，100 卖 @104：毛利 400，手续费 (10000+10400)*0.00075
	wantPnl := 400 - (10000+10400)*inst.TakerFee
	gotPnl := summary.FinalWallet - summary.InitWallet
	if diff := gotPnl - wantPnl; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("盈亏应为 %v，实际为 %v", wantPnl, gotPnl)
	}

	pos := runner.Account().Position(inst)
	if pos.Quantity != 0 {
		t.Errorf("收尾应为零仓位，实际为 %v", pos.Quantity)
	}
	if got := len(runner.Scheduler().OpenOrders()); got != 0 {
		t.Errorf("收尾不应有挂单，实际 %d 张", got)
	}

	// 5 个分钟、采样间隔 2，外加收尾一次
	if summary.SampleCount != 3 {
		t.Errorf("采样次数应为 3，实际为 %d", summary.SampleCount)
	}
	if summary.TotalReturn <= 0 {
		t.Errorf("上涨行情的买入持有收益率应为正，实际为 %v", summary.TotalReturn)
	}
}

// TestRunnerStrategyErrorAborts 策略报错立即中止回测
func TestRunnerStrategyErrorAborts(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := bars.NewMemoryStore()

	runner := NewRunner(testSettings(start, start.Add(time.Minute)), store,
		&failingStrategy{}, map[string]*domain.Instrument{})
	if _, err := runner.Run(); err == nil {
		t.Fatal("策略报错应中止回测")
	}
}

type failingStrategy struct{}

func (s *failingStrategy) Name() string             { return "failing" }
func (s *failingStrategy) Setup(ctx *Context) error { return nil }
func (s *failingStrategy) OnBar(ctx *Context) error {
	return errTest
}

var errTest = &testError{}

type testError struct{}

func (e *testError) Error() string { return "test error" }
