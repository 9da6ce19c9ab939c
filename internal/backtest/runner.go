package backtest

import (
	"time"

	"github.com/pkg/errors"

	"github.com/zsluedem/monkq/internal/domain"
	"github.com/zsluedem/monkq/internal/trading/matcher"
	"github.com/zsluedem/monkq/pkg/bars"
	"github.com/zsluedem/monkq/pkg/config"
	"github.com/zsluedem/monkq/pkg/logger"
)

// barPriceSource 回测价格来源：当前模拟分钟的收盘价
type barPriceSource struct {
	store bars.Store
	clock config.Clock
}

func (b *barPriceSource) LastPrice(symbol string) float64 {
	bar, ok := b.store.Bar(symbol, b.clock.Now())
	if !ok {
		return 0
	}
	return bar.Close
}

// Runner 确定性回测循环。每个模拟分钟完整结算后时钟才推进：
// 先策略回调，再撮合，最后按间隔采样统计。全程单 goroutine，无并发。
type Runner struct {
	settings    *config.Settings
	store       bars.Store
	strategy    Strategy
	instruments map[string]*domain.Instrument

	clock     *config.SimClock
	account   *domain.Account
	scheduler *matcher.Scheduler
	stats     *Stats
}

// NewRunner 组装回测环境
func NewRunner(settings *config.Settings, store bars.Store, strategy Strategy, instruments map[string]*domain.Instrument) *Runner {
	clock := config.NewSimClock(settings.Backtest.Start)
	account := domain.NewAccount(settings.Trade.InitWallet, settings.Trade.Leverage, settings.Trade.IsolatedMargin)
	scheduler := matcher.NewScheduler(account, &barPriceSource{store: store, clock: clock}, clock)

	return &Runner{
		settings:    settings,
		store:       store,
		strategy:    strategy,
		instruments: instruments,
		clock:       clock,
		account:     account,
		scheduler:   scheduler,
		stats:       NewStats(settings.Trade.InitWallet),
	}
}

// Run 跑完整个回测区间并返回汇总
func (r *Runner) Run() (Summary, error) {
	ctx := &Context{
		Account:     r.account,
		Scheduler:   r.scheduler,
		Bars:        r.store,
		Instruments: r.instruments,
		Now:         r.clock.Now,
	}

	if err := r.strategy.Setup(ctx); err != nil {
		return Summary{}, errors.Wrapf(err, "策略 %s 初始化失败", r.strategy.Name())
	}

	start := r.settings.Backtest.Start.Truncate(time.Minute)
	end := r.settings.Backtest.End.Truncate(time.Minute)
	statInterval := r.settings.Backtest.StatInterval

	logger.WithFields(map[string]interface{}{
		"strategy": r.strategy.Name(),
		"start":    start,
		"end":      end,
	}).Info("开始回测")

	tick := 0
	for t := start; !t.After(end); t = t.Add(time.Minute) {
		r.clock.Set(t)

		if err := r.strategy.OnBar(ctx); err != nil {
			return Summary{}, errors.Wrapf(err, "策略 %s 在 %s 出错", r.strategy.Name(), t)
		}
		r.scheduler.Tick()

		tick++
		if tick%statInterval == 0 {
			r.stats.Sample(t, r.account)
		}
	}
	// 收尾补一次采样，保证汇总覆盖到区间末尾
	r.stats.Sample(end, r.account)

	summary := r.stats.Summary()
	logger.WithFields(map[string]interface{}{
		"final_wallet": summary.FinalWallet,
		"return":       summary.TotalReturn,
		"max_drawdown": summary.MaxDrawdown,
	}).Info("回测完成")
	return summary, nil
}

// Account 回测账户（供测试与报告读取）
func (r *Runner) Account() *domain.Account {
	return r.account
}

// Scheduler 回测调度器
func (r *Runner) Scheduler() *matcher.Scheduler {
	return r.scheduler
}
