package live

import (
	"context"
	"time"

	"github.com/zsluedem/monkq/internal/backtest"
	"github.com/zsluedem/monkq/internal/domain"
	"github.com/zsluedem/monkq/internal/trading/matcher"
	"github.com/zsluedem/monkq/pkg/bars"
	"github.com/zsluedem/monkq/pkg/config"
	"github.com/zsluedem/monkq/pkg/logger"
)

// Driver 实盘策略驱动。回测里由时间循环喂给策略的K线，在实盘由它
// 逐分钟从价格来源（镜像表的最新成交价）录制；策略接口与回测完全
// 同一套，策略代码不感知自己跑在哪种模式下。
//
// 策略回调与撮合 tick 都发生在 Run 的 goroutine 上，账本写入天然串行。
type Driver struct {
	strategy  backtest.Strategy
	scheduler *matcher.Scheduler
	source    matcher.PriceSource
	store     *bars.MemoryStore
	ctx       *backtest.Context
	symbols   []string
	clock     config.Clock

	lastBar time.Time
}

// New 创建驱动。strategy 可为 nil，此时只驱动撮合不录制K线。
func New(strategy backtest.Strategy, account *domain.Account, scheduler *matcher.Scheduler,
	source matcher.PriceSource, instruments map[string]*domain.Instrument,
	symbols []string, clock config.Clock) *Driver {

	store := bars.NewMemoryStore()
	return &Driver{
		strategy:  strategy,
		scheduler: scheduler,
		source:    source,
		store:     store,
		symbols:   symbols,
		clock:     clock,
		ctx: &backtest.Context{
			Account:     account,
			Scheduler:   scheduler,
			Bars:        store,
			Instruments: instruments,
			Now:         clock.Now,
		},
	}
}

// Setup 调用策略的初始化回调
func (d *Driver) Setup() error {
	if d.strategy == nil {
		return nil
	}
	return d.strategy.Setup(d.ctx)
}

// Poll 推进一步：跨过分钟边界时先录制K线并触发策略回调，
// 然后驱动一轮撮合。Run 按固定节奏调用；测试用合成时间直接调用。
func (d *Driver) Poll(now time.Time) {
	minute := bars.Minute(now)
	if d.strategy != nil && minute.After(d.lastBar) {
		d.lastBar = minute
		d.record(minute)
		if err := d.strategy.OnBar(d.ctx); err != nil {
			logger.Errorf("策略 %s 执行失败: %v", d.strategy.Name(), err)
		}
	}
	d.scheduler.Tick()
}

// record 把各合约的最新成交价录制成当前分钟的K线；
// 还没有成交记录的合约跳过，策略按 ok=false 自行处理
func (d *Driver) record(minute time.Time) {
	for _, symbol := range d.symbols {
		p := d.source.LastPrice(symbol)
		if p <= 0 {
			continue
		}
		d.store.Append(symbol, bars.Bar{
			Timestamp: minute,
			Open:      p,
			High:      p,
			Low:       p,
			Close:     p,
		})
	}
}

// Run 以固定节奏驱动，直到 ctx 取消
func (d *Driver) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Poll(d.clock.Now())
		}
	}
}
