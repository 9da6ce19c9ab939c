package backtest

import (
	"fmt"
	"sync"
	"time"

	"github.com/zsluedem/monkq/internal/domain"
	"github.com/zsluedem/monkq/internal/trading/matcher"
	"github.com/zsluedem/monkq/pkg/bars"
)

// Context 回测过程中暴露给策略的全部能力：
// 下单撤单走调度器，行情读 K 线存储，时间读模拟时钟。
// 策略不直接触碰账户以外的任何可变状态。
type Context struct {
	Account     *domain.Account
	Scheduler   *matcher.Scheduler
	Bars        bars.Store
	Instruments map[string]*domain.Instrument
	Now         func() time.Time
}

// Bar 取某合约当前模拟时刻的 K 线
func (c *Context) Bar(symbol string) (bars.Bar, bool) {
	return c.Bars.Bar(symbol, c.Now())
}

// Strategy 回测策略接口。Setup 在回测开始前调用一次，
// OnBar 在每个模拟分钟、撮合之前调用一次。
type Strategy interface {
	Name() string
	Setup(ctx *Context) error
	OnBar(ctx *Context) error
}

// Registry 策略注册表
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry 创建新的策略注册表
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register 注册策略，重名报错
func (r *Registry) Register(strategy Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := strategy.Name()
	if _, exists := r.strategies[name]; exists {
		return fmt.Errorf("策略 %s 已存在", name)
	}
	r.strategies[name] = strategy
	return nil
}

// Get 获取策略
func (r *Registry) Get(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	strategy, exists := r.strategies[name]
	if !exists {
		return nil, fmt.Errorf("策略 %s 不存在", name)
	}
	return strategy, nil
}

// List 列出所有策略名称
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	return names
}
