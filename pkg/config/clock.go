package config

import (
	"sync"
	"time"
)

// Clock 时间源抽象：核心组件只通过它取当前时间，
// 回测模式下由 runner 手动推进。
type Clock interface {
	Now() time.Time
}

// RealClock 真实时钟（实盘模式）
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// SimClock 模拟时钟（回测模式），由回测循环逐 tick 推进
type SimClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewSimClock 创建定在 start 时刻的模拟时钟
func NewSimClock(start time.Time) *SimClock {
	return &SimClock{now: start}
}

func (c *SimClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Set 将时钟设置到指定时刻
func (c *SimClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance 将时钟前进 d
func (c *SimClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
