package bars

import (
	"sync"
	"time"
)

// Store 历史K线存储的只读边界。
// 账本与撮合调度器把它当作不透明的协作者，绝不通过它做任何 I/O 填充。
type Store interface {
	// Bar 返回 symbol 在 ts 所属分钟的K线；该分钟不在数据范围内时 ok 为 false
	Bar(symbol string, ts time.Time) (bar Bar, ok bool)
	Close() error
}

// MemoryStore 纯内存K线存储，回测与测试用
type MemoryStore struct {
	mu     sync.RWMutex
	series map[string][]Bar // symbol -> 按分钟连续排列的K线
	start  map[string]time.Time
}

// NewMemoryStore 创建空的内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		series: make(map[string][]Bar),
		start:  make(map[string]time.Time),
	}
}

// Put 写入一个 symbol 的完整K线序列。
// 序列必须是补齐后的连续分钟序列（见 GapFill），这里按索引定位。
func (s *MemoryStore) Put(symbol string, series []Bar) {
	if len(series) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series[symbol] = series
	s.start[symbol] = Minute(series[0].Timestamp)
}

// Append 在序列末尾追加一根K线，实盘逐分钟录制用。
// 与末根之间的缺口分钟用前收盘补齐（量额为零），同一分钟重复追加
// 覆盖末根，早于末根的追加丢弃。
func (s *MemoryStore) Append(symbol string, bar Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := Minute(bar.Timestamp)
	bar.Timestamp = ts

	series := s.series[symbol]
	if len(series) == 0 {
		s.series[symbol] = []Bar{bar}
		s.start[symbol] = ts
		return
	}

	last := series[len(series)-1].Timestamp
	if !ts.After(last) {
		if ts.Equal(last) {
			series[len(series)-1] = bar
		}
		return
	}
	for cur := last.Add(time.Minute); cur.Before(ts); cur = cur.Add(time.Minute) {
		prev := series[len(series)-1].Close
		series = append(series, Bar{
			Timestamp: cur,
			Open:      prev,
			High:      prev,
			Low:       prev,
			Close:     prev,
		})
	}
	s.series[symbol] = append(series, bar)
}

func (s *MemoryStore) Bar(symbol string, ts time.Time) (Bar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series, ok := s.series[symbol]
	if !ok {
		return Bar{}, false
	}
	offset := int(Minute(ts).Sub(s.start[symbol]) / time.Minute)
	if offset < 0 || offset >= len(series) {
		return Bar{}, false
	}
	return series[offset], true
}

func (s *MemoryStore) Close() error { return nil }
