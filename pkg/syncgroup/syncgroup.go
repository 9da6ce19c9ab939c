package syncgroup

import (
	"sync"
)

type syncGroupFunc func()

// SyncGroup 是 sync.WaitGroup 的包装器，简化 goroutine 生命周期管理
// 自动管理 Add() 和 Done()，减少遗漏 Done() 的风险
type SyncGroup struct {
	wg sync.WaitGroup

	sgFuncsMu    sync.Mutex
	sgFuncs      []syncGroupFunc
	runningCount int
}

// NewSyncGroup 创建新的 SyncGroup
func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Add 添加一个 goroutine 函数，应在 Run() 之前调用
func (w *SyncGroup) Add(fn syncGroupFunc) {
	if fn == nil {
		return
	}

	w.sgFuncsMu.Lock()
	defer w.sgFuncsMu.Unlock()
	w.sgFuncs = append(w.sgFuncs, fn)
}

// Run 启动所有已添加的 goroutine 并清空函数列表，避免重复启动
func (w *SyncGroup) Run() {
	w.sgFuncsMu.Lock()
	fns := w.sgFuncs
	w.sgFuncs = nil
	w.runningCount += len(fns)
	w.sgFuncsMu.Unlock()

	for _, fn := range fns {
		w.wg.Add(1)
		go func(doFunc syncGroupFunc) {
			defer func() {
				w.sgFuncsMu.Lock()
				w.runningCount--
				w.sgFuncsMu.Unlock()
				w.wg.Done()
			}()
			doFunc()
		}(fn)
	}
}

// Wait 等待所有 goroutine 完成
func (w *SyncGroup) Wait() {
	w.wg.Wait()
}

// Running 返回当前仍在运行的 goroutine 数量
func (w *SyncGroup) Running() int {
	w.sgFuncsMu.Lock()
	defer w.sgFuncsMu.Unlock()
	return w.runningCount
}
