// Package exception defines the closed error taxonomy shared by the
// gateway, the table synchronizer, the ledger and the scheduler.
//
// Propagation policy:
//   - transport faults (503 / network) are retried locally with a bounded
//     budget and surfaced as MaxRetryError once the budget runs out
//   - business rejections (margin, not-found) are never retried
//   - invariant violations go through Impossible and are never recovered
package exception

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAuth means the exchange rejected our credentials (401).
	// Fatal: the run must abort, retrying cannot help.
	ErrAuth = errors.New("exchange: authentication failed")

	// ErrMarginNotEnough is the business rejection for an order whose
	// margin requirement exceeds the available balance. Recoverable:
	// the caller may resize or cancel.
	ErrMarginNotEnough = errors.New("exchange: margin not enough")

	// ErrNotFound covers 404 responses. On DELETE the order is simply
	// already gone (canceled or filled), which callers may ignore.
	ErrNotFound = errors.New("exchange: not found")
)

// RateLimitError 由 429 响应产生，携带距离限流窗口重置的时间。
// 网关自身绝不 sleep（会阻塞共享连接上的其他调用方），退避由调用方决定。
type RateLimitError struct {
	ResetAfter time.Duration
	Remaining  int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("exchange: rate limited, reset in %s", e.ResetAfter)
}

// MaxRetryError 表示重试预算耗尽，Last 保留最后一次失败的原因。
type MaxRetryError struct {
	Attempts int
	Last     error
}

func (e *MaxRetryError) Error() string {
	return fmt.Sprintf("exchange: retry budget exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *MaxRetryError) Unwrap() error { return e.Last }

// APIError 是交易所返回的结构化错误体（400/403 等，不可重试）。
type APIError struct {
	Status  int
	Name    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange: %d %s: %s", e.Status, e.Name, e.Message)
}

// DesyncError 表示本地镜像与交易所校验和不一致，对应表需要重新订阅。
// 可恢复：绝不终止读取循环。
type DesyncError struct {
	Symbol string
	Table  string
}

func (e *DesyncError) Error() string {
	return fmt.Sprintf("stream: table %q desynced for %s", e.Table, e.Symbol)
}

// ImpossibleError marks a violated invariant, e.g. an over-filled order.
// It signals a scheduler defect: trading must stop rather than continue
// on corrupted state, so it is raised as a panic and never caught.
type ImpossibleError struct {
	Reason string
}

func (e *ImpossibleError) Error() string {
	return "impossible: " + e.Reason
}

// Impossible panics with an ImpossibleError.
func Impossible(format string, args ...interface{}) {
	panic(&ImpossibleError{Reason: fmt.Sprintf(format, args...)})
}
