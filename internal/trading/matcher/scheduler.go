package matcher

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/zsluedem/monkq/internal/domain"
	"github.com/zsluedem/monkq/pkg/config"
	"github.com/zsluedem/monkq/pkg/exception"
	"github.com/zsluedem/monkq/pkg/logger"
)

// PriceSource 价格来源。实盘来自镜像表的最新成交价，
// 回测来自按模拟时钟索引的 K 线存储。调度器本身不区分两者。
type PriceSource interface {
	LastPrice(symbol string) float64
}

// Scheduler 撮合调度器：每个 tick 把所有挂单与价格来源撮合。
// 成交模型为立即全额成交（限价单按自身限价），不模拟部分成交与滑点。
//
// 仓位与订单在并发写下不安全，所以调度器内部串行化所有入口。
type Scheduler struct {
	mu sync.Mutex

	account *domain.Account
	source  PriceSource
	clock   config.Clock

	open map[string]*domain.Order // orderID -> 挂单
}

// NewScheduler 创建调度器
func NewScheduler(account *domain.Account, source PriceSource, clock config.Clock) *Scheduler {
	return &Scheduler{
		account: account,
		source:  source,
		clock:   clock,
		open:    make(map[string]*domain.Order),
	}
}

// Submit 提交订单。先按当前价估算所需保证金，可用余额不足直接拒绝。
// 接受后进入挂单集合，O(1)。
func (s *Scheduler) Submit(order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.OrderID == "" {
		order.OrderID = uuid.NewString()
	}
	if _, ok := s.open[order.OrderID]; ok {
		return errors.Errorf("订单 %s 已在挂单集合中", order.OrderID)
	}

	lastPrice := s.source.LastPrice(order.Instrument.Symbol)
	need := s.account.OrderMargin(order, lastPrice)
	if need > s.account.AvailableBalance() {
		return errors.Wrapf(exception.ErrMarginNotEnough,
			"订单 %s 需要保证金 %.4f 可用 %.4f", order.OrderID, need, s.account.AvailableBalance())
	}

	order.SubmitTime = s.clock.Now()
	s.open[order.OrderID] = order
	return nil
}

// Cancel 撤销挂单，O(1)。不存在的订单返回 ErrNotFound。
func (s *Scheduler) Cancel(orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.open[orderID]; !ok {
		return errors.Wrapf(exception.ErrNotFound, "订单 %s", orderID)
	}
	delete(s.open, orderID)
	return nil
}

// Tick 撮合一轮：对每个挂单确定成交价，生成一笔覆盖全部剩余数量的
// 成交并应用到订单（订单再传导给账户与仓位），剩余为零即移出挂单集合。
func (s *Scheduler) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, order := range s.open {
		lastPrice := s.source.LastPrice(order.Instrument.Symbol)
		if lastPrice == 0 {
			// 价格来源尚无该合约的数据，留到下一轮
			continue
		}

		price := order.FillPrice(lastPrice)
		trade := domain.NewTrade(order, price, order.Remaining(), uuid.NewString(), s.clock.Now())
		order.Deal(trade)

		logger.WithFields(map[string]interface{}{
			"order":  order.OrderID,
			"symbol": order.Instrument.Symbol,
			"price":  price,
			"qty":    trade.Quantity,
		}).Debug("订单成交")

		if order.Remaining() == 0 {
			delete(s.open, id)
		}
	}
}

// OrderView 挂单在某一时刻的只读快照
type OrderView struct {
	OrderID    string
	Symbol     string
	Kind       domain.OrderKind
	Quantity   float64
	Traded     float64
	Price      float64
	Status     domain.OrderStatus
	SubmitTime time.Time
}

// OrderViews 在调度器锁内构建全部挂单的快照，并发读取方用它代替活指针
func (s *Scheduler) OrderViews() []OrderView {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OrderView, 0, len(s.open))
	for _, o := range s.open {
		out = append(out, OrderView{
			OrderID:    o.OrderID,
			Symbol:     o.Instrument.Symbol,
			Kind:       o.Kind,
			Quantity:   o.Quantity,
			Traded:     o.Traded,
			Price:      o.Price,
			Status:     o.Status(),
			SubmitTime: o.SubmitTime,
		})
	}
	return out
}

// OpenOrders 当前挂单列表（活指针，仅限单 goroutine 场景使用）
func (s *Scheduler) OpenOrders() []*domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Order, 0, len(s.open))
	for _, o := range s.open {
		out = append(out, o)
	}
	return out
}

// Order 按 ID 取挂单
func (s *Scheduler) Order(orderID string) (*domain.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.open[orderID]
	return o, ok
}
