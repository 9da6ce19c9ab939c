package bitmex

import (
	"fmt"
	"sync"

	"github.com/zsluedem/monkq/pkg/exception"
	"github.com/zsluedem/monkq/pkg/logger"
	"github.com/zsluedem/monkq/pkg/sigchan"
)

// maxTableLen 高频非权威表（最近成交、报价 tick）的行数上限。
// 超限后丢弃最旧的一半。订单表与订单簿阶梯绝不这样截断：
// 截掉的是后续正确性所需的状态。
const maxTableLen = 200

// flatTable 普通镜像表：行集合 + partial 宣告的识别键集合。
// keys 只随 partial 到达，之后 update/delete 用它匹配行。
type flatTable struct {
	rows   []Row
	keys   []string
	capped bool
}

func (t *flatTable) snapshot(rows []Row, keys []string) {
	t.rows = append([]Row(nil), rows...)
	t.keys = keys
}

func (t *flatTable) insert(rows []Row) {
	t.rows = append(t.rows, rows...)
	if t.capped && len(t.rows) > maxTableLen {
		// 留下较新的一半
		kept := t.rows[len(t.rows)-maxTableLen/2:]
		t.rows = append([]Row(nil), kept...)
	}
}

// find 按宣告的键集合匹配行，全部键字段相等才算命中
func (t *flatTable) find(row Row) int {
	for i, cur := range t.rows {
		matched := true
		for _, k := range t.keys {
			if fmt.Sprint(cur[k]) != fmt.Sprint(row[k]) {
				matched = false
				break
			}
		}
		if matched {
			return i
		}
	}
	return -1
}

func (t *flatTable) removeAt(i int) {
	t.rows = append(t.rows[:i], t.rows[i+1:]...)
}

// removeSymbol 移除某合约的全部行。逐合约订阅的表重收 partial 时，
// 只有该合约的旧行需要让位。
func (t *flatTable) removeSymbol(symbol string) {
	kept := t.rows[:0]
	for _, row := range t.rows {
		if row.Str("symbol") != symbol {
			kept = append(kept, row)
		}
	}
	t.rows = kept
}

// Synchronizer 从有序事件流重建交易所侧状态：
// 报价、成交、订单簿阶梯、仓位、保证金、未完结订单的镜像。
// 表的变更只发生在流读取 goroutine 上；读锁保护其他任务的快照读取。
type Synchronizer struct {
	mu sync.RWMutex

	tables    map[string]*flatTable
	ladders   map[string]*ladder // orderBookL2 按合约分桶，partial 到达时创建
	lastPrice map[string]float64
	desynced  map[string]bool

	// resyncC 失同步信号：流连接收到后对受影响的表重新订阅
	resyncC *sigchan.Chan
}

// NewSynchronizer 创建空的同步器；镜像表由首个 partial 创建
func NewSynchronizer() *Synchronizer {
	return &Synchronizer{
		tables:    make(map[string]*flatTable),
		ladders:   make(map[string]*ladder),
		lastPrice: make(map[string]float64),
		desynced:  make(map[string]bool),
		resyncC:   sigchan.New(1),
	}
}

// Apply 处理一条表变更消息。
// delete 找不到行是要向上暴露的故障；update 找不到行记日志后忽略
// （对应 insert 尚未到达的合法竞态）。校验和不匹配只置失同步标志，
// 绝不让读取循环终止。
func (s *Synchronizer) Apply(msg *TableMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.Table == TableOrderBook {
		return s.applyLadder(msg)
	}
	return s.applyFlat(msg)
}

func (s *Synchronizer) applyFlat(msg *TableMessage) error {
	table, ok := s.tables[msg.Table]

	switch msg.Action {
	case ActionPartial:
		capped := msg.Table == TableQuote || msg.Table == TableTrade
		if capped && ok {
			// 报价与成交按合约逐个订阅，partial 也逐合约到达：
			// 只替换本合约的行，其他合约的镜像保持原样
			table.keys = msg.Keys
			for _, symbol := range symbolsOf(msg.Data) {
				table.removeSymbol(symbol)
			}
			table.insert(msg.Data)
		} else {
			table = &flatTable{capped: capped}
			table.snapshot(msg.Data, msg.Keys)
			s.tables[msg.Table] = table
		}
		s.noteTrades(msg.Table, msg.Data)
		return nil

	case ActionInsert:
		if !ok {
			// partial 之前的增量直接丢弃（订阅刚建立时的正常现象）
			logger.WithField("table", msg.Table).Debug("忽略快照前的 insert")
			return nil
		}
		table.insert(msg.Data)
		s.noteTrades(msg.Table, msg.Data)
		return nil

	case ActionUpdate:
		if !ok || len(table.keys) == 0 {
			return &exception.DesyncError{Table: msg.Table}
		}
		for _, row := range msg.Data {
			i := table.find(row)
			if i < 0 {
				// insert 尚未处理到，合法竞态：记日志后忽略
				logger.WithField("table", msg.Table).Warnf("update 未匹配到行: %v", row)
				continue
			}
			s.mergeRow(msg.Table, table, i, row)
		}
		return nil

	case ActionDelete:
		if !ok || len(table.keys) == 0 {
			return &exception.DesyncError{Table: msg.Table}
		}
		for _, row := range msg.Data {
			i := table.find(row)
			if i < 0 {
				return &exception.DesyncError{Table: msg.Table, Symbol: row.Str("symbol")}
			}
			table.removeAt(i)
		}
		return nil

	default:
		return fmt.Errorf("未知的表动作: %q", msg.Action)
	}
}

// mergeRow 把增量字段合入已有行。订单表上，不带撤单标记的
// 已成交数量变化就是一次成交；剩余数量归零时行从镜像移除。
func (s *Synchronizer) mergeRow(tableName string, table *flatTable, i int, row Row) {
	existing := table.rows[i]

	if tableName == TableOrder && row.Has("cumQty") && row.Str("ordStatus") != "Canceled" {
		filled := row.Float("cumQty") - existing.Float("cumQty")
		if filled > 0 {
			logger.WithFields(map[string]interface{}{
				"orderID": existing.Str("orderID"),
				"filled":  filled,
			}).Info("订单成交")
		}
	}

	for k, v := range row {
		existing[k] = v
	}

	if tableName == TableOrder {
		if row.Has("leavesQty") && row.Float("leavesQty") <= 0 {
			table.removeAt(i)
		} else if row.Str("ordStatus") == "Canceled" {
			table.removeAt(i)
		}
	}
}

func (s *Synchronizer) applyLadder(msg *TableMessage) error {
	switch msg.Action {
	case ActionPartial:
		// partial 逐合约到达：只重建消息里出现的合约的阶梯，
		// 其他合约的健康镜像不动
		for _, symbol := range symbolsOf(msg.Data) {
			if l, ok := s.ladders[symbol]; ok {
				l.reset()
			} else {
				s.ladders[symbol] = newLadder()
			}
		}
		for _, row := range msg.Data {
			s.ladders[row.Str("symbol")].insert(levelFromRow(row))
		}

	case ActionInsert:
		for _, row := range msg.Data {
			l, ok := s.ladders[row.Str("symbol")]
			if !ok {
				logger.WithField("symbol", row.Str("symbol")).Debug("忽略快照前的订单簿 insert")
				continue
			}
			l.insert(levelFromRow(row))
		}

	case ActionUpdate:
		for _, row := range msg.Data {
			l, ok := s.ladders[row.Str("symbol")]
			if !ok {
				return &exception.DesyncError{Table: msg.Table, Symbol: row.Str("symbol")}
			}
			if !l.update(row.Int64("id"), row.Float("price"), row.Float("size"), row.Has("price")) {
				logger.WithField("symbol", row.Str("symbol")).Warnf("订单簿 update 未匹配到价位 %d", row.Int64("id"))
			}
		}

	case ActionDelete:
		for _, row := range msg.Data {
			l, ok := s.ladders[row.Str("symbol")]
			if !ok {
				return &exception.DesyncError{Table: msg.Table, Symbol: row.Str("symbol")}
			}
			if !l.remove(row.Int64("id")) {
				return &exception.DesyncError{Table: msg.Table, Symbol: row.Str("symbol")}
			}
		}

	default:
		return fmt.Errorf("未知的表动作: %q", msg.Action)
	}

	// 上游随消息发布校验和时逐合约核对
	if msg.Checksum != 0 {
		for _, symbol := range symbolsOf(msg.Data) {
			s.verifyChecksum(symbol, msg.Checksum)
		}
	}
	return nil
}

// verifyChecksum 重算 top-N 档校验和并与交易所发布值比对。
// 不匹配置失同步标志并发重订阅信号，绝不 panic、绝不中断读取。
func (s *Synchronizer) verifyChecksum(symbol string, want uint32) {
	l, ok := s.ladders[symbol]
	if !ok {
		return
	}
	got := l.checksum()
	if got != want {
		logger.WithFields(map[string]interface{}{
			"symbol": symbol,
			"want":   want,
			"got":    got,
		}).Warn("订单簿校验和不匹配，本地镜像已失同步")
		s.desynced[symbol] = true
		s.resyncC.Emit()
	}
}

// noteTrades 从成交表增量里更新最新价
func (s *Synchronizer) noteTrades(tableName string, rows []Row) {
	if tableName != TableTrade {
		return
	}
	for _, row := range rows {
		if p := row.Float("price"); p > 0 {
			s.lastPrice[row.Str("symbol")] = p
		}
	}
}

func levelFromRow(row Row) *Level {
	return &Level{
		ID:    row.Int64("id"),
		Side:  row.Str("side"),
		Price: row.Float("price"),
		Size:  row.Float("size"),
	}
}

func symbolsOf(rows []Row) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, 1)
	for _, row := range rows {
		sym := row.Str("symbol")
		if sym != "" && !seen[sym] {
			seen[sym] = true
			out = append(out, sym)
		}
	}
	return out
}

// BestBid 最优买档
func (s *Synchronizer) BestBid(symbol string) (Level, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.ladders[symbol]
	if !ok {
		return Level{}, false
	}
	return l.bestBid()
}

// BestAsk 最优卖档
func (s *Synchronizer) BestAsk(symbol string) (Level, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.ladders[symbol]
	if !ok {
		return Level{}, false
	}
	return l.bestAsk()
}

// BestBidN 前 k 档买价
func (s *Synchronizer) BestBidN(symbol string, k int) []Level {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.ladders[symbol]
	if !ok {
		return nil
	}
	return l.bestBidN(k)
}

// BestAskN 前 k 档卖价
func (s *Synchronizer) BestAskN(symbol string, k int) []Level {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.ladders[symbol]
	if !ok {
		return nil
	}
	return l.bestAskN(k)
}

// LastPrice 最新成交价（没有成交记录时为 0）
func (s *Synchronizer) LastPrice(symbol string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPrice[symbol]
}

// MarginSnapshot 保证金镜像的当前快照（单行表）
func (s *Synchronizer) MarginSnapshot() Row {
	return s.firstRow(TableMargin)
}

// Positions 仓位镜像快照
func (s *Synchronizer) Positions() []Row {
	return s.tableRows(TablePosition)
}

// OpenOrders 未完结订单镜像快照
func (s *Synchronizer) OpenOrders() []Row {
	return s.tableRows(TableOrder)
}

// Desynced 该合约的订单簿镜像是否已失同步
func (s *Synchronizer) Desynced(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.desynced[symbol]
}

// DesyncedSymbols 当前所有失同步的合约
func (s *Synchronizer) DesyncedSymbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.desynced))
	for symbol := range s.desynced {
		out = append(out, symbol)
	}
	return out
}

// ClearDesync 重订阅完成后清除失同步标志
func (s *Synchronizer) ClearDesync(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.desynced, symbol)
}

// ResyncC 失同步重订阅信号
func (s *Synchronizer) ResyncC() *sigchan.Chan {
	return s.resyncC
}

func (s *Synchronizer) tableRows(name string) []Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[name]
	if !ok {
		return nil
	}
	out := make([]Row, len(t.rows))
	copy(out, t.rows)
	return out
}

func (s *Synchronizer) firstRow(name string) Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[name]
	if !ok || len(t.rows) == 0 {
		return nil
	}
	return t.rows[0]
}
