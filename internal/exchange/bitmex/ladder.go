package bitmex

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strconv"
	"strings"
)

// Level 订单簿的一个价位档
type Level struct {
	ID    int64   // 价位 id（update/delete 的匹配键）
	Side  string  // Buy / Sell
	Price float64
	Size  float64
}

// checksumDepth 校验和覆盖的每侧档位数
const checksumDepth = 25

// ladder 单合约的订单簿阶梯：买侧按价格降序、卖侧按价格升序，
// 档位以价位 id 为键。
type ladder struct {
	bids []*Level // 价格降序
	asks []*Level // 价格升序
	byID map[int64]*Level
}

func newLadder() *ladder {
	return &ladder{byID: make(map[int64]*Level)}
}

func (l *ladder) reset() {
	l.bids = l.bids[:0]
	l.asks = l.asks[:0]
	l.byID = make(map[int64]*Level)
}

// insert 插入一个新档位，保持两侧有序
func (l *ladder) insert(lv *Level) {
	if _, ok := l.byID[lv.ID]; ok {
		// 同 id 重复插入按更新处理
		l.update(lv.ID, lv.Price, lv.Size, true)
		return
	}
	l.byID[lv.ID] = lv
	if lv.Side == "Buy" {
		i := sort.Search(len(l.bids), func(i int) bool { return l.bids[i].Price < lv.Price })
		l.bids = append(l.bids, nil)
		copy(l.bids[i+1:], l.bids[i:])
		l.bids[i] = lv
	} else {
		i := sort.Search(len(l.asks), func(i int) bool { return l.asks[i].Price > lv.Price })
		l.asks = append(l.asks, nil)
		copy(l.asks[i+1:], l.asks[i:])
		l.asks[i] = lv
	}
}

// update 按 id 更新档位。withPrice 为 false 时只改数量（常规增量只带 size）。
// 找不到档位时返回 false。
func (l *ladder) update(id int64, price, size float64, withPrice bool) bool {
	lv, ok := l.byID[id]
	if !ok {
		return false
	}
	lv.Size = size
	if withPrice && price != lv.Price {
		// 价格变动需要重新落位
		l.remove(id)
		l.insert(&Level{ID: id, Side: lv.Side, Price: price, Size: size})
	}
	return true
}

// remove 按 id 删除档位，找不到时返回 false
func (l *ladder) remove(id int64) bool {
	lv, ok := l.byID[id]
	if !ok {
		return false
	}
	delete(l.byID, id)
	side := &l.asks
	if lv.Side == "Buy" {
		side = &l.bids
	}
	for i, cur := range *side {
		if cur.ID == id {
			*side = append((*side)[:i], (*side)[i+1:]...)
			break
		}
	}
	return true
}

// bestBid 最优买价档（并列只按价格裁决）
func (l *ladder) bestBid() (Level, bool) {
	if len(l.bids) == 0 {
		return Level{}, false
	}
	return *l.bids[0], true
}

func (l *ladder) bestAsk() (Level, bool) {
	if len(l.asks) == 0 {
		return Level{}, false
	}
	return *l.asks[0], true
}

// bestBidN 前 k 档买价（不足 k 时返回现有全部）
func (l *ladder) bestBidN(k int) []Level {
	return copyLevels(l.bids, k)
}

func (l *ladder) bestAskN(k int) []Level {
	return copyLevels(l.asks, k)
}

func copyLevels(side []*Level, k int) []Level {
	if k > len(side) {
		k = len(side)
	}
	out := make([]Level, k)
	for i := 0; i < k; i++ {
		out[i] = *side[i]
	}
	return out
}

// checksum 对 top-N 档位重算校验和：price:size 对以固定分隔符拼接，
// 先买侧后卖侧，各按阶梯顺序，取 CRC32。
func (l *ladder) checksum() uint32 {
	var sb strings.Builder
	for _, lv := range l.bids[:minInt(checksumDepth, len(l.bids))] {
		writeLevel(&sb, lv)
	}
	for _, lv := range l.asks[:minInt(checksumDepth, len(l.asks))] {
		writeLevel(&sb, lv)
	}
	return crc32.ChecksumIEEE([]byte(sb.String()))
}

func writeLevel(sb *strings.Builder, lv *Level) {
	if sb.Len() > 0 {
		sb.WriteByte(':')
	}
	sb.WriteString(formatNum(lv.Price))
	sb.WriteByte(':')
	sb.WriteString(formatNum(lv.Size))
}

// formatNum 规范化数字字符串：整数不带小数点，小数去尾零
func formatNum(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strings.TrimRight(fmt.Sprintf("%f", f), "0")
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
