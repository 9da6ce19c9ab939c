package bars

import (
	"sort"
	"time"
)

// Bar 一分钟 OHLCV K线
type Bar struct {
	Timestamp time.Time // 该分钟的起始时刻（UTC，对齐到分钟）
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Turnover  float64
}

// Minute 把时间对齐到它所属的分钟
func Minute(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// GapFill 把稀疏的K线序列补齐为 [listing, expiry) 区间内每分钟一行。
// 缺口分钟沿用上一根的收盘价（OHLC 全部取该值），成交量与成交额为零。
// 输入不要求有序；listing 之前的行被丢弃。
func GapFill(in []Bar, listing, expiry time.Time) []Bar {
	listing = Minute(listing)
	expiry = Minute(expiry)
	if !expiry.After(listing) {
		return nil
	}

	sorted := make([]Bar, len(in))
	copy(sorted, in)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	total := int(expiry.Sub(listing) / time.Minute)
	out := make([]Bar, 0, total)

	idx := 0
	var lastClose float64
	for ts := listing; ts.Before(expiry); ts = ts.Add(time.Minute) {
		// 跳过 listing 之前的行
		for idx < len(sorted) && sorted[idx].Timestamp.Before(ts) {
			lastClose = sorted[idx].Close
			idx++
		}
		if idx < len(sorted) && Minute(sorted[idx].Timestamp).Equal(ts) {
			b := sorted[idx]
			b.Timestamp = ts
			out = append(out, b)
			lastClose = b.Close
			idx++
			continue
		}
		// 缺口：收盘价前向填充，量额为零
		out = append(out, Bar{
			Timestamp: ts,
			Open:      lastClose,
			High:      lastClose,
			Low:       lastClose,
			Close:     lastClose,
		})
	}
	return out
}
