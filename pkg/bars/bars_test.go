package bars

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func minuteAt(h, m int) time.Time {
	return time.Date(2024, 1, 1, h, m, 0, 0, time.UTC)
}

// TestGapFill 缺口分钟沿用上一根收盘价，量额为零
func TestGapFill(t *testing.T) {
	in := []Bar{
		{Timestamp: minuteAt(0, 0), Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100, Turnover: 1000},
		{Timestamp: minuteAt(0, 3), Open: 10.5, High: 12, Low: 10, Close: 11, Volume: 50, Turnover: 550},
	}

	out := GapFill(in, minuteAt(0, 0), minuteAt(0, 5))
	if len(out) != 5 {
		t.Fatalf("区间内每分钟应有一行，应为 5 行，实际 %d 行", len(out))
	}

	// 第 1、2 分钟是缺口
	for _, i := range []int{1, 2} {
		b := out[i]
		if b.Close != 10.5 || b.Open != 10.5 || b.High != 10.5 || b.Low != 10.5 {
			t.Errorf("第 %d 分钟应前向填充 10.5，实际为 %+v", i, b)
		}
		if b.Volume != 0 || b.Turnover != 0 {
			t.Errorf("缺口分钟量额应为零，实际为 %+v", b)
		}
	}
	if out[3].Close != 11 {
		t.Errorf("第 3 分钟应为真实行，实际为 %+v", out[3])
	}
	// 末尾缺口沿用最后一根
	if out[4].Close != 11 || out[4].Volume != 0 {
		t.Errorf("第 4 分钟应填充 11，实际为 %+v", out[4])
	}
}

// TestGapFillDropsPreListing listing 之前的行被丢弃但其收盘价仍可前向填充
func TestGapFillDropsPreListing(t *testing.T) {
	in := []Bar{
		{Timestamp: minuteAt(0, 0), Close: 9},
		{Timestamp: minuteAt(0, 2), Close: 10},
	}
	out := GapFill(in, minuteAt(0, 1), minuteAt(0, 3))
	if len(out) != 2 {
		t.Fatalf("应为 2 行，实际 %d 行", len(out))
	}
	if out[0].Close != 9 {
		t.Errorf("第 0 分钟应以 listing 前的收盘价填充 9，实际为 %v", out[0].Close)
	}
	if out[1].Close != 10 {
		t.Errorf("第 1 分钟应为真实行 10，实际为 %v", out[1].Close)
	}
}

// TestMemoryStore 按分钟索引取行，范围外 ok 为 false
func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	series := GapFill([]Bar{
		{Timestamp: minuteAt(0, 0), Close: 10},
		{Timestamp: minuteAt(0, 1), Close: 11},
	}, minuteAt(0, 0), minuteAt(0, 2))
	store.Put("XBTUSD", series)

	bar, ok := store.Bar("XBTUSD", minuteAt(0, 1).Add(30*time.Second))
	if !ok || bar.Close != 11 {
		t.Errorf("分钟内任意时刻都应命中该分钟的行，实际为 %+v ok=%v", bar, ok)
	}

	if _, ok := store.Bar("XBTUSD", minuteAt(1, 0)); ok {
		t.Error("范围外的分钟不应命中")
	}
	if _, ok := store.Bar("ETHUSD", minuteAt(0, 0)); ok {
		t.Error("未知合约不应命中")
	}
}

// TestSQLiteRoundTrip 写入再读出，行内容一致
func TestSQLiteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "klines.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("打开数据库失败: %v", err)
	}
	if err := InitSchema(db); err != nil {
		t.Fatalf("建表失败: %v", err)
	}
	series := []Bar{
		{Timestamp: minuteAt(0, 0), Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100, Turnover: 1000},
		{Timestamp: minuteAt(0, 1), Open: 10.5, High: 10.6, Low: 10.2, Close: 10.4, Volume: 30, Turnover: 310},
	}
	if err := WriteSeries(db, "XBTUSD", series); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	db.Close()

	store, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("打开存储失败: %v", err)
	}
	defer store.Close()

	bar, ok := store.Bar("XBTUSD", minuteAt(0, 1))
	if !ok {
		t.Fatal("应命中第 1 分钟的行")
	}
	if bar.Close != 10.4 || bar.Volume != 30 {
		t.Errorf("行内容不一致，实际为 %+v", bar)
	}
	if _, ok := store.Bar("XBTUSD", minuteAt(0, 2)); ok {
		t.Error("不存在的分钟不应命中")
	}
}

// TestMemoryStoreAppend 逐分钟追加：缺口用前收盘补齐，
// 同分钟覆盖，早于末根的追加丢弃
func TestMemoryStoreAppend(t *testing.T) {
	start := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore()

	s.Append("XBTUSD", Bar{Timestamp: start, Open: 10, High: 10, Low: 10, Close: 10})
	// 跳过 12:01、12:02 两分钟
	s.Append("XBTUSD", Bar{Timestamp: start.Add(3 * time.Minute), Open: 12, High: 12, Low: 12, Close: 12})

	if b, ok := s.Bar("XBTUSD", start.Add(time.Minute)); !ok || b.Close != 10 || b.Volume != 0 {
		t.Errorf("缺口分钟应以前收盘补齐且量为零，实际 ok=%v bar=%+v", ok, b)
	}
	if b, ok := s.Bar("XBTUSD", start.Add(3*time.Minute)); !ok || b.Close != 12 {
		t.Errorf("追加的K线应可读回，实际 ok=%v bar=%+v", ok, b)
	}

	// 同一分钟重复追加覆盖
	s.Append("XBTUSD", Bar{Timestamp: start.Add(3 * time.Minute), Open: 13, High: 13, Low: 13, Close: 13})
	if b, _ := s.Bar("XBTUSD", start.Add(3*time.Minute)); b.Close != 13 {
		t.Errorf("同分钟追加应覆盖末根，实际收盘 %v", b.Close)
	}

	// 早于末根的追加丢弃
	s.Append("XBTUSD", Bar{Timestamp: start.Add(time.Minute), Open: 99, High: 99, Low: 99, Close: 99})
	if b, _ := s.Bar("XBTUSD", start.Add(time.Minute)); b.Close != 10 {
		t.Errorf("回头追加不应改写历史，实际收盘 %v", b.Close)
	}
}
