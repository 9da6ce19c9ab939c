package bitmex

import (
	"encoding/json"
	"strconv"
)

// Action 流协议的四种表变更动作（封闭集合）
type Action string

const (
	ActionPartial Action = "partial" // 全表快照，携带 keys
	ActionInsert  Action = "insert"  // 追加行
	ActionUpdate  Action = "update"  // 按 key 匹配后合并字段
	ActionDelete  Action = "delete"  // 按 key 匹配后删除
)

// 镜像表名
const (
	TableQuote     = "quote"
	TableTrade     = "trade"
	TableOrderBook = "orderBookL2"
	TablePosition  = "position"
	TableMargin    = "margin"
	TableOrder     = "order"
)

// Row 一行表数据，字段集合由交易所决定
type Row map[string]interface{}

// TableMessage 流协议消息：
// {table, action, data: [row...], keys?: [field...]}，keys 只随 partial 出现。
// checksum 只在订单簿表上出现（交易所对 top-N 档位发布的 CRC32）。
type TableMessage struct {
	Table    string   `json:"table"`
	Action   Action   `json:"action"`
	Data     []Row    `json:"data"`
	Keys     []string `json:"keys,omitempty"`
	Checksum uint32   `json:"checksum,omitempty"`
}

// streamFrame 流上的一帧：表消息、订阅确认、错误、欢迎信息之一
type streamFrame struct {
	TableMessage
	Success   bool            `json:"success,omitempty"`
	Subscribe string          `json:"subscribe,omitempty"`
	Error     string          `json:"error,omitempty"`
	Info      string          `json:"info,omitempty"`
	Request   json.RawMessage `json:"request,omitempty"`
}

// Str 读取字符串字段，缺失或类型不符返回空串
func (r Row) Str(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

// Float 读取数值字段。JSON 解码的数值统一是 float64，
// 但行可能被测试代码直接构造，所以顺带接受整数与数字字符串。
func (r Row) Float(key string) float64 {
	switch v := r[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

// Int64 读取整型字段（订单簿价位 id 等）
func (r Row) Int64(key string) int64 {
	switch v := r[key].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	case json.Number:
		i, _ := v.Int64()
		return i
	}
	return 0
}

// Has 字段是否存在
func (r Row) Has(key string) bool {
	_, ok := r[key]
	return ok
}
