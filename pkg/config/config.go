package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ExchangeConfig 交易所连接配置
type ExchangeConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	// Sandbox 为 true 时使用交易所的测试网地址
	Sandbox bool `yaml:"sandbox"`
	// HTTPProxy 代理地址（可选，例如 http://127.0.0.1:7890）
	HTTPProxy string `yaml:"http_proxy"`
	// PingIntervalSeconds 流连接静默多少秒后发送 ping（默认 5）
	PingIntervalSeconds int `yaml:"ping_interval_seconds"`
	// TimeoutSeconds 单次 REST 请求超时（默认 10）
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// ExpireSeconds 签名过期安全余量（默认 5，容忍本地时钟偏移）
	ExpireSeconds int `yaml:"expire_seconds"`
}

// TradeConfig 交易默认参数
type TradeConfig struct {
	// Leverage 默认杠杆倍数
	Leverage float64 `yaml:"leverage"`
	// IsolatedMargin 是否逐仓（false = 全仓）
	IsolatedMargin bool `yaml:"isolated_margin"`
	// InitWallet 回测初始钱包余额
	InitWallet float64 `yaml:"init_wallet"`
}

// BacktestConfig 回测配置
type BacktestConfig struct {
	Symbols []string  `yaml:"symbols"`
	Start   time.Time `yaml:"start"`
	End     time.Time `yaml:"end"`
	// DataFile 一分钟K线 sqlite 数据文件路径
	DataFile string `yaml:"data_file"`
	// StatInterval 统计采样间隔（每多少根K线采样一次账户状态，默认 60）
	StatInterval int `yaml:"stat_interval"`
}

// ControlPlaneConfig 状态查询服务配置
type ControlPlaneConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"` // 例如 127.0.0.1:8721
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Settings 进程级配置，启动时构造一次，按引用传入各组件。
// 核心组件绝不自己读环境变量或磁盘。
type Settings struct {
	Exchange     ExchangeConfig     `yaml:"exchange"`
	Trade        TradeConfig        `yaml:"trade"`
	Backtest     BacktestConfig     `yaml:"backtest"`
	ControlPlane ControlPlaneConfig `yaml:"control_plane"`
	Log          LogConfig          `yaml:"log"`

	// Clock 时间源：实盘为真实时钟，回测为随K线推进的模拟时钟。
	// 不从 yaml 加载，由 runner 注入。
	Clock Clock `yaml:"-"`
}

// Load 从 YAML 文件加载配置，缺省值在此补齐
func Load(path string) (*Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	s := &Settings{}
	if err := yaml.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	s.applyDefaults()
	return s, nil
}

// Default 返回带默认值的配置（主要用于测试与回测）
func Default() *Settings {
	s := &Settings{}
	s.applyDefaults()
	return s
}

// LoadDotenv 加载 .env 文件（可选，文件不存在时静默忽略），随后用
// 环境变量中的凭证覆盖配置文件里的空值。凭证只在这里进入进程。
func (s *Settings) LoadDotenv(path string) {
	if path == "" {
		path = ".env"
	}
	_ = godotenv.Load(path)

	if s.Exchange.APIKey == "" {
		s.Exchange.APIKey = os.Getenv("MONKQ_API_KEY")
	}
	if s.Exchange.APISecret == "" {
		s.Exchange.APISecret = os.Getenv("MONKQ_API_SECRET")
	}
	if s.Exchange.HTTPProxy == "" {
		s.Exchange.HTTPProxy = os.Getenv("MONKQ_HTTP_PROXY")
	}
}

func (s *Settings) applyDefaults() {
	if s.Exchange.PingIntervalSeconds <= 0 {
		s.Exchange.PingIntervalSeconds = 5
	}
	if s.Exchange.TimeoutSeconds <= 0 {
		s.Exchange.TimeoutSeconds = 10
	}
	if s.Exchange.ExpireSeconds <= 0 {
		s.Exchange.ExpireSeconds = 5
	}
	if s.Trade.Leverage <= 0 {
		s.Trade.Leverage = 1
	}
	if s.Trade.InitWallet <= 0 {
		s.Trade.InitWallet = 100000
	}
	if s.Backtest.StatInterval <= 0 {
		s.Backtest.StatInterval = 60
	}
	if s.Log.Level == "" {
		s.Log.Level = "info"
	}
	if s.Log.MaxSizeMB <= 0 {
		s.Log.MaxSizeMB = 100
	}
	if s.ControlPlane.Listen == "" {
		s.ControlPlane.Listen = "127.0.0.1:8721"
	}
	if s.Clock == nil {
		s.Clock = RealClock{}
	}
}

// PingInterval 返回流连接 ping 间隔
func (s *Settings) PingInterval() time.Duration {
	return time.Duration(s.Exchange.PingIntervalSeconds) * time.Second
}

// Timeout 返回 REST 请求默认超时
func (s *Settings) Timeout() time.Duration {
	return time.Duration(s.Exchange.TimeoutSeconds) * time.Second
}
