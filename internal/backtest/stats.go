package backtest

import (
	"time"

	"github.com/zsluedem/monkq/internal/domain"
)

// Sample 一次账户状态采样
type Sample struct {
	Time      time.Time
	Wallet    float64
	Available float64
}

// Stats 回测统计：按固定间隔采样账户状态，结束后汇总
type Stats struct {
	InitWallet float64
	Samples    []Sample
}

// NewStats 创建统计收集器
func NewStats(initWallet float64) *Stats {
	return &Stats{InitWallet: initWallet}
}

// Sample 采样一次账户状态
func (s *Stats) Sample(t time.Time, account *domain.Account) {
	s.Samples = append(s.Samples, Sample{
		Time:      t,
		Wallet:    account.WalletBalance,
		Available: account.AvailableBalance(),
	})
}

// Summary 回测汇总结果
type Summary struct {
	InitWallet   float64
	FinalWallet  float64
	TotalReturn  float64 // 相对初始资金的收益率
	MaxDrawdown  float64 // 钱包余额相对峰值的最大回撤比例
	SampleCount  int
	Start        time.Time
	End          time.Time
}

// Summary 汇总所有采样
func (s *Stats) Summary() Summary {
	out := Summary{
		InitWallet:  s.InitWallet,
		FinalWallet: s.InitWallet,
		SampleCount: len(s.Samples),
	}
	if len(s.Samples) == 0 {
		return out
	}

	out.Start = s.Samples[0].Time
	out.End = s.Samples[len(s.Samples)-1].Time
	out.FinalWallet = s.Samples[len(s.Samples)-1].Wallet
	if s.InitWallet != 0 {
		out.TotalReturn = (out.FinalWallet - s.InitWallet) / s.InitWallet
	}

	peak := s.InitWallet
	for _, sample := range s.Samples {
		if sample.Wallet > peak {
			peak = sample.Wallet
		}
		if peak > 0 {
			dd := (peak - sample.Wallet) / peak
			if dd > out.MaxDrawdown {
				out.MaxDrawdown = dd
			}
		}
	}
	return out
}
