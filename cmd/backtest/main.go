package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/zsluedem/monkq/internal/backtest"
	"github.com/zsluedem/monkq/internal/domain"
	"github.com/zsluedem/monkq/internal/strategies/buyhold"
	"github.com/zsluedem/monkq/pkg/bars"
	"github.com/zsluedem/monkq/pkg/config"
	"github.com/zsluedem/monkq/pkg/logger"
)

func main() {
	var (
		configFile = flag.String("config", "monkq.yaml", "配置文件路径")
		strategy   = flag.String("strategy", "buyhold", "策略名称")
		quantity   = flag.Float64("quantity", 100, "买入持有策略的下单数量")
	)
	flag.Parse()

	settings, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      settings.Log.Level,
		OutputFile: settings.Log.File,
		MaxSize:    settings.Log.MaxSizeMB,
		MaxBackups: settings.Log.MaxBackups,
		MaxAge:     settings.Log.MaxAgeDays,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	if len(settings.Backtest.Symbols) == 0 {
		logger.Error("回测配置缺少 symbols")
		os.Exit(1)
	}
	if settings.Backtest.Start.IsZero() || settings.Backtest.End.IsZero() {
		logger.Error("回测配置缺少 start/end")
		os.Exit(1)
	}

	store, err := bars.OpenSQLite(settings.Backtest.DataFile)
	if err != nil {
		logger.Errorf("打开K线数据失败: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	instruments := defaultInstruments(settings.Backtest.Symbols)

	registry := backtest.NewRegistry()
	if err := registry.Register(buyhold.New(settings.Backtest.Symbols[0], *quantity)); err != nil {
		logger.Errorf("注册策略失败: %v", err)
		os.Exit(1)
	}
	strat, err := registry.Get(*strategy)
	if err != nil {
		logger.Errorf("%v, 可用: %v", err, registry.List())
		os.Exit(1)
	}

	runner := backtest.NewRunner(settings, store, strat, instruments)
	summary, err := runner.Run()
	if err != nil {
		logger.Errorf("回测失败: %v", err)
		os.Exit(1)
	}

	fmt.Printf("回测区间    %s ~ %s\n", summary.Start.Format("2006-01-02 15:04"), summary.End.Format("2006-01-02 15:04"))
	fmt.Printf("初始资金    %.4f\n", summary.InitWallet)
	fmt.Printf("最终资金    %.4f\n", summary.FinalWallet)
	fmt.Printf("总收益率    %.2f%%\n", summary.TotalReturn*100)
	fmt.Printf("最大回撤    %.2f%%\n", summary.MaxDrawdown*100)
}

// defaultInstruments 回测用的合约参数。历史数据里没有合约静态信息，
// 这里按 BitMEX 永续合约的常见参数构造。
func defaultInstruments(symbols []string) map[string]*domain.Instrument {
	out := make(map[string]*domain.Instrument, len(symbols))
	for _, symbol := range symbols {
		out[symbol] = &domain.Instrument{
			Symbol:          symbol,
			TickSize:        0.5,
			LotSize:         1,
			MakerFee:        -0.00025,
			TakerFee:        0.00075,
			InitMarginRate:  0.01,
			MaintMarginRate: 0.005,
			ListingDate:     time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC),
		}
	}
	return out
}
