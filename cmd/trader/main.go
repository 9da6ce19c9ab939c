package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/zsluedem/monkq/internal/backtest"
	"github.com/zsluedem/monkq/internal/controlplane/server"
	"github.com/zsluedem/monkq/internal/domain"
	"github.com/zsluedem/monkq/internal/exchange/bitmex"
	"github.com/zsluedem/monkq/internal/strategies/buyhold"
	"github.com/zsluedem/monkq/internal/trading/live"
	"github.com/zsluedem/monkq/internal/trading/matcher"
	"github.com/zsluedem/monkq/pkg/config"
	"github.com/zsluedem/monkq/pkg/logger"
	"github.com/zsluedem/monkq/pkg/secretstore"
)

func main() {
	var (
		configFile   = flag.String("config", "monkq.yaml", "配置文件路径")
		envFile      = flag.String("env", ".env", "环境变量文件（可选）")
		secretPath   = flag.String("secretstore", "", "凭证库目录（可选，配置未提供密钥时使用）")
		secretKey    = flag.String("secretstore-key", "", "凭证库加密密钥（hex 或 base64，32 字节）")
		symbolsFlag  = flag.String("symbols", "XBTUSD", "订阅合约，逗号分隔")
		strategyFlag = flag.String("strategy", "buyhold", "策略名称，留空则只镜像行情不交易")
		quantityFlag = flag.Float64("quantity", 100, "买入持有策略的下单数量")
	)
	flag.Parse()

	settings, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	settings.LoadDotenv(*envFile)
	settings.Clock = config.RealClock{}

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

	if settings.Exchange.APIKey == "" && *secretPath != "" {
		if err := loadCredentials(settings, *secretPath, *secretKey); err != nil {
			logger.Errorf("读取凭证库失败: %v", err)
			os.Exit(1)
		}
	}
	if settings.Exchange.APIKey == "" || settings.Exchange.APISecret == "" {
		logger.Error("缺少 API 密钥（配置、环境变量、凭证库均未提供）")
		os.Exit(1)
	}

	symbols := strings.Split(*symbolsFlag, ",")
	if err := run(settings, symbols, *strategyFlag, *quantityFlag); err != nil {
		logger.Errorf("实盘会话退出: %v", err)
		os.Exit(1)
	}
}

// loadCredentials 从加密凭证库填充 API 密钥
func loadCredentials(settings *config.Settings, path, keyHex string) error {
	encKey, err := secretstore.ParseKey(keyHex)
	if err != nil {
		return fmt.Errorf("无效的加密密钥: %w", err)
	}

	store, err := secretstore.Open(secretstore.OpenOptions{
		Path:          path,
		EncryptionKey: encKey,
		ReadOnly:      true,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	creds, found, err := store.Credentials()
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("凭证库中没有 API 密钥")
	}
	settings.Exchange.APIKey = creds.APIKey
	settings.Exchange.APISecret = creds.APISecret
	return nil
}

func run(settings *config.Settings, symbols []string, strategyName string, quantity float64) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gateway := bitmex.NewGateway(settings)

	// 合约静态数据只在启动时拉取一次
	instruments, err := gateway.Instruments(ctx)
	if err != nil {
		return fmt.Errorf("拉取合约列表失败: %w", err)
	}
	instIndex := make(map[string]*domain.Instrument, len(instruments))
	for _, inst := range instruments {
		instIndex[inst.Symbol] = inst
	}
	for _, symbol := range symbols {
		if _, ok := instIndex[symbol]; !ok {
			return fmt.Errorf("交易所无此合约: %s", symbol)
		}
	}

	// 钱包余额以交易所侧为准
	margin, err := gateway.Margin(ctx)
	if err != nil {
		return fmt.Errorf("拉取保证金失败: %w", err)
	}
	account := domain.NewAccount(margin.WalletBalance, settings.Trade.Leverage, settings.Trade.IsolatedMargin)

	synchronizer := bitmex.NewSynchronizer()
	stream := bitmex.NewStream(gateway, settings, synchronizer)
	if err := stream.Connect(); err != nil {
		return err
	}
	defer stream.Close()

	topics := []string{bitmex.TableMargin, bitmex.TablePosition, bitmex.TableOrder}
	for _, symbol := range symbols {
		topics = append(topics,
			bitmex.TableQuote+":"+symbol,
			bitmex.TableTrade+":"+symbol,
			bitmex.TableOrderBook+":"+symbol,
		)
	}
	if err := stream.Subscribe(topics...); err != nil {
		return fmt.Errorf("订阅失败: %w", err)
	}

	scheduler := matcher.NewScheduler(account, synchronizer, settings.Clock)

	// 实盘与回测用同一个策略接口：驱动器逐分钟把镜像最新价
	// 录制成K线喂给策略，并按固定节奏撮合
	var strat backtest.Strategy
	if strategyName != "" {
		registry := backtest.NewRegistry()
		if err := registry.Register(buyhold.New(symbols[0], quantity)); err != nil {
			return err
		}
		strat, err = registry.Get(strategyName)
		if err != nil {
			return fmt.Errorf("%w, 可用: %v", err, registry.List())
		}
	}
	driver := live.New(strat, account, scheduler, synchronizer, instIndex, symbols, settings.Clock)
	if err := driver.Setup(); err != nil {
		return fmt.Errorf("策略初始化失败: %w", err)
	}

	tickDone := make(chan struct{})
	go func() {
		defer close(tickDone)
		driver.Run(ctx)
	}()

	var statusSrv *server.Server
	if settings.ControlPlane.Enabled {
		statusSrv = server.New(account, scheduler, synchronizer, symbols)
		statusSrv.Start(settings.ControlPlane.Listen)
		defer statusSrv.Close()
	}

	logger.Infof("实盘会话已启动, 合约: %s", strings.Join(symbols, ","))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("收到退出信号，开始关闭")
	cancel()
	<-tickDone
	return nil
}
