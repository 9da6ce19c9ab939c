package buyhold

import (
	"github.com/pkg/errors"

	"github.com/zsluedem/monkq/internal/backtest"
	"github.com/zsluedem/monkq/internal/domain"
	"github.com/zsluedem/monkq/pkg/exception"
	"github.com/zsluedem/monkq/pkg/logger"
)

// Strategy 买入持有：第一根有行情的K线按市价买入固定数量，之后不再动作。
// 主要用作回测框架的冒烟基准。
type Strategy struct {
	Symbol   string
	Quantity float64

	entered bool
}

func New(symbol string, quantity float64) *Strategy {
	return &Strategy{Symbol: symbol, Quantity: quantity}
}

func (s *Strategy) Name() string { return "buyhold" }

func (s *Strategy) Setup(ctx *backtest.Context) error {
	if _, ok := ctx.Instruments[s.Symbol]; !ok {
		return errors.Errorf("未知合约: %s", s.Symbol)
	}
	return nil
}

func (s *Strategy) OnBar(ctx *backtest.Context) error {
	if s.entered {
		return nil
	}
	if _, ok := ctx.Bar(s.Symbol); !ok {
		return nil
	}

	order := &domain.Order{
		Account:    ctx.Account,
		Instrument: ctx.Instruments[s.Symbol],
		Kind:       domain.OrderKindMarket,
		Quantity:   s.Quantity,
	}
	if err := ctx.Scheduler.Submit(order); err != nil {
		if errors.Is(err, exception.ErrMarginNotEnough) {
			logger.Warnf("保证金不足，放弃建仓: %v", err)
			s.entered = true
			return nil
		}
		return err
	}

	s.entered = true
	logger.WithField("order", order.OrderID).Info("买入持有建仓")
	return nil
}
