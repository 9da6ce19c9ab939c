package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zsluedem/monkq/internal/domain"
	"github.com/zsluedem/monkq/internal/exchange/bitmex"
	"github.com/zsluedem/monkq/internal/trading/matcher"
	"github.com/zsluedem/monkq/pkg/logger"
)

// Server 只读状态面板：健康检查、账户、仓位、挂单、镜像表状态。
// 不提供任何下单撤单入口，交易指令只能走策略代码。
type Server struct {
	account   *domain.Account
	scheduler *matcher.Scheduler
	sync      *bitmex.Synchronizer
	symbols   []string

	httpSrv *http.Server
}

// New 创建状态服务
func New(account *domain.Account, scheduler *matcher.Scheduler, synchronizer *bitmex.Synchronizer, symbols []string) *Server {
	return &Server{
		account:   account,
		scheduler: scheduler,
		sync:      synchronizer,
		symbols:   symbols,
	}
}

// Router 组装路由
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api")
	api.GET("/account", s.handleAccount)
	api.GET("/positions", s.handlePositions)
	api.GET("/orders", s.handleOrders)
	api.GET("/market", s.handleMarket)

	return r
}

// Start 在 listen 地址上启动服务（非阻塞）
func (s *Server) Start(listen string) {
	s.httpSrv = &http.Server{Addr: listen, Handler: s.Router()}
	go func() {
		logger.Infof("状态服务监听 %s", listen)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("状态服务退出: %v", err)
		}
	}()
}

// Close 优雅关闭
func (s *Server) Close() error {
	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleAccount(c *gin.Context) {
	wallet, available := s.account.Balances()
	c.JSON(http.StatusOK, gin.H{
		"wallet_balance":    wallet,
		"available_balance": available,
	})
}

func (s *Server) handlePositions(c *gin.Context) {
	type positionView struct {
		Symbol    string  `json:"symbol"`
		Quantity  float64 `json:"quantity"`
		OpenPrice float64 `json:"open_price"`
		Leverage  float64 `json:"leverage"`
		Isolated  bool    `json:"isolated"`
		Margin    float64 `json:"margin"`
		LiqPrice  float64 `json:"liq_price"`
	}

	// 撮合与请求处理并发，视图只能来自账户锁内的快照
	out := make([]positionView, 0)
	for _, p := range s.account.PositionViews() {
		out = append(out, positionView{
			Symbol:    p.Symbol,
			Quantity:  p.Quantity,
			OpenPrice: p.OpenPrice,
			Leverage:  p.Leverage,
			Isolated:  p.Isolated,
			Margin:    p.Margin,
			LiqPrice:  p.LiqPrice,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleOrders(c *gin.Context) {
	type orderView struct {
		OrderID    string    `json:"order_id"`
		Symbol     string    `json:"symbol"`
		Kind       string    `json:"kind"`
		Quantity   float64   `json:"quantity"`
		Traded     float64   `json:"traded"`
		Price      float64   `json:"price"`
		Status     string    `json:"status"`
		SubmitTime time.Time `json:"submit_time"`
	}

	out := make([]orderView, 0)
	for _, o := range s.scheduler.OrderViews() {
		out = append(out, orderView{
			OrderID:    o.OrderID,
			Symbol:     o.Symbol,
			Kind:       string(o.Kind),
			Quantity:   o.Quantity,
			Traded:     o.Traded,
			Price:      o.Price,
			Status:     string(o.Status),
			SubmitTime: o.SubmitTime,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleMarket(c *gin.Context) {
	type marketView struct {
		Symbol    string  `json:"symbol"`
		LastPrice float64 `json:"last_price"`
		BestBid   float64 `json:"best_bid"`
		BestAsk   float64 `json:"best_ask"`
		Desynced  bool    `json:"desynced"`
	}

	out := make([]marketView, 0, len(s.symbols))
	for _, symbol := range s.symbols {
		view := marketView{
			Symbol:    symbol,
			LastPrice: s.sync.LastPrice(symbol),
			Desynced:  s.sync.Desynced(symbol),
		}
		if bid, ok := s.sync.BestBid(symbol); ok {
			view.BestBid = bid.Price
		}
		if ask, ok := s.sync.BestAsk(symbol); ok {
			view.BestAsk = ask.Price
		}
		out = append(out, view)
	}
	c.JSON(http.StatusOK, out)
}
