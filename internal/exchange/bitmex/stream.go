package bitmex

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zsluedem/monkq/pkg/config"
	"github.com/zsluedem/monkq/pkg/exception"
	"github.com/zsluedem/monkq/pkg/logger"
	"github.com/zsluedem/monkq/pkg/sigchan"
	"github.com/zsluedem/monkq/pkg/syncgroup"
)

// Stream 交易会话唯一的认证流连接。
//
// 单一读取 goroutine 拉帧并同步分发进 Synchronizer（处理器内不得做
// 阻塞网络调用，否则会卡住读取、丢帧）；保活 ping 是独立的周期任务，
// 与读取互不阻塞；失同步重订阅再占一个任务。
type Stream struct {
	gateway  *Gateway
	settings *config.Settings
	sync     *Synchronizer

	conn   *websocket.Conn
	connMu sync.Mutex // 串行化写（gorilla 只允许一个并发写者）

	closed    atomic.Bool
	stopCh    chan struct{}
	group     *syncgroup.SyncGroup
	lastFrame atomic.Int64 // 最近一帧的 unix 纳秒，保活据此判断静默

	subMu         sync.Mutex
	subscriptions map[string]bool // topic -> 已订阅

	pendMu  sync.Mutex
	pending map[string]bool // 待重订阅主题，由重订阅任务消费
	resyncC *sigchan.Chan
}

// wsCommand 流上的指令消息 {"op": ..., "args": [...]}
type wsCommand struct {
	Op   string        `json:"op"`
	Args []interface{} `json:"args,omitempty"`
}

// NewStream 创建流连接（尚未连接）
func NewStream(gateway *Gateway, settings *config.Settings, synchronizer *Synchronizer) *Stream {
	return &Stream{
		gateway:       gateway,
		settings:      settings,
		sync:          synchronizer,
		stopCh:        make(chan struct{}),
		group:         syncgroup.NewSyncGroup(),
		subscriptions: make(map[string]bool),
		pending:       make(map[string]bool),
		resyncC:       sigchan.New(1),
	}
}

// Connect 建立连接、完成认证，并启动读取 / 保活 / 重订阅三个任务
func (s *Stream) Connect() error {
	dialer := websocket.Dialer{
		HandshakeTimeout: s.settings.Timeout(),
	}
	if s.settings.Exchange.HTTPProxy != "" {
		proxyURL, err := url.Parse(s.settings.Exchange.HTTPProxy)
		if err != nil {
			return fmt.Errorf("无效的代理地址: %w", err)
		}
		dialer.Proxy = http.ProxyURL(proxyURL)
	}

	conn, _, err := dialer.Dial(s.gateway.WsURL(), nil)
	if err != nil {
		return fmt.Errorf("流连接失败: %w", err)
	}
	s.conn = conn
	s.lastFrame.Store(time.Now().UnixNano())

	// 认证后服务端才接受私有表订阅
	key, expires, sig := s.gateway.WsAuthArgs()
	if err := s.writeJSON(wsCommand{Op: "authKeyExpires", Args: []interface{}{key, expires, sig}}); err != nil {
		conn.Close()
		return fmt.Errorf("流认证失败: %w", err)
	}

	s.group.Add(s.readLoop)
	s.group.Add(s.keepaliveLoop)
	s.group.Add(s.resyncLoop)
	s.group.Run()

	logger.Infof("流连接已建立: %s", s.gateway.WsURL())
	return nil
}

// Subscribe 订阅主题（例如 orderBookL2:XBTUSD、margin、order）
func (s *Stream) Subscribe(topics ...string) error {
	s.subMu.Lock()
	newTopics := make([]interface{}, 0, len(topics))
	for _, t := range topics {
		if !s.subscriptions[t] {
			s.subscriptions[t] = true
			newTopics = append(newTopics, t)
		}
	}
	s.subMu.Unlock()

	if len(newTopics) == 0 {
		return nil
	}
	return s.writeJSON(wsCommand{Op: "subscribe", Args: newTopics})
}

// Close 关闭流：先拒绝后续发送，随后关连接，最后等读取、保活、
// 重订阅任务全部退出才返回。
func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.stopCh)

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
	}
	s.connMu.Unlock()

	s.group.Wait()
	logger.Info("流连接已关闭")
	return nil
}

// writeJSON 串行化的发送路径，关闭开始后一律拒绝。
// 带写超时：对端停滞不能无限期占住发送者。
func (s *Stream) writeJSON(v interface{}) error {
	if s.closed.Load() {
		return fmt.Errorf("流已关闭，拒绝发送")
	}
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("流未连接")
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.settings.Timeout()))
	return s.conn.WriteJSON(v)
}

// readLoop 唯一的帧读取任务。表镜像的变更全部发生在这个 goroutine，
// 所以同步器的写路径不需要额外的串行化。
func (s *Stream) readLoop() {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			logger.Errorf("流读取错误: %v", err)
			return
		}
		s.lastFrame.Store(time.Now().UnixNano())
		s.handleFrame(raw)
	}
}

func (s *Stream) handleFrame(raw []byte) {
	if string(raw) == "pong" {
		return
	}

	var frame streamFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		logger.Warnf("无法解析的流帧: %.120s", string(raw))
		return
	}

	switch {
	case frame.Error != "":
		logger.Errorf("流错误帧: %s", frame.Error)
	case frame.Success:
		logger.WithField("topic", frame.Subscribe).Debug("订阅确认")
	case frame.Info != "":
		logger.Debugf("流欢迎信息: %s", frame.Info)
	case frame.Table != "":
		if err := s.sync.Apply(&frame.TableMessage); err != nil {
			// delete 未命中等协议故障：交给重订阅任务重建镜像，
			// 读取循环本身绝不做网络发送、绝不死掉
			logger.Errorf("表同步故障: %v", err)
			var desync *exception.DesyncError
			if errors.As(err, &desync) {
				s.requestResync(topicOf(desync.Table, desync.Symbol))
			}
		}
	}
}

// requestResync 把主题排进待重订阅集合并唤醒重订阅任务
func (s *Stream) requestResync(topic string) {
	s.pendMu.Lock()
	s.pending[topic] = true
	s.pendMu.Unlock()
	s.resyncC.Emit()
}

// topicOf 表级订阅主题，带合约时附加过滤
func topicOf(table, symbol string) string {
	if symbol == "" {
		return table
	}
	return table + ":" + symbol
}

// resubscribe 先退订再订阅，让服务端重发 partial
func (s *Stream) resubscribe(topic string) {
	if err := s.writeJSON(wsCommand{Op: "unsubscribe", Args: []interface{}{topic}}); err != nil {
		return
	}
	s.writeJSON(wsCommand{Op: "subscribe", Args: []interface{}{topic}})
}

// keepaliveLoop 独立的保活任务：静默超过 ping_interval 就发 ping。
// 它不会被慢消费者阻塞，也不阻塞读取。
func (s *Stream) keepaliveLoop() {
	interval := s.settings.PingInterval()
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			idle := time.Duration(time.Now().UnixNano() - s.lastFrame.Load())
			if idle < interval {
				continue
			}
			s.connMu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(s.settings.Timeout()))
			err := s.conn.WriteMessage(websocket.TextMessage, []byte("ping"))
			s.connMu.Unlock()
			if err != nil && !s.closed.Load() {
				logger.Warnf("ping 发送失败: %v", err)
			}
		}
	}
}

// resyncLoop 唯一做重订阅发送的任务：消费同步器的失同步信号
// 与读取任务排入的待重订阅主题
func (s *Stream) resyncLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.sync.ResyncC().C():
			s.drainResync()
		case <-s.resyncC.C():
			s.drainResync()
		}
	}
}

func (s *Stream) drainResync() {
	topics := make(map[string]bool)

	s.pendMu.Lock()
	for topic := range s.pending {
		topics[topic] = true
	}
	s.pending = make(map[string]bool)
	s.pendMu.Unlock()

	for _, symbol := range s.sync.DesyncedSymbols() {
		topics[topicOf(TableOrderBook, symbol)] = true
		s.sync.ClearDesync(symbol)
	}

	for topic := range topics {
		logger.WithField("topic", topic).Warn("重新订阅失同步的表")
		s.resubscribe(topic)
	}
}
