package bitmex

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zsluedem/monkq/pkg/config"
)

var upgrader = websocket.Upgrader{}

// streamTestServer 本地流服务端：校验认证帧后回放脚本帧
func streamTestServer(t *testing.T, script []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// 第一帧必须是认证
		var auth wsCommand
		if err := conn.ReadJSON(&auth); err != nil || auth.Op != "authKeyExpires" {
			t.Errorf("首帧应为 authKeyExpires，实际为 %+v (err=%v)", auth, err)
			return
		}

		for _, frame := range script {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		// 维持连接直到客户端关闭
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func newTestStream(t *testing.T, script []string) (*Stream, *Synchronizer) {
	t.Helper()
	srv := streamTestServer(t, script)
	t.Cleanup(srv.Close)

	settings := config.Default()
	settings.Exchange.APIKey = "test-key"
	settings.Exchange.APISecret = "test-secret"
	settings.Clock = config.RealClock{}

	gateway := NewGateway(settings)
	gateway.wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")

	synchronizer := NewSynchronizer()
	return NewStream(gateway, settings, synchronizer), synchronizer
}

func waitFor(t *testing.T, cond func() bool, desc string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("等待超时: %s", desc)
}

// TestStreamDispatchesFrames 读取任务把表帧同步分发进同步器
func TestStreamDispatchesFrames(t *testing.T) {
	partial, _ := json.Marshal(map[string]interface{}{
		"table":  TableTrade,
		"action": ActionPartial,
		"keys":   []string{"trdMatchID"},
		"data": []map[string]interface{}{
			{"trdMatchID": "t1", "symbol": "XBTUSD", "price": 42.5},
		},
	})

	stream, synchronizer := newTestStream(t, []string{string(partial)})
	if err := stream.Connect(); err != nil {
		t.Fatalf("连接失败: %v", err)
	}
	defer stream.Close()

	waitFor(t, func() bool { return synchronizer.LastPrice("XBTUSD") == 42.5 },
		"表帧应分发进同步器")
}

// TestStreamCloseOrdering 关闭后拒绝发送，且等到读取与保活任务全部退出才返回
func TestStreamCloseOrdering(t *testing.T) {
	stream, _ := newTestStream(t, nil)
	if err := stream.Connect(); err != nil {
		t.Fatalf("连接失败: %v", err)
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("关闭失败: %v", err)
	}
	if got := stream.group.Running(); got != 0 {
		t.Errorf("Close 返回后不应有任务仍在运行，实际 %d 个", got)
	}
	if err := stream.Subscribe("trade:XBTUSD"); err == nil {
		t.Error("关闭后发送应被拒绝")
	}
	// 重复关闭幂等
	if err := stream.Close(); err != nil {
		t.Errorf("重复关闭应为空操作: %v", err)
	}
}

// TestStreamSubscribeDeduplicates 已订阅的主题不重复下发
func TestStreamSubscribeDeduplicates(t *testing.T) {
	stream, _ := newTestStream(t, nil)
	if err := stream.Connect(); err != nil {
		t.Fatalf("连接失败: %v", err)
	}
	defer stream.Close()

	if err := stream.Subscribe("trade:XBTUSD", "quote:XBTUSD"); err != nil {
		t.Fatalf("订阅失败: %v", err)
	}
	if err := stream.Subscribe("trade:XBTUSD"); err != nil {
		t.Fatalf("重复订阅不应报错: %v", err)
	}
}

// TestStreamResubscribesAfterDesync 表同步故障不在读取任务上发网络请求，
// 而是交给重订阅任务先退订再订阅受影响的表
func TestStreamResubscribesAfterDesync(t *testing.T) {
	partial, _ := json.Marshal(map[string]interface{}{
		"table":  TableOrderBook,
		"action": ActionPartial,
		"data": []map[string]interface{}{
			{"symbol": "XBTUSD", "id": 1, "side": "Buy", "price": 100.0, "size": 10.0},
		},
	})
	miss, _ := json.Marshal(map[string]interface{}{
		"table":  TableOrderBook,
		"action": ActionDelete,
		"data":   []map[string]interface{}{{"symbol": "XBTUSD", "id": 99}},
	})

	cmds := make(chan wsCommand, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var auth wsCommand
		if err := conn.ReadJSON(&auth); err != nil || auth.Op != "authKeyExpires" {
			return
		}
		conn.WriteMessage(websocket.TextMessage, partial)
		conn.WriteMessage(websocket.TextMessage, miss)
		for {
			var cmd wsCommand
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			cmds <- cmd
		}
	}))
	t.Cleanup(srv.Close)

	settings := config.Default()
	settings.Exchange.APIKey = "test-key"
	settings.Exchange.APISecret = "test-secret"
	settings.Clock = config.RealClock{}
	gateway := NewGateway(settings)
	gateway.wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")

	stream := NewStream(gateway, settings, NewSynchronizer())
	if err := stream.Connect(); err != nil {
		t.Fatalf("连接失败: %v", err)
	}
	defer stream.Close()

	want := topicOf(TableOrderBook, "XBTUSD")
	expect := func(op string) {
		t.Helper()
		select {
		case cmd := <-cmds:
			if cmd.Op != op || len(cmd.Args) != 1 || cmd.Args[0] != want {
				t.Fatalf("应收到 %s %s，实际为 %+v", op, want, cmd)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("等待 %s 超时", op)
		}
	}
	expect("unsubscribe")
	expect("subscribe")
}
