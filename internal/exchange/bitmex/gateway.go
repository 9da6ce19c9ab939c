package bitmex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/zsluedem/monkq/pkg/config"
	"github.com/zsluedem/monkq/pkg/exception"
	"github.com/zsluedem/monkq/pkg/logger"
)

const (
	liveHost    = "https://www.bitmex.com"
	sandboxHost = "https://testnet.bitmex.com"
	liveWsURL   = "wss://ws.bitmex.com/realtime"
	sandboxWs   = "wss://ws.testnet.bitmex.com/realtime"

	apiPrefix = "/api/v1"

	// 503 间的固定等待。这里 sleep 只阻塞本次调用的 goroutine，
	// 不阻塞共享连接池上的其他调用方。
	retryWait = 500 * time.Millisecond
)

// marginPattern 识别 400 错误体里的保证金不足类消息
var marginPattern = regexp.MustCompile(`(?i)insufficient.*balance`)

// CallOptions 单次调用的覆盖项
type CallOptions struct {
	Timeout time.Duration
	// MaxRetries 重试预算。负数表示按动词取默认：
	// GET/DELETE 幂等默认可重试，POST/PUT 默认为零——重发改单请求
	// 有重复执行的风险，预算必须由调用方显式抬高。
	MaxRetries int
}

// apiError 交易所错误体 {"error": {"message": ..., "name": ...}}
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Name    string `json:"name"`
	} `json:"error"`
}

// Gateway 签名并发出 REST 调用，并持有本交易会话唯一的流连接地址。
// 所有 REST 调用共享同一个连接池（resty client）。
type Gateway struct {
	client   *resty.Client
	settings *config.Settings
	host     string
	wsURL    string
}

// NewGateway 创建网关。代理、超时等均取自 Settings，按引用持有。
func NewGateway(settings *config.Settings) *Gateway {
	host := liveHost
	wsURL := liveWsURL
	if settings.Exchange.Sandbox {
		host = sandboxHost
		wsURL = sandboxWs
	}

	client := resty.New().
		SetBaseURL(host).
		SetTimeout(settings.Timeout()).
		SetRetryCount(0) // 重试由状态分类逻辑自己管理，不用 resty 的

	if settings.Exchange.HTTPProxy != "" {
		client.SetProxy(settings.Exchange.HTTPProxy)
	}

	return &Gateway{
		client:   client,
		settings: settings,
		host:     host,
		wsURL:    wsURL,
	}
}

// WsURL 流连接地址
func (g *Gateway) WsURL() string {
	return g.wsURL
}

// WsAuthArgs 流连接认证参数（authKeyExpires 消息的 args）
func (g *Gateway) WsAuthArgs() (key string, expires int64, signature string) {
	expires = g.expires()
	sig := Sign(g.settings.Exchange.APISecret, http.MethodGet, "/realtime", expires, "")
	return g.settings.Exchange.APIKey, expires, sig
}

func (g *Gateway) expires() int64 {
	return g.settings.Clock.Now().Unix() + int64(g.settings.Exchange.ExpireSeconds)
}

func defaultRetries(method string) int {
	switch method {
	case http.MethodGet, http.MethodDelete:
		return 3
	default:
		return 0
	}
}

// Call 发出一次签名 REST 调用并做穷尽的状态分类。
// 重试用显式循环 + 递减预算，而不是递归，避免病态重试数把调用栈撑爆。
func (g *Gateway) Call(ctx context.Context, method, path string, query url.Values, body interface{}, opt CallOptions) ([]byte, error) {
	budget := opt.MaxRetries
	if budget < 0 {
		budget = defaultRetries(method)
	}
	attempts := 0
	var lastErr error

	var payload string
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "编码请求体失败")
		}
		payload = string(raw)
	}

	for {
		attempts++
		data, retryable, err := g.doOnce(ctx, method, path, query, payload, opt.Timeout)
		if err == nil {
			return data, nil
		}
		if !retryable {
			return nil, err
		}

		lastErr = err
		if budget <= 0 {
			return nil, &exception.MaxRetryError{Attempts: attempts, Last: lastErr}
		}
		budget--
		logger.WithField("path", path).Warnf("请求失败将重试（剩余预算 %d）: %v", budget, err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryWait):
		}
	}
}

// doOnce 单次请求。第二个返回值表示该失败是否可重试。
func (g *Gateway) doOnce(ctx context.Context, method, path string, query url.Values, payload string, timeout time.Duration) ([]byte, bool, error) {
	fullPath := apiPrefix + path
	if len(query) > 0 {
		fullPath += "?" + query.Encode()
	}

	expires := g.expires()
	sig := Sign(g.settings.Exchange.APISecret, method, fullPath, expires, payload)

	req := g.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetHeader("api-key", g.settings.Exchange.APIKey).
		SetHeader("api-expires", strconv.FormatInt(expires, 10)).
		SetHeader("api-signature", sig)
	if payload != "" {
		req.SetHeader("Content-Type", "application/json")
		req.SetBody(payload)
	}
	if timeout > 0 {
		tctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		req.SetContext(tctx)
	}

	resp, err := req.Execute(method, fullPath)
	if err != nil {
		// 网络/超时异常与 503 同等对待：有界重试
		return nil, true, errors.Wrap(err, "请求发送失败")
	}

	status := resp.StatusCode()
	switch {
	case status >= 200 && status < 300:
		return resp.Body(), false, nil

	case status == http.StatusBadRequest:
		name, message := parseAPIError(resp.Body())
		if marginPattern.MatchString(message) {
			return nil, false, exception.ErrMarginNotEnough
		}
		return nil, false, &exception.APIError{Status: status, Name: name, Message: message}

	case status == http.StatusUnauthorized:
		// 致命：凭证错误，立即向上传播，绝不重试
		return nil, false, exception.ErrAuth

	case status == http.StatusForbidden:
		name, message := parseAPIError(resp.Body())
		return nil, false, &exception.APIError{Status: status, Name: name, Message: message}

	case status == http.StatusNotFound:
		// DELETE 的 404 意味着订单早已不在（已撤或已成交），
		// 对调用方未必致命，由它自行判断是否忽略。
		return nil, false, exception.ErrNotFound

	case status == http.StatusTooManyRequests:
		// 网关自己绝不 sleep，把距重置的时间交给调用方决定
		return nil, false, g.rateLimitError(resp)

	case status == http.StatusServiceUnavailable:
		return nil, true, errors.Errorf("交易所暂时不可用 (503)")

	default:
		name, message := parseAPIError(resp.Body())
		return nil, false, &exception.APIError{Status: status, Name: name, Message: message}
	}
}

func (g *Gateway) rateLimitError(resp *resty.Response) *exception.RateLimitError {
	e := &exception.RateLimitError{}
	if v := resp.Header().Get("X-RateLimit-Remaining"); v != "" {
		e.Remaining, _ = strconv.Atoi(v)
	}
	if v := resp.Header().Get("X-RateLimit-Reset"); v != "" {
		if reset, err := strconv.ParseInt(v, 10, 64); err == nil {
			until := time.Duration(reset-g.settings.Clock.Now().Unix()) * time.Second
			if until < 0 {
				until = 0
			}
			e.ResetAfter = until
		}
	}
	return e
}

func parseAPIError(body []byte) (name, message string) {
	var e apiError
	if err := json.Unmarshal(body, &e); err != nil {
		return "", string(body)
	}
	return e.Error.Name, e.Error.Message
}
