package relayclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/aegis-sign/wcsigner/internal/transport"
)

const (
	methodSubscribe    = "irn_subscribe"
	methodUnsubscribe  = "irn_unsubscribe"
	methodPublish      = "irn_publish"
	methodSubscription = "irn_subscription"

	maxFrameBytes = 1 << 20
)

var (
	// ErrInvalidKey 表示对称密钥长度不是 32 字节。
	ErrInvalidKey = errors.New("relay symmetric key must be 32 bytes")
	// ErrNotConnected 表示当前没有可用的 relay 连接。
	ErrNotConnected = errors.New("relay not connected")
	// ErrNotSubscribed 表示向未订阅的 topic 发布。
	ErrNotSubscribed = errors.New("topic not subscribed")
)

// requestTags 是会话方法对应的 relay 消息 tag，应答 tag 为请求 tag + 1。
var requestTags = map[string]int{
	transport.MethodSessionPropose: 1100,
	"wc_sessionSettle":             1102,
	transport.MethodSessionRequest: 1108,
	transport.MethodSessionDelete:  1112,
	transport.MethodSessionPing:    1114,
}

type frame struct {
	ID      int64               `json:"id"`
	JSONRPC string              `json:"jsonrpc"`
	Method  string              `json:"method,omitempty"`
	Params  json.RawMessage     `json:"params,omitempty"`
	Result  json.RawMessage     `json:"result,omitempty"`
	Error   *transport.RPCError `json:"error,omitempty"`
}

type subscriptionParams struct {
	ID   string `json:"id"`
	Data struct {
		Topic       string `json:"topic"`
		Message     string `json:"message"`
		PublishedAt int64  `json:"publishedAt"`
		Tag         int    `json:"tag"`
	} `json:"data"`
}

type publishParams struct {
	Topic   string `json:"topic"`
	Message string `json:"message"`
	TTL     int64  `json:"ttl"`
	Tag     int    `json:"tag"`
}

type reply struct {
	result json.RawMessage
	err    error
}

type subscription struct {
	key []byte
	id  string
}

// Client 通过 websocket 连接 relay，实现 transport.Transport。
// 连接断开后按退避策略重连，并重新订阅全部 topic。
type Client struct {
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
	backoff *Backoff
	events  chan transport.Event
	nextID  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	conn    *websocket.Conn
	topics  map[string]*subscription
	pending map[int64]chan reply
	inbound map[string]map[int64]string
	closed  bool
}

// Dial 建立首个连接；失败直接返回，成功后在后台维持连接。
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("relay url is required")
	}
	normalized := cfg.normalize()
	runCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:     normalized,
		logger:  normalized.Logger,
		metrics: normalized.Metrics,
		backoff: NewBackoff(normalized.Backoff),
		events:  make(chan transport.Event, normalized.EventBuffer),
		ctx:     runCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
		topics:  make(map[string]*subscription),
		pending: make(map[int64]chan reply),
		inbound: make(map[string]map[int64]string),
	}
	c.nextID.Store(time.Now().UnixMilli() * 1000)
	conn, err := c.dial(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	c.setConn(conn)
	go c.maintain(conn)
	return c, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	target, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, err
	}
	if c.cfg.ProjectID != "" {
		q := target.Query()
		q.Set("projectId", c.cfg.ProjectID)
		target.RawQuery = q.Encode()
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, target.String(), &websocket.DialOptions{
		HTTPClient: httpClient(c.cfg.Endpoint, c.cfg.DialTimeout),
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxFrameBytes)
	return conn, nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.metrics.setConnected(true)
	c.logger.Info("relay connected", slog.String("url", c.cfg.URL))
}

// dropConn 清除当前连接，并让所有等待中的请求失败。
func (c *Client) dropConn(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	for id, ch := range c.pending {
		ch <- reply{err: ErrNotConnected}
		delete(c.pending, id)
	}
	c.mu.Unlock()
	_ = conn.CloseNow()
	c.metrics.setConnected(false)
	if c.ctx.Err() == nil {
		c.logger.Warn("relay connection lost", slog.Any("err", cause))
	}
}

func (c *Client) maintain(conn *websocket.Conn) {
	defer close(c.done)
	defer close(c.events)
	for {
		err := c.readLoop(conn)
		c.dropConn(conn, err)
		conn = c.reconnect()
		if conn == nil {
			return
		}
		go c.resubscribeAll()
	}
}

func (c *Client) reconnect() *websocket.Conn {
	for {
		wait := c.backoff.Next()
		select {
		case <-c.ctx.Done():
			return nil
		case <-time.After(wait):
		}
		conn, err := c.dial(c.ctx)
		if err != nil {
			c.logger.Warn("relay reconnect failed", slog.Duration("backoff", wait), slog.Any("err", err))
			continue
		}
		c.backoff.Reset()
		c.metrics.incReconnect()
		c.setConn(conn)
		return conn
	}
}

func (c *Client) resubscribeAll() {
	c.mu.Lock()
	topics := make([]string, 0, len(c.topics))
	for topic := range c.topics {
		topics = append(topics, topic)
	}
	c.mu.Unlock()
	for _, topic := range topics {
		res, err := c.call(c.ctx, methodSubscribe, map[string]string{"topic": topic})
		if err != nil {
			c.logger.Warn("relay resubscribe failed", slog.String("topic", topic), slog.Any("err", err))
			continue
		}
		c.storeSubscriptionID(topic, res)
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		var f frame
		if err := wsjson.Read(c.ctx, conn, &f); err != nil {
			return err
		}
		c.metrics.incFrame("in", f.Method)
		switch {
		case f.Method == "":
			c.resolve(f)
		case f.Method == methodSubscription:
			c.ack(conn, f.ID)
			c.deliver(f.Params)
		default:
			c.logger.Debug("relay frame ignored", slog.String("method", f.Method))
		}
	}
}

func (c *Client) resolve(f frame) {
	c.mu.Lock()
	ch := c.pending[f.ID]
	delete(c.pending, f.ID)
	c.mu.Unlock()
	if ch == nil {
		return
	}
	if f.Error != nil {
		ch <- reply{err: f.Error}
		return
	}
	ch <- reply{result: f.Result}
}

func (c *Client) ack(conn *websocket.Conn, id int64) {
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.RequestTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, frame{ID: id, JSONRPC: "2.0", Result: json.RawMessage("true")}); err != nil {
		c.logger.Warn("relay ack failed", slog.Int64("id", id), slog.Any("err", err))
	}
}

func (c *Client) deliver(raw json.RawMessage) {
	var params subscriptionParams
	if err := json.Unmarshal(raw, &params); err != nil {
		c.logger.Warn("relay subscription params invalid", slog.Any("err", err))
		return
	}
	topic := params.Data.Topic
	c.mu.Lock()
	sub := c.topics[topic]
	c.mu.Unlock()
	if sub == nil {
		c.logger.Debug("relay message for unknown topic dropped", slog.String("topic", topic))
		return
	}
	plain, err := open(sub.key, params.Data.Message)
	if err != nil {
		c.logger.Warn("relay message decrypt failed", slog.String("topic", topic), slog.Any("err", err))
		return
	}
	var msg transport.Message
	if err := json.Unmarshal(plain, &msg); err != nil {
		c.logger.Warn("relay message decode failed", slog.String("topic", topic), slog.Any("err", err))
		return
	}
	if msg.Method != "" {
		c.rememberInbound(topic, msg.ID, msg.Method)
	}
	select {
	case c.events <- transport.Event{Type: transport.Classify(msg), Topic: topic, Message: msg}:
	case <-c.ctx.Done():
	}
}

// call 发送 relay JSON-RPC 请求并等待应答。
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	id := c.nextID.Add(1)
	ch := make(chan reply, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, transport.ErrClosed
	}
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.pending[id] = ch
	c.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	if err := wsjson.Write(callCtx, conn, frame{ID: id, JSONRPC: "2.0", Method: method, Params: rawParams}); err != nil {
		c.forget(id)
		return nil, err
	}
	c.metrics.incFrame("out", method)
	select {
	case r := <-ch:
		return r.result, r.err
	case <-callCtx.Done():
		c.forget(id)
		return nil, callCtx.Err()
	}
}

func (c *Client) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Subscribe 登记 topic 的对称密钥并向 relay 订阅。
func (c *Client) Subscribe(ctx context.Context, topic string, symKey []byte) error {
	if len(symKey) != chacha20poly1305.KeySize {
		return fmt.Errorf("%w: got %d bytes", ErrInvalidKey, len(symKey))
	}
	c.mu.Lock()
	c.topics[topic] = &subscription{key: append([]byte(nil), symKey...)}
	c.mu.Unlock()
	res, err := c.call(ctx, methodSubscribe, map[string]string{"topic": topic})
	if err != nil {
		c.mu.Lock()
		delete(c.topics, topic)
		c.mu.Unlock()
		return err
	}
	c.storeSubscriptionID(topic, res)
	return nil
}

func (c *Client) storeSubscriptionID(topic string, res json.RawMessage) {
	var id string
	_ = json.Unmarshal(res, &id)
	c.mu.Lock()
	if sub := c.topics[topic]; sub != nil {
		sub.id = id
	}
	c.mu.Unlock()
}

// Unsubscribe 取消订阅并丢弃密钥。
func (c *Client) Unsubscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	sub := c.topics[topic]
	delete(c.topics, topic)
	delete(c.inbound, topic)
	c.mu.Unlock()
	if sub == nil {
		return nil
	}
	_, err := c.call(ctx, methodUnsubscribe, map[string]string{"topic": topic, "id": sub.id})
	return err
}

// Publish 用 topic 的密钥加密 msg 并发布。
func (c *Client) Publish(ctx context.Context, topic string, msg transport.Message) error {
	c.mu.Lock()
	sub := c.topics[topic]
	tag := c.tagLocked(topic, msg)
	c.mu.Unlock()
	if sub == nil {
		return fmt.Errorf("%w: %s", ErrNotSubscribed, topic)
	}
	plain, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	envelope, err := seal(sub.key, plain)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, methodPublish, publishParams{
		Topic:   topic,
		Message: envelope,
		TTL:     int64(c.cfg.MessageTTL / time.Second),
		Tag:     tag,
	})
	c.metrics.incPublish(err)
	return err
}

func (c *Client) rememberInbound(topic string, id int64, method string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := c.inbound[topic]
	if ids == nil || len(ids) > 1024 {
		ids = make(map[int64]string)
		c.inbound[topic] = ids
	}
	ids[id] = method
}

func (c *Client) tagLocked(topic string, msg transport.Message) int {
	if msg.Method != "" {
		return requestTags[msg.Method]
	}
	method := c.inbound[topic][msg.ID]
	delete(c.inbound[topic], msg.ID)
	if tag, ok := requestTags[method]; ok {
		return tag + 1
	}
	return 0
}

func (c *Client) Events() <-chan transport.Event { return c.events }

// Connected 报告当前是否持有 relay 连接。
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close 关闭连接并停止重连，Events 通道随之关闭。
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()
	c.cancel()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "closing")
	}
	<-c.done
	return nil
}

var _ transport.Transport = (*Client)(nil)
