package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/datafetch/scheduler/pkg/config"
	"github.com/go-redis/redis/v8"
	"github.com/google/wire"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var Provider = wire.NewSet(New)

const (
	// writeWait 单次写操作的最长等待
	writeWait = 10 * time.Second

	// redisChannel 事件镜像发布到的redis频道
	redisChannel = "executions.events"
)

// AuthValidator 在升级连接前校验请求，返回错误则拒绝订阅
type AuthValidator func(r *http.Request) error

// Hub 执行事件通知枢纽：维护websocket订阅者集合并向其广播状态变化。
// 单个订阅者出错只影响它自己，不中断整轮广播。
// redis配置启用时事件同时镜像发布一份，供其他进程消费。
type Hub struct {
	cfg    config.HubConfig
	logger *zap.Logger

	upgrader websocket.Upgrader
	validate AuthValidator
	rdb      *redis.Client // 可为nil

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// New 创建通知枢纽。validate为nil时跳过鉴权，rdb为nil时不做镜像。
func New(cfg config.HubConfig, validate AuthValidator, rdb *redis.Client, logger *zap.Logger) *Hub {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 90 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	return &Hub{
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		validate:    validate,
		rdb:         rdb,
		subscribers: make(map[*subscriber]struct{}),
	}
}

// ServeWS 处理一个订阅请求：鉴权、升级、注册并启动读写协程
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if h.validate != nil {
		if err := h.validate(r); err != nil {
			h.logger.Warn("websocket subscriber rejected",
				zap.String("remote", r.RemoteAddr),
				zap.Error(err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := &subscriber{
		conn: conn,
		send: make(chan []byte, h.cfg.SendBuffer),
	}

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	count := len(h.subscribers)
	h.mu.Unlock()
	h.logger.Info("websocket subscriber connected",
		zap.String("remote", r.RemoteAddr),
		zap.Int("subscribers", count))

	go h.writePump(sub)
	go h.readPump(sub)
}

// Broadcast 向所有订阅者推送执行事件。发送缓冲打满的订阅者被断开剔除。
func (h *Hub) Broadcast(event ExecutionEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(envelope{Type: eventTypeExecutionUpdate, Data: event})
	if err != nil {
		h.logger.Error("failed to marshal execution event", zap.Error(err))
		return
	}

	h.mu.Lock()
	for sub := range h.subscribers {
		select {
		case sub.send <- payload:
		default:
			// 慢订阅者：关掉它，其余订阅者不受影响
			delete(h.subscribers, sub)
			close(sub.send)
		}
	}
	h.mu.Unlock()

	h.mirrorToRedis(payload)
}

// SubscriberCount 当前在线订阅者数
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Shutdown 断开所有订阅者
func (h *Hub) Shutdown() {
	h.mu.Lock()
	for sub := range h.subscribers {
		delete(h.subscribers, sub)
		close(sub.send)
	}
	h.mu.Unlock()
}

func (h *Hub) mirrorToRedis(payload []byte) {
	if h.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.rdb.Publish(ctx, redisChannel, payload).Err(); err != nil {
		// 镜像失败不影响websocket推送
		h.logger.Warn("failed to mirror event to redis", zap.Error(err))
	}
}

func (h *Hub) unregister(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.send)
	}
	h.mu.Unlock()
}

// readPump 只消费pong与关闭帧，入站消息一律丢弃
func (h *Hub) readPump(sub *subscriber) {
	defer func() {
		h.unregister(sub)
		_ = sub.conn.Close()
	}()

	sub.conn.SetReadLimit(512)
	_ = sub.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump 串行下发事件并按心跳间隔发ping
func (h *Hub) writePump(sub *subscriber) {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		_ = sub.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.unregister(sub)
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(sub)
				return
			}
		}
	}
}
