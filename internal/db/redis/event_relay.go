package redisdb

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"pipeforge/internal/domain/pipeline/event"
	applog "pipeforge/internal/platform/log"
)

// publisher EventRelay 用到的 Redis 命令子集
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RelayMessage 发往 Redis 频道的消息体
type RelayMessage struct {
	Config  string      `json:"config"`
	Type    event.Type  `json:"type"`
	Payload interface{} `json:"payload"`
	SentAt  time.Time   `json:"sent_at"`
}

type outbound struct {
	channel string
	data    []byte
}

// EventRelay 把引擎事件转发到 Redis PUBLISH <prefix>:<config>。
// 总线回调只做非阻塞入队，实际发送由后台 goroutine 完成；队列满时丢弃并告警
type EventRelay struct {
	redis   publisher
	prefix  string
	timeout time.Duration
	queue   chan outbound

	stopOnce sync.Once
	done     chan struct{}
}

// NewEventRelay 创建转发器并启动发送 goroutine
func NewEventRelay(rdb publisher, prefix string, buffer int) *EventRelay {
	if buffer <= 0 {
		buffer = 256
	}
	r := &EventRelay{
		redis:   rdb,
		prefix:  prefix,
		timeout: 2 * time.Second,
		queue:   make(chan outbound, buffer),
		done:    make(chan struct{}),
	}
	go r.loop()
	return r
}

// Attach 订阅总线上的全部事件，返回取消订阅函数
func (r *EventRelay) Attach(name string, bus *event.Bus) func() {
	channel := r.Channel(name)
	return bus.SubscribeAll(func(evt event.Event) {
		data, err := json.Marshal(RelayMessage{
			Config:  name,
			Type:    evt.Type,
			Payload: evt.Payload,
			SentAt:  time.Now(),
		})
		if err != nil {
			applog.Warn("[EventRelay] Failed to marshal event", "config", name, "event", evt.Type, "error", err)
			return
		}
		select {
		case r.queue <- outbound{channel: channel, data: data}:
		case <-r.done:
		default:
			applog.Warn("[EventRelay] Queue full, dropping event", "config", name, "event", evt.Type)
		}
	})
}

// Channel 配置对应的 Redis 频道名
func (r *EventRelay) Channel(name string) string {
	return r.prefix + ":" + name
}

// Close 停止发送；已入队但未发送的消息被丢弃
func (r *EventRelay) Close() {
	r.stopOnce.Do(func() { close(r.done) })
}

func (r *EventRelay) loop() {
	for {
		select {
		case <-r.done:
			return
		case msg := <-r.queue:
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			if err := r.redis.Publish(ctx, msg.channel, msg.data).Err(); err != nil {
				applog.Warn("[EventRelay] Publish failed", "channel", msg.channel, "error", err)
			}
			cancel()
		}
	}
}
