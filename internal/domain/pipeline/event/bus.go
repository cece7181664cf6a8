package event

import (
	"sync"

	"github.com/google/uuid"

	applog "pipeforge/internal/platform/log"
)

// Handler 事件处理函数
type Handler func(evt Event)

type subscription struct {
	id      string
	typ     Type // 为空表示订阅全部类型
	handler Handler
}

// Bus 进程内发布/订阅总线，按订阅先后顺序同步投递。
// 处理函数 panic 会被恢复并记录，不影响其他订阅者
type Bus struct {
	mu    sync.RWMutex
	subs  []*subscription
	label string
}

// NewBus 创建总线；label 仅用于日志
func NewBus(label string) *Bus {
	return &Bus{label: label}
}

// Subscribe 订阅单一事件类型，返回取消订阅函数
func (b *Bus) Subscribe(typ Type, handler Handler) func() {
	return b.add(typ, handler)
}

// SubscribeAll 订阅全部事件类型
func (b *Bus) SubscribeAll(handler Handler) func() {
	return b.add("", handler)
}

func (b *Bus) add(typ Type, handler Handler) func() {
	if handler == nil {
		return func() {}
	}
	sub := &subscription{id: uuid.NewString(), typ: typ, handler: handler}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sub.id) })
	}
}

func (b *Bus) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish 投递事件。订阅者列表在投递前快照，处理函数内可安全增删订阅
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.typ == "" || s.typ == evt.Type {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		b.deliver(s, evt)
	}
}

// PublishAll 按顺序投递多个事件
func (b *Bus) PublishAll(events []Event) {
	for _, evt := range events {
		b.Publish(evt)
	}
}

// Len 当前订阅数
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) deliver(s *subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			applog.Error("[EventBus] Handler panicked",
				"bus", b.label,
				"event", evt.Type,
				"subscription", s.id,
				"panic", r,
			)
		}
	}()
	s.handler(evt)
}
