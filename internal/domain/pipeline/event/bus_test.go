package event_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipeforge/internal/domain/pipeline/event"
)

// TestBusDeliversInSubscriptionOrder 按订阅顺序同步投递，类型过滤生效
func TestBusDeliversInSubscriptionOrder(t *testing.T) {
	bus := event.NewBus("test")
	var got []string

	bus.SubscribeAll(func(evt event.Event) { got = append(got, "all:"+string(evt.Type)) })
	bus.Subscribe(event.TypeNodesUpdated, func(evt event.Event) { got = append(got, "nodes") })
	bus.Subscribe(event.TypeConfigUpdated, func(evt event.Event) { got = append(got, "config") })

	bus.PublishAll([]event.Event{
		event.NewConfigUpdated(nil),
		event.NewNodesUpdated(nil),
	})
	assert.Equal(t, []string{"all:config-updated", "config", "all:nodes-updated", "nodes"}, got)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := event.NewBus("test")
	calls := 0
	unsubscribe := bus.SubscribeAll(func(event.Event) { calls++ })
	require.Equal(t, 1, bus.Len())

	bus.Publish(event.NewNodeSelected("a"))
	unsubscribe()
	unsubscribe()
	bus.Publish(event.NewNodeSelected("b"))

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, bus.Len())

	noop := bus.Subscribe(event.TypeNodeSelected, nil)
	noop()
	assert.Equal(t, 0, bus.Len())
}

func TestBusRecoversHandlerPanic(t *testing.T) {
	bus := event.NewBus("test")
	delivered := false
	bus.SubscribeAll(func(event.Event) { panic("boom") })
	bus.SubscribeAll(func(event.Event) { delivered = true })

	assert.NotPanics(t, func() { bus.Publish(event.NewConfigUpdated(nil)) })
	assert.True(t, delivered)
}

func TestBusSubscribeDuringPublish(t *testing.T) {
	bus := event.NewBus("test")
	late := 0
	bus.SubscribeAll(func(event.Event) {
		bus.SubscribeAll(func(event.Event) { late++ })
	})

	bus.Publish(event.NewConfigUpdated(nil))
	assert.Equal(t, 0, late)
	bus.Publish(event.NewConfigUpdated(nil))
	assert.Equal(t, 1, late)
}

func TestNodeSelectedPayload(t *testing.T) {
	cleared := event.NewNodeSelected("")
	assert.Nil(t, cleared.Payload.(*string))

	selected := event.NewNodeSelected("ai-0")
	assert.Equal(t, "ai-0", *selected.Payload.(*string))
	assert.Len(t, event.AllTypes, 5)
}
