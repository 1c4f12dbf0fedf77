package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(sub *ChanSubscriber) []Event {
	var out []Event
	for {
		select {
		case e := <-sub.Events():
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestHubJoinIsReferenceCounted(t *testing.T) {
	hub := NewHub()
	sub := NewChanSubscriber("s1", 8)

	assert.Equal(t, 1, hub.Join(sub, "room"))
	assert.Equal(t, 2, hub.Join(sub, "room"))
	assert.Equal(t, 1, hub.Members("room"))

	assert.False(t, hub.Leave(sub, "room"))
	assert.True(t, hub.Subscribed(sub, "room"))
	assert.True(t, hub.Leave(sub, "room"))
	assert.False(t, hub.Subscribed(sub, "room"))
	assert.Equal(t, 0, hub.Members("room"))

	assert.False(t, hub.Leave(sub, "room"))
}

func TestHubPublishReachesEveryMemberOnce(t *testing.T) {
	hub := NewHub()
	a := NewChanSubscriber("a", 8)
	b := NewChanSubscriber("b", 8)
	other := NewChanSubscriber("c", 8)
	hub.Join(a, "room")
	hub.Join(a, "room")
	hub.Join(b, "room")
	hub.Join(other, "elsewhere")

	assert.Equal(t, 2, hub.Publish("room", Event{Name: EventMessage, Data: "hi"}))

	assert.Len(t, drain(a), 1)
	assert.Len(t, drain(b), 1)
	assert.Empty(t, drain(other))
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewHub()
	slow := NewChanSubscriber("slow", 1)
	fast := NewChanSubscriber("fast", 8)
	hub.Join(slow, "room")
	hub.Join(slow, "lobby")
	hub.Join(fast, "room")

	assert.Equal(t, 2, hub.Publish("room", Event{Name: EventMessage, Data: 1}))
	assert.Equal(t, 1, hub.Publish("room", Event{Name: EventMessage, Data: 2}))

	select {
	case <-slow.Done():
	default:
		t.Fatal("slow subscriber was not closed")
	}
	assert.False(t, hub.Subscribed(slow, "room"))
	assert.False(t, hub.Subscribed(slow, "lobby"))
	require.Len(t, drain(fast), 2)
}

func TestHubLeaveAll(t *testing.T) {
	hub := NewHub()
	sub := NewChanSubscriber("s", 4)
	hub.Join(sub, "a")
	hub.Join(sub, "b")
	hub.Join(sub, "b")

	hub.LeaveAll(sub)
	assert.Equal(t, 0, hub.Members("a"))
	assert.Equal(t, 0, hub.Members("b"))
}
