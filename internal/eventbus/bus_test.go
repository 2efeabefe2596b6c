package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFanOut(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: TypeSuppressed, Data: NotificationEvent{ID: 1}})
	ea := <-a
	ec := <-c
	assert.Equal(t, TypeSuppressed, ea.Type)
	assert.False(t, ea.Time.IsZero())
	assert.Equal(t, ea, ec)

	unsubA()
	unsubA()
	_, open := <-a
	assert.False(t, open)
	b.Publish(Event{Type: TypeBatched})
	assert.Equal(t, TypeBatched, (<-c).Type)
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Type: TypeDelivered, Time: time.Unix(int64(i), 0)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked")
	}
	require.Len(t, ch, 1)
	assert.Equal(t, uint64(9), Dropped(b))
}

func TestNop(t *testing.T) {
	t.Parallel()
	b := Nop()
	b.Publish(Event{Type: TypeCheckpoint})
	ch, unsub := b.Subscribe(1)
	unsub()
	_, open := <-ch
	assert.False(t, open)
}
