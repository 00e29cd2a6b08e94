package cluster

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robbenti/nsdb/internal/model"
)

func TestStaticView(t *testing.T) {
	v, err := NewStaticView("node-1", []string{"node-0=host0:7817", "node-2=host2:7817"})
	require.NoError(t, err)

	assert.Equal(t, "node-1", v.SelfID())
	assert.Equal(t, []string{"node-0", "node-1", "node-2"}, v.Nodes())

	addr, ok := v.Addr("node-2")
	require.True(t, ok)
	assert.Equal(t, "host2:7817", addr)

	_, ok = v.Addr("node-9")
	assert.False(t, ok)
}

func TestStaticViewMalformedEntry(t *testing.T) {
	_, err := NewStaticView("node-0", []string{"node-1"})
	assert.Error(t, err)
}

func TestMediatorFanOut(t *testing.T) {
	m := NewMediator(zerolog.Nop())
	a := m.Subscribe()
	b := m.Subscribe()

	loc := model.Location{Metric: "people", Bin: 1, NodeID: "node-0"}
	m.Publish(Event{Type: EventLocationCreated, Db: "db", Namespace: "ns", Metric: "people", Location: &loc})

	for _, ch := range []<-chan Event{a, b} {
		select {
		case ev := <-ch:
			assert.Equal(t, EventLocationCreated, ev.Type)
			assert.Equal(t, "people", ev.Metric)
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	b := NewBreaker(3, time.Minute, zerolog.Nop())
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := b.Execute("node-1", func() error { return boom })
		assert.ErrorIs(t, err, boom)
	}
	assert.True(t, b.Open("node-1"))

	// open circuit short-circuits to Unavailable without calling fn
	called := false
	err := b.Execute("node-1", func() error { called = true; return nil })
	assert.ErrorIs(t, err, model.ErrUnavailable)
	assert.False(t, called)

	// other peers are unaffected
	assert.NoError(t, b.Execute("node-2", func() error { return nil }))
}

func TestBreakerRecovers(t *testing.T) {
	b := NewBreaker(1, 10*time.Millisecond, zerolog.Nop())
	require.Error(t, b.Execute("node-1", func() error { return errors.New("boom") }))
	assert.True(t, b.Open("node-1"))

	time.Sleep(20 * time.Millisecond)

	// probe succeeds, circuit closes
	assert.NoError(t, b.Execute("node-1", func() error { return nil }))
	assert.False(t, b.Open("node-1"))
}
