package events

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/signalsfoundry/engagement-simulator/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus()
	var got []string
	bus.Subscribe(func(e Event) { got = append(got, "first:"+e.Agent) })
	unsub := bus.Subscribe(func(e Event) { got = append(got, "second:"+e.Agent) })

	bus.Publish(Event{Kind: KindHit, Agent: "a"})
	unsub()
	unsub()
	bus.Publish(Event{Kind: KindHit, Agent: "b"})

	assert.Equal(t, []string{"first:a", "second:a", "first:b"}, got)
	assert.Equal(t, 1, bus.Len())
}

func TestBusUnsubscribeMiddleKeepsOthers(t *testing.T) {
	bus := NewBus()
	var got []int
	bus.Subscribe(func(Event) { got = append(got, 1) })
	unsub := bus.Subscribe(func(Event) { got = append(got, 2) })
	bus.Subscribe(func(Event) { got = append(got, 3) })

	unsub()
	bus.Publish(Event{})
	assert.Equal(t, []int{1, 3}, got)
}

func TestBusSubscriberMayPublish(t *testing.T) {
	bus := NewBus()
	var kinds []Kind
	bus.Subscribe(func(e Event) {
		kinds = append(kinds, e.Kind)
		if e.Kind == KindHit {
			bus.Publish(Event{Kind: KindTerminated, Agent: e.Other})
		}
	})
	bus.Publish(Event{Kind: KindHit, Agent: "i1", Other: "t1"})
	assert.Equal(t, []Kind{KindHit, KindTerminated}, kinds)
}

func TestBusConcurrentPublish(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	count := 0
	bus.Subscribe(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				bus.Publish(Event{Kind: KindMiss})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, count)
}

func TestNilBusPublishIsSafe(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() { bus.Publish(Event{}) })
}

func TestRecorderWritesReadableLog(t *testing.T) {
	var buf bytes.Buffer
	bus := NewBus()
	rec := NewRecorder(&buf)
	detach := rec.Attach(bus)

	in := []Event{
		{Kind: KindReleased, Time: 1.2, Agent: "launcher-1", Other: "threat-3", Position: core.Vec3{X: 1, Y: 2, Z: 3}},
		{Kind: KindHit, Time: 14.8, Agent: "interceptor-7", Other: "threat-3", Position: core.Vec3{Z: 4200}},
		{Kind: KindEscaped, Time: 15, Agent: "interceptor-8", Detail: "geometric"},
	}
	for _, e := range in {
		bus.Publish(e)
	}
	detach()
	bus.Publish(Event{Kind: KindMiss})

	require.NoError(t, rec.Err())
	assert.Equal(t, 3, rec.Count())

	out, err := ReadAll(&buf)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestReadAllEmpty(t *testing.T) {
	out, err := ReadAll(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Empty(t, out)
}

type failingWriter struct{ calls int }

func (w *failingWriter) Write([]byte) (int, error) {
	w.calls++
	return 0, errors.New("disk full")
}

func TestRecorderKeepsFirstError(t *testing.T) {
	w := &failingWriter{}
	rec := NewRecorder(w)
	rec.Record(Event{Kind: KindHit})
	rec.Record(Event{Kind: KindMiss})

	require.Error(t, rec.Err())
	assert.Equal(t, 0, rec.Count())
	assert.Equal(t, 1, w.calls)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "evaded", KindEvaded.String())
	assert.Equal(t, "unknown", Kind(42).String())
	assert.Equal(t, KindAssigned, parseKind("assigned"))
}
