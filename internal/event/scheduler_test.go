package event

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	clocktesting "k8s.io/utils/clock/testing"

	"converge/internal/resource"
)

type fired struct {
	mu  sync.Mutex
	ids []resource.ID
}

func (f *fired) record(id resource.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
}

func (f *fired) get() []resource.ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]resource.ID(nil), f.ids...)
}

func TestScheduler_Fires(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Now())
	f := &fired{}
	s := NewScheduler(clk, f.record)
	id := resource.NewID("default", "web")

	s.AddAfter(id, time.Second)
	assert.True(t, s.Pending(id))

	clk.Step(500 * time.Millisecond)
	assert.Empty(t, f.get())

	clk.Step(time.Second)
	assert.Eventually(t, func() bool { return len(f.get()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []resource.ID{id}, f.get())
	assert.False(t, s.Pending(id))
}

func TestScheduler_NewerTimerSupersedes(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Now())
	f := &fired{}
	s := NewScheduler(clk, f.record)
	id := resource.NewID("default", "web")

	s.AddAfter(id, time.Second)
	s.AddAfter(id, 10*time.Second)

	clk.Step(2 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, f.get(), "superseded timer must not fire")

	clk.Step(10 * time.Second)
	assert.Eventually(t, func() bool { return len(f.get()) == 1 }, time.Second, time.Millisecond)
}

func TestScheduler_CancelAndStop(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Now())
	f := &fired{}
	s := NewScheduler(clk, f.record)
	a := resource.NewID("default", "a")
	b := resource.NewID("default", "b")

	s.AddAfter(a, time.Second)
	s.Cancel(a)
	s.AddAfter(b, time.Second)
	s.Stop()
	s.AddAfter(a, time.Second)

	clk.Step(time.Minute)
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, f.get())
}
