package scheduler

import (
	"sync"
	"time"

	"github.com/islamwell/rcoket-reminder-fork-sub001/internal/notify"
)

// Registrar registers exact-time triggers with whatever alarm facility the
// host offers. Scheduling an id that already has a trigger replaces it, so a
// reminder never holds more than one live registration.
type Registrar interface {
	Schedule(id int64, at time.Time, p notify.Payload) error
	Cancel(id int64)
	CancelAll()
}

// TimerRegistrar backs the Registrar interface with in-process timers.
type TimerRegistrar struct {
	mu     sync.Mutex
	timers map[int64]*time.Timer
	onFire func(p notify.Payload)
	now    func() time.Time
}

func NewTimerRegistrar(onFire func(p notify.Payload)) *TimerRegistrar {
	return &TimerRegistrar{
		timers: make(map[int64]*time.Timer),
		onFire: onFire,
		now:    time.Now,
	}
}

func (t *TimerRegistrar) Schedule(id int64, at time.Time, p notify.Payload) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.timers[id]; ok {
		old.Stop()
	}
	d := at.Sub(t.now())
	if d < 0 {
		d = 0
	}
	t.timers[id] = time.AfterFunc(d, func() {
		t.mu.Lock()
		delete(t.timers, id)
		t.mu.Unlock()
		t.onFire(p)
	})
	return nil
}

func (t *TimerRegistrar) Cancel(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[id]; ok {
		timer.Stop()
		delete(t.timers, id)
	}
}

func (t *TimerRegistrar) CancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
}

// Pending reports how many triggers are currently registered.
func (t *TimerRegistrar) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}
