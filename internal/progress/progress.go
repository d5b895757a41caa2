// Package progress aggregates step transitions for a single run.
//
// All state is owned by one goroutine. Workers hand transitions over through
// Record and never touch counters directly.
package progress

import (
	"sync"
	"time"

	"parcelfetch/internal/domain"
)

const defaultRecent = 10

type Snapshot struct {
	Total           int                 `json:"total"`
	Succeeded       int                 `json:"succeeded"`
	Failed          int                 `json:"failed"`
	InProgress      int                 `json:"in_progress"`
	PercentComplete float64             `json:"percent_complete"`
	Recent          []domain.Transition `json:"recent_events"`
}

// Observer is called from the tracker goroutine after each transition is
// applied. It must not call back into the tracker.
type Observer func(domain.Transition, Snapshot)

type Tracker struct {
	records  chan domain.Transition
	snaps    chan chan Snapshot
	logs     chan chan []domain.Transition
	done     chan struct{}
	stopped  chan struct{}
	once     sync.Once
	observer Observer
	now      func() time.Time

	// owned by loop
	total    int
	log      []domain.Transition
	status   map[domain.StepKey]domain.StepStatus
	terminal int
	ok       int
	failed   int
	running  int
	percent  float64
}

// New starts a tracker for a run of total steps. observer may be nil.
func New(total int, observer Observer) *Tracker {
	t := &Tracker{
		records:  make(chan domain.Transition),
		snaps:    make(chan chan Snapshot),
		logs:     make(chan chan []domain.Transition),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		observer: observer,
		now:      time.Now,
		total:    total,
		status:   map[domain.StepKey]domain.StepStatus{},
	}
	go t.loop()
	return t
}

// Record applies one transition. It returns once the tracker has taken the
// transition, so a worker that records before moving on has its transitions
// ordered ahead of anything it does next. Records after Close are dropped.
func (t *Tracker) Record(tr domain.Transition) {
	select {
	case t.records <- tr:
	case <-t.done:
	}
}

// Snapshot returns the current aggregate. After Close it returns the final
// aggregate.
func (t *Tracker) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	select {
	case t.snaps <- reply:
		return <-reply
	case <-t.stopped:
		return t.snapshot()
	}
}

// Log returns a copy of the ordered transition log.
func (t *Tracker) Log() []domain.Transition {
	reply := make(chan []domain.Transition, 1)
	select {
	case t.logs <- reply:
		return <-reply
	case <-t.stopped:
		return append([]domain.Transition(nil), t.log...)
	}
}

// Close stops the tracker goroutine. It is safe to call more than once.
func (t *Tracker) Close() {
	t.once.Do(func() { close(t.done) })
	<-t.stopped
}

func (t *Tracker) loop() {
	defer close(t.stopped)
	for {
		select {
		case tr := <-t.records:
			t.apply(tr)
			if t.observer != nil {
				t.observer(tr, t.snapshot())
			}
		case reply := <-t.snaps:
			reply <- t.snapshot()
		case reply := <-t.logs:
			reply <- append([]domain.Transition(nil), t.log...)
		case <-t.done:
			return
		}
	}
}

func (t *Tracker) apply(tr domain.Transition) {
	tr.Seq = len(t.log) + 1
	if tr.At.IsZero() {
		tr.At = t.now().UTC()
	}
	prev, seen := t.status[tr.Step]
	if seen && prev.Terminal() {
		// a step reaches a terminal state once; later reports are logged only
		t.log = append(t.log, tr)
		return
	}
	if prev == domain.StepInProgress {
		t.running--
	}
	switch tr.To {
	case domain.StepInProgress:
		t.running++
	case domain.StepSucceeded:
		t.ok++
		t.terminal++
	case domain.StepFailed:
		t.failed++
		t.terminal++
	}
	t.status[tr.Step] = tr.To
	t.log = append(t.log, tr)

	if p := percent(t.terminal, t.total); p > t.percent {
		t.percent = p
	}
}

func (t *Tracker) snapshot() Snapshot {
	start := len(t.log) - defaultRecent
	if start < 0 {
		start = 0
	}
	pct := t.percent
	if t.total == 0 {
		pct = 100
	}
	return Snapshot{
		Total:           t.total,
		Succeeded:       t.ok,
		Failed:          t.failed,
		InProgress:      t.running,
		PercentComplete: pct,
		Recent:          append([]domain.Transition(nil), t.log[start:]...),
	}
}

func percent(done, total int) float64 {
	if total <= 0 {
		return 100
	}
	if done >= total {
		return 100
	}
	return float64(done) / float64(total) * 100
}
