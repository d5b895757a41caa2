package progress_test

import (
	"fmt"
	"sync"
	"testing"

	"parcelfetch/internal/domain"
	"parcelfetch/internal/progress"
)

func step(i int) domain.StepKey {
	return domain.StepKey{TMS: fmt.Sprintf("%010d", i), DocType: "deed"}
}

func TestPercentIsMonotonicAndReaches100(t *testing.T) {
	const total = 20
	var (
		mu   sync.Mutex
		seen []float64
	)
	tr := progress.New(total, func(_ domain.Transition, s progress.Snapshot) {
		mu.Lock()
		seen = append(seen, s.PercentComplete)
		mu.Unlock()
	})
	defer tr.Close()

	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k := step(i)
			tr.Record(domain.Transition{Step: k, From: domain.StepPending, To: domain.StepInProgress})
			to := domain.StepSucceeded
			if i%3 == 0 {
				to = domain.StepFailed
			}
			tr.Record(domain.Transition{Step: k, From: domain.StepInProgress, To: to})
		}(i)
	}
	wg.Wait()

	snap := tr.Snapshot()
	if snap.PercentComplete != 100 {
		t.Fatalf("percent = %v", snap.PercentComplete)
	}
	if snap.Succeeded+snap.Failed != total || snap.InProgress != 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("percent decreased at %d: %v", i, seen)
		}
	}
}

func TestDuplicateTerminalIsNotCounted(t *testing.T) {
	tr := progress.New(2, nil)
	defer tr.Close()
	k := step(1)
	tr.Record(domain.Transition{Step: k, To: domain.StepSucceeded})
	tr.Record(domain.Transition{Step: k, To: domain.StepFailed})
	snap := tr.Snapshot()
	if snap.Succeeded != 1 || snap.Failed != 0 || snap.PercentComplete != 50 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if got := len(tr.Log()); got != 2 {
		t.Fatalf("log length = %d", got)
	}
}

func TestLogOrderAndSequence(t *testing.T) {
	tr := progress.New(3, nil)
	for i := 0; i < 3; i++ {
		tr.Record(domain.Transition{Step: step(i), To: domain.StepSucceeded})
	}
	tr.Close()
	log := tr.Log()
	for i, e := range log {
		if e.Seq != i+1 || e.Step != step(i) || e.At.IsZero() {
			t.Fatalf("entry %d = %+v", i, e)
		}
	}
	// dropped after close
	tr.Record(domain.Transition{Step: step(9), To: domain.StepFailed})
	if len(tr.Log()) != 3 {
		t.Fatalf("record after close must be dropped")
	}
	if s := tr.Snapshot(); s.PercentComplete != 100 {
		t.Fatalf("final percent = %v", s.PercentComplete)
	}
}

func TestZeroStepsIsComplete(t *testing.T) {
	tr := progress.New(0, nil)
	defer tr.Close()
	if p := tr.Snapshot().PercentComplete; p != 100 {
		t.Fatalf("percent = %v", p)
	}
}

func TestRecentIsBounded(t *testing.T) {
	tr := progress.New(50, nil)
	defer tr.Close()
	for i := 0; i < 25; i++ {
		tr.Record(domain.Transition{Step: step(i), To: domain.StepSucceeded})
	}
	recent := tr.Snapshot().Recent
	if len(recent) != 10 || recent[9].Step != step(24) {
		t.Fatalf("recent = %+v", recent)
	}
}
