package taskmanager

import (
	"errors"
	"testing"
	"time"
)

func waitTerminal(t *testing.T, m *Manager, id string) Record {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := m.Status(id)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if rec.State == Completed || rec.State == Failed || rec.State == Cancelled {
			return rec
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("task %s never reached a terminal state", id)
	return Record{}
}

func TestStartCompletes(t *testing.T) {
	m := New()
	id := m.Start(KindScanPattern, "scan for pattern", func(cancel *CancelToken, progress ProgressFunc) (any, error) {
		progress("scanning", 0.5)
		return 42, nil
	})

	rec := waitTerminal(t, m, id)
	if rec.State != Completed {
		t.Fatalf("state = %v, want Completed", rec.State)
	}
	if rec.Result != 42 {
		t.Fatalf("result = %v, want 42", rec.Result)
	}
	if rec.Progress != 1 {
		t.Fatalf("progress = %v, want 1", rec.Progress)
	}
}

func TestStartFails(t *testing.T) {
	m := New()
	wantErr := errors.New("boom")
	id := m.Start(KindScanStrings, "scan for strings", func(cancel *CancelToken, progress ProgressFunc) (any, error) {
		return nil, wantErr
	})

	rec := waitTerminal(t, m, id)
	if rec.State != Failed {
		t.Fatalf("state = %v, want Failed", rec.State)
	}
	if rec.Error != wantErr.Error() {
		t.Fatalf("error = %q, want %q", rec.Error, wantErr.Error())
	}
}

func TestCancelStopsBodyPromptly(t *testing.T) {
	m := New()
	started := make(chan struct{})
	id := m.Start(KindRecoverFunctions, "recover functions", func(cancel *CancelToken, progress ProgressFunc) (any, error) {
		close(started)
		for i := 0; i < 1000; i++ {
			if cancel.IsCancelled() {
				return nil, ErrCancelled
			}
			time.Sleep(time.Millisecond)
		}
		return nil, nil
	})

	<-started
	if err := m.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	rec := waitTerminal(t, m, id)
	if rec.State != Cancelled {
		t.Fatalf("state = %v, want Cancelled", rec.State)
	}
}

func TestCancelUnknownTaskIsNotFound(t *testing.T) {
	m := New()
	if err := m.Cancel("does-not-exist"); err == nil {
		t.Fatalf("expected error for unknown task")
	}
}

func TestStatusUnknownTaskIsNotFound(t *testing.T) {
	m := New()
	if _, err := m.Status("does-not-exist"); err == nil {
		t.Fatalf("expected error for unknown task")
	}
}

func TestListEnumeratesAllTasks(t *testing.T) {
	m := New()
	id1 := m.Start(KindScanPattern, "a", func(cancel *CancelToken, progress ProgressFunc) (any, error) { return nil, nil })
	id2 := m.Start(KindScanStrings, "b", func(cancel *CancelToken, progress ProgressFunc) (any, error) { return nil, nil })
	waitTerminal(t, m, id1)
	waitTerminal(t, m, id2)

	list := m.List()
	if len(list) != 2 {
		t.Fatalf("got %d tasks, want 2", len(list))
	}
}

func TestCleanupDropsOldTerminalTasks(t *testing.T) {
	m := New()
	id := m.Start(KindScanPattern, "a", func(cancel *CancelToken, progress ProgressFunc) (any, error) { return nil, nil })
	waitTerminal(t, m, id)

	removed := m.Cleanup(time.Now().Add(time.Hour), time.Minute)
	if removed != 1 {
		t.Fatalf("Cleanup removed %d, want 1", removed)
	}
	if _, err := m.Status(id); err == nil {
		t.Fatalf("expected task to be gone after Cleanup")
	}
}

func TestCleanupKeepsRecentTerminalTasks(t *testing.T) {
	m := New()
	id := m.Start(KindScanPattern, "a", func(cancel *CancelToken, progress ProgressFunc) (any, error) { return nil, nil })
	waitTerminal(t, m, id)

	removed := m.Cleanup(time.Now(), time.Hour)
	if removed != 0 {
		t.Fatalf("Cleanup removed %d, want 0", removed)
	}
}

func TestProgressReportsLatestStage(t *testing.T) {
	m := New()
	gate := make(chan struct{})
	id := m.Start(KindScanPattern, "a", func(cancel *CancelToken, progress ProgressFunc) (any, error) {
		progress("step one", 0.1)
		progress("step two", 0.9)
		close(gate)
		return nil, nil
	})
	<-gate
	waitTerminal(t, m, id)

	rec, err := m.Status(id)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if rec.LastMessage != "step two" {
		t.Fatalf("last message = %q", rec.LastMessage)
	}
}
