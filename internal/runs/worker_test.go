package runs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/vakt/internal/events"
	"github.com/friendsincode/vakt/internal/leadership"
	"github.com/friendsincode/vakt/internal/models"
)

func TestWorkerTickDrainsQueue(t *testing.T) {
	db := openRunsTestDB(t)
	svc := New(db, events.NewBus(), time.Second, zerolog.Nop())
	inst := seedInstance(t, db, "ward-7", feasibleBody)

	var ids []string
	for i := 0; i < 2; i++ {
		run, err := svc.Enqueue(context.Background(), inst.ID, "", false)
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		ids = append(ids, run.ID)
	}

	w := NewWorker(svc, 50*time.Millisecond, zerolog.Nop())
	w.tick(context.Background())

	for _, id := range ids {
		var stored models.SolveRun
		if err := db.First(&stored, "id = ?", id).Error; err != nil {
			t.Fatalf("load run: %v", err)
		}
		if stored.Status != models.RunCompleted {
			t.Errorf("run %s status = %s, want completed", id, stored.Status)
		}
	}
}

func TestWorkerTickRespectsLeadership(t *testing.T) {
	db := openRunsTestDB(t)
	svc := New(db, events.NewBus(), time.Second, zerolog.Nop())
	inst := seedInstance(t, db, "ward-7", feasibleBody)

	run, err := svc.Enqueue(context.Background(), inst.ID, "", false)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	w := NewWorker(svc, 50*time.Millisecond, zerolog.Nop())
	// An election that never campaigned reports follower status.
	w.SetElection(&leadership.Election{})
	w.tick(context.Background())

	var stored models.SolveRun
	if err := db.First(&stored, "id = ?", run.ID).Error; err != nil {
		t.Fatalf("load run: %v", err)
	}
	if stored.Status != models.RunQueued {
		t.Errorf("follower executed run: status = %s, want queued", stored.Status)
	}
}

func TestWorkerRunRecoversStaleRuns(t *testing.T) {
	db := openRunsTestDB(t)
	svc := New(db, events.NewBus(), time.Second, zerolog.Nop())
	inst := seedInstance(t, db, "ward-7", feasibleBody)

	// A run abandoned mid-flight by a crashed worker: running, but
	// started far beyond the stale cutoff.
	staleStart := time.Now().Add(-10 * time.Second)
	orphan := &models.SolveRun{
		ID:         uuid.NewString(),
		InstanceID: inst.ID,
		Status:     models.RunRunning,
		StartedAt:  &staleStart,
	}
	if err := db.Create(orphan).Error; err != nil {
		t.Fatalf("seed orphan: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWorker(svc, 20*time.Millisecond, zerolog.Nop())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		var stored models.SolveRun
		if err := db.First(&stored, "id = ?", orphan.ID).Error; err != nil {
			t.Fatalf("load run: %v", err)
		}
		if stored.Status == models.RunCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("run never recovered, status = %s", stored.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}
