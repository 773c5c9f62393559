package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bilal-raza12/ShopEase/internal/apperr"
	"github.com/bilal-raza12/ShopEase/internal/catalog"
	"github.com/bilal-raza12/ShopEase/internal/storage"
)

type mockIndex struct {
	mu       sync.Mutex
	upserted []string
	deleted  []string
	upsertFn func(products []catalog.Product) error
}

func (m *mockIndex) Upsert(_ context.Context, products []catalog.Product) error {
	if m.upsertFn != nil {
		if err := m.upsertFn(products); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range products {
		m.upserted = append(m.upserted, p.ID)
	}
	return nil
}

func (m *mockIndex) Delete(_ context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, ids...)
	return nil
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addProduct(t *testing.T, store *storage.Store, id string) {
	t.Helper()
	p := catalog.Product{ID: id, Name: "Product " + id, Description: "test", Price: 9.99, Category: "Test", Stock: 1, Rating: 4}
	if err := store.UpsertProduct(context.Background(), p); err != nil {
		t.Fatalf("UpsertProduct: %v", err)
	}
}

// resetRunAfter sets run_after to now so the job is immediately claimable after FailJob backoff.
func resetRunAfter(t *testing.T, store *storage.Store, jobID string) {
	t.Helper()
	now := time.Now().UTC().Format("2006-01-02T15:04:05.000000000Z")
	if _, err := store.DB().Exec(`UPDATE jobs SET run_after = ? WHERE id = ?`, now, jobID); err != nil {
		t.Fatalf("resetRunAfter: %v", err)
	}
}

func jobStatus(t *testing.T, store *storage.Store, id string) (string, int) {
	t.Helper()
	j, err := store.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	return j.Status, j.Attempts
}

func TestWorker_IndexesProduct(t *testing.T) {
	store := openTestStore(t)
	addProduct(t, store, "p1")
	ctx := context.Background()
	jobID, err := EnqueueUpsert(ctx, store, "p1")
	if err != nil {
		t.Fatalf("EnqueueUpsert: %v", err)
	}

	idx := &mockIndex{}
	w := NewWorker(store, store, idx, 0)
	didWork, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}
	if len(idx.upserted) != 1 || idx.upserted[0] != "p1" {
		t.Errorf("upserted = %v, want [p1]", idx.upserted)
	}
	if status, _ := jobStatus(t, store, jobID); status != storage.JobCompleted {
		t.Errorf("status = %q, want completed", status)
	}

	didWork, _ = w.RunOnce(ctx)
	if didWork {
		t.Error("RunOnce on an empty queue reported work")
	}
}

func TestWorker_MissingProductIsRemoved(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if _, err := EnqueueUpsert(ctx, store, "gone"); err != nil {
		t.Fatalf("EnqueueUpsert: %v", err)
	}

	idx := &mockIndex{}
	if _, err := NewWorker(store, store, idx, 0).RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(idx.upserted) != 0 || len(idx.deleted) != 1 || idx.deleted[0] != "gone" {
		t.Errorf("upserted %v, deleted %v", idx.upserted, idx.deleted)
	}
}

func TestWorker_Delete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if _, err := EnqueueDelete(ctx, store, "p9"); err != nil {
		t.Fatalf("EnqueueDelete: %v", err)
	}
	idx := &mockIndex{}
	NewWorker(store, store, idx, 0).RunOnce(ctx)
	if len(idx.deleted) != 1 || idx.deleted[0] != "p9" {
		t.Errorf("deleted = %v", idx.deleted)
	}
}

func TestEnqueueRequiresProductID(t *testing.T) {
	store := openTestStore(t)
	if _, err := EnqueueUpsert(context.Background(), store, ""); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("EnqueueUpsert(\"\") = %v, want InvalidArgument", err)
	}
}

func TestWorker_RetryOnFailure(t *testing.T) {
	store := openTestStore(t)
	addProduct(t, store, "p-r")
	ctx := context.Background()
	jobID, _ := EnqueueUpsert(ctx, store, "p-r")

	var calls atomic.Int32
	idx := &mockIndex{upsertFn: func([]catalog.Product) error {
		if n := calls.Add(1); n <= 2 {
			return apperr.Errorf(apperr.IndexUnavailable, "index upsert", "transient error %d", n)
		}
		return nil
	}}
	w := NewWorker(store, store, idx, 0)

	for attempt := 1; attempt <= 2; attempt++ {
		didWork, err := w.RunOnce(ctx)
		if err != nil || !didWork {
			t.Fatalf("RunOnce %d = %v, %v", attempt, didWork, err)
		}
		status, attempts := jobStatus(t, store, jobID)
		if status != storage.JobPending || attempts != attempt {
			t.Errorf("after fail %d: status=%q attempts=%d", attempt, status, attempts)
		}
		resetRunAfter(t, store, jobID)
	}

	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce 3: %v", err)
	}
	if status, _ := jobStatus(t, store, jobID); status != storage.JobCompleted {
		t.Errorf("after 3rd attempt: status=%q, want completed", status)
	}
}

func TestWorker_MaxRetriesExceeded(t *testing.T) {
	store := openTestStore(t)
	addProduct(t, store, "p-m")
	ctx := context.Background()
	jobID, _ := EnqueueUpsert(ctx, store, "p-m")

	idx := &mockIndex{upsertFn: func([]catalog.Product) error { return fmt.Errorf("permanent error") }}
	w := NewWorker(store, store, idx, 0)

	for i := 1; i <= 3; i++ {
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce %d error: %v", i, err)
		}
		if !didWork {
			t.Fatalf("RunOnce %d returned false", i)
		}
		if i < 3 {
			resetRunAfter(t, store, jobID)
		}
	}

	j, err := store.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != storage.JobFailed || j.LastError == "" {
		t.Errorf("final job = %+v, want failed with last error", j)
	}
}

func TestWorker_RunDrainsQueue(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	const goroutines = 5
	const jobsPerGoroutine = 10
	const total = goroutines * jobsPerGoroutine

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for j := 0; j < jobsPerGoroutine; j++ {
				if _, err := EnqueueDelete(ctx, store, fmt.Sprintf("p-%d-%d", g, j)); err != nil {
					t.Errorf("EnqueueDelete: %v", err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	idx := &mockIndex{}
	w := NewWorker(store, store, idx, 10*time.Millisecond)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		w.Run(runCtx)
		close(done)
	}()

	deadline := time.After(10 * time.Second)
	for {
		idx.mu.Lock()
		n := len(idx.deleted)
		idx.mu.Unlock()
		if n == total {
			break
		}
		select {
		case <-deadline:
			cancel()
			t.Fatalf("processed %d of %d jobs", n, total)
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done

	counts, err := store.JobCounts(ctx)
	if err != nil {
		t.Fatalf("JobCounts: %v", err)
	}
	if counts[storage.JobCompleted] != total {
		t.Errorf("completed = %d, want %d", counts[storage.JobCompleted], total)
	}
}
