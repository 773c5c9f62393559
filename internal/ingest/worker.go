package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bilal-raza12/ShopEase/internal/apperr"
	"github.com/bilal-raza12/ShopEase/internal/catalog"
	"github.com/bilal-raza12/ShopEase/internal/storage"
)

// Job types handled by the worker.
const (
	JobIndexUpsert = "index_upsert"
	JobIndexDelete = "index_delete"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
}

// Enqueuer adds jobs to the queue.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, job storage.Job) (string, error)
}

// ProductIndex is the part of the product index the worker writes to.
type ProductIndex interface {
	Upsert(ctx context.Context, products []catalog.Product) error
	Delete(ctx context.Context, externalIDs ...string) error
}

type payload struct {
	ProductID string `json:"product_id"`
}

// EnqueueUpsert schedules a product to be (re)indexed from the record store.
func EnqueueUpsert(ctx context.Context, q Enqueuer, productID string) (string, error) {
	return enqueue(ctx, q, JobIndexUpsert, productID)
}

// EnqueueDelete schedules a product's removal from the index.
func EnqueueDelete(ctx context.Context, q Enqueuer, productID string) (string, error) {
	return enqueue(ctx, q, JobIndexDelete, productID)
}

func enqueue(ctx context.Context, q Enqueuer, jobType, productID string) (string, error) {
	if productID == "" {
		return "", apperr.Errorf(apperr.InvalidArgument, "enqueue "+jobType, "product id is required")
	}
	b, err := json.Marshal(payload{ProductID: productID})
	if err != nil {
		return "", err
	}
	return q.EnqueueJob(ctx, storage.Job{Type: jobType, PayloadJSON: string(b)})
}

// Worker keeps the product index in step with the record store by
// processing index_upsert and index_delete jobs from the SQLite queue.
type Worker struct {
	jobs    JobStore
	records catalog.Store
	index   ProductIndex
	poll    time.Duration
	logger  *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(jobs JobStore, records catalog.Store, index ProductIndex, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		jobs:    jobs,
		records: records,
		index:   index,
		poll:    pollInterval,
		logger:  slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.jobs.ClaimNextJob(ctx, []string{JobIndexUpsert, JobIndexDelete})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("index job failed", "job_id", job.ID, "type", job.Type, "error", err)
		if failErr := w.jobs.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.jobs.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var p payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if p.ProductID == "" {
		return fmt.Errorf("payload has no product_id")
	}

	switch job.Type {
	case JobIndexUpsert:
		product, err := w.records.GetProduct(ctx, p.ProductID)
		if errors.Is(err, apperr.ErrNotFound) {
			// Removed from the catalog since the job was queued.
			w.logger.Info("product gone, removing from index", "product_id", p.ProductID)
			return w.index.Delete(ctx, p.ProductID)
		}
		if err != nil {
			return fmt.Errorf("loading product %s: %w", p.ProductID, err)
		}
		if err := w.index.Upsert(ctx, []catalog.Product{product}); err != nil {
			return fmt.Errorf("indexing product %s: %w", p.ProductID, err)
		}
		return nil
	case JobIndexDelete:
		if err := w.index.Delete(ctx, p.ProductID); err != nil {
			return fmt.Errorf("removing product %s: %w", p.ProductID, err)
		}
		return nil
	default:
		return fmt.Errorf("unexpected job type %q", job.Type)
	}
}
