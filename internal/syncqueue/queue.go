// Package syncqueue implements the durable journal of pending mutations and
// the single background worker that replays them against the live store.
package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/akorchak/notekeeper/internal/logging"
	"github.com/akorchak/notekeeper/internal/models"
	"github.com/akorchak/notekeeper/internal/repositories/items"
	"github.com/akorchak/notekeeper/internal/repositories/syncops"
)

// EntityKindItem is the only entity kind the worker currently applies.
const EntityKindItem = "item"

// maxIdleBackoff caps how long the worker sleeps between passes when the
// queue stays empty.
const maxIdleBackoff = 30 * time.Second

var errUnknownEntityKind = errors.New("unknown entity kind")

// Queue owns the journal and its worker loop.
type Queue struct {
	ops   syncops.Repository
	items items.Repository
	log   logging.Logger

	batchSize  int
	maxRetries int
	poll       time.Duration
}

func New(ops syncops.Repository, itemRepo items.Repository,
	batchSize, maxRetries int, poll time.Duration, log logging.Logger) *Queue {
	return &Queue{
		ops:        ops,
		items:      itemRepo,
		log:        log.With("component", "syncqueue"),
		batchSize:  batchSize,
		maxRetries: maxRetries,
		poll:       poll,
	}
}

// Enqueue appends a pending operation to the journal and returns its id.
// Zero-value fields are filled with defaults.
func (q *Queue) Enqueue(ctx context.Context, op models.SyncOperation) (string, error) {
	if op.Id == "" {
		op.Id = uuid.NewString()
	}
	if op.EntityKind == "" {
		op.EntityKind = EntityKindItem
	}
	if op.MaxRetries == 0 {
		op.MaxRetries = q.maxRetries
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	op.Status = models.SyncOpPending
	op.RetryCount = 0

	if err := q.ops.Insert(ctx, &op); err != nil {
		return "", err
	}
	return op.Id, nil
}

// Cancel moves a not-yet-finished operation to the terminal cancelled state.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	return q.ops.MarkCancelled(ctx, id)
}

// Status returns journal depth per lifecycle state.
func (q *Queue) Status(ctx context.Context) (map[models.SyncOpStatus]int, error) {
	return q.ops.CountByStatus(ctx)
}

// Run drives the worker until the context is cancelled. The pause between
// passes starts at the poll interval and backs off along a fibonacci curve
// while the queue stays empty.
func (q *Queue) Run(ctx context.Context) error {
	backoff := retry.WithCappedDuration(maxIdleBackoff, retry.NewFibonacci(q.poll))

	for {
		processed, err := q.Pass(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			q.log.Error(ctx, "worker pass failed", "error", err)
		}

		pause := q.poll
		if processed == 0 {
			if d, stop := backoff.Next(); !stop {
				pause = d
			}
		} else {
			backoff = retry.WithCappedDuration(maxIdleBackoff, retry.NewFibonacci(q.poll))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pause):
		}
	}
}

// Pass executes one worker pass: drops expired operations, claims a batch and
// applies each operation. Returns how many operations were attempted.
func (q *Queue) Pass(ctx context.Context) (int, error) {
	if n, err := q.ops.DropExpired(ctx, time.Now().UTC()); err != nil {
		return 0, err
	} else if n > 0 {
		q.log.Debug(ctx, "dropped expired operations", "count", n)
	}

	batch, err := q.ops.SelectBatch(ctx, q.batchSize)
	if err != nil {
		return 0, err
	}

	attempted := 0
	for i := range batch {
		if err := ctx.Err(); err != nil {
			return attempted, err
		}
		op := &batch[i]

		// Claim is the single-flight gate: it only succeeds while the
		// operation is still pending.
		claimed, err := q.ops.Claim(ctx, op.Id)
		if err != nil {
			return attempted, err
		}
		if !claimed {
			continue
		}
		attempted++

		if applyErr := q.apply(ctx, op); applyErr != nil {
			q.settleFailure(ctx, op, applyErr)
			continue
		}
		if err := q.ops.MarkCompleted(ctx, op.Id, time.Now().UTC()); err != nil {
			q.log.Error(ctx, "failed to complete operation", "id", op.Id, "error", err)
		}
	}
	return attempted, nil
}

// settleFailure either returns the operation to pending for a later pass or,
// once the retry budget is spent, moves it to the terminal failed state.
func (q *Queue) settleFailure(ctx context.Context, op *models.SyncOperation, applyErr error) {
	retryCount := op.RetryCount + 1
	if retryCount >= op.MaxRetries {
		if err := q.ops.MarkFailed(ctx, op.Id, applyErr.Error()); err != nil {
			q.log.Error(ctx, "failed to mark operation failed", "id", op.Id, "error", err)
			return
		}
		q.log.Warn(ctx, "operation failed terminally", "id", op.Id,
			"attempts", retryCount, "error", applyErr)
		return
	}
	if err := q.ops.Release(ctx, op.Id, retryCount, applyErr.Error()); err != nil {
		q.log.Error(ctx, "failed to release operation", "id", op.Id, "error", err)
		return
	}
	q.log.Debug(ctx, "operation returned to queue", "id", op.Id, "retry", retryCount)
}

// apply replays one mutation intent against the live store.
func (q *Queue) apply(ctx context.Context, op *models.SyncOperation) error {
	if op.EntityKind != EntityKindItem {
		return fmt.Errorf("%q: %w", op.EntityKind, errUnknownEntityKind)
	}

	switch op.Kind {
	case models.SyncOpDelete:
		return q.items.Delete(ctx, op.EntityId)

	case models.SyncOpCreate, models.SyncOpUpdate, models.SyncOpRestore:
		var item models.Item
		if err := json.Unmarshal(op.Payload, &item); err != nil {
			return fmt.Errorf("malformed payload: %w", err)
		}
		if item.Id == "" {
			item.Id = op.EntityId
		}
		// Replay must be idempotent: a create retried after a crash may
		// find the row already present.
		return q.items.Upsert(ctx, &item)
	}
	return fmt.Errorf("%q: unknown operation kind", op.Kind)
}
