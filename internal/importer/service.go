// Package importer runs the asynchronous import pipeline: validate the
// inbound file, parse it through the codec layer, then ingest records with a
// bounded worker pool while the session row tracks live progress.
package importer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/akorchak/notekeeper/internal/codec"
	"github.com/akorchak/notekeeper/internal/logging"
	"github.com/akorchak/notekeeper/internal/models"
	"github.com/akorchak/notekeeper/internal/repositories/items"
	"github.com/akorchak/notekeeper/internal/repositories/sessions"
)

// Progress is one progress event published while a session runs.
type Progress struct {
	SessionId string
	Status    models.ImportStatus
	Total     int
	Processed int
	Succeeded int
	Failed    int
}

// Service drives import sessions.
type Service struct {
	sessions sessions.Repository
	items    items.Repository
	log      logging.Logger
	workers  int

	mu      sync.Mutex
	running map[string]context.CancelFunc
	subs    map[string][]chan Progress
}

func NewService(sessionRepo sessions.Repository, itemRepo items.Repository,
	workers int, log logging.Logger) *Service {
	if workers < 1 {
		workers = 1
	}
	return &Service{
		sessions: sessionRepo,
		items:    itemRepo,
		log:      log.With("component", "import"),
		workers:  workers,
		running:  map[string]context.CancelFunc{},
		subs:     map[string][]chan Progress{},
	}
}

// Start creates the session and returns its id immediately; parsing and
// ingestion proceed on a background goroutine. The caller's context only
// covers session creation, not the run itself.
func (s *Service) Start(ctx context.Context, format codec.Format, filename string,
	data []byte, mapping map[string]string) (string, error) {

	session := &models.ImportSession{
		Id:           uuid.NewString(),
		SourceFormat: string(format),
		Filename:     filename,
		Status:       models.ImportPending,
		TotalBytes:   int64(len(data)),
		FieldMapping: mapping,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.sessions.Insert(ctx, session); err != nil {
		return "", fmt.Errorf("failed to create import session: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.running[session.Id] = cancel
	s.mu.Unlock()

	go s.run(runCtx, session.Id, format, data, mapping)
	return session.Id, nil
}

// Status returns the current session state.
func (s *Service) Status(ctx context.Context, id string) (*models.ImportSession, error) {
	return s.sessions.GetByID(ctx, id)
}

// Cancel aborts a running session. The in-flight record either completes or
// never starts; the session terminates as failed with a cancellation message.
// Cancelling an unknown or finished session is a no-op.
func (s *Service) Cancel(id string) {
	s.mu.Lock()
	cancel, ok := s.running[id]
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// Subscribe returns a channel of progress events for the session and a
// function that must be called to unsubscribe. The channel closes when the
// session finishes; subscribing to a finished or unknown session yields a
// closed channel. Events are dropped rather than blocking a slow subscriber.
func (s *Service) Subscribe(id string) (<-chan Progress, func()) {
	ch := make(chan Progress, 16)
	s.mu.Lock()
	if _, running := s.running[id]; !running {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subs[id] = append(s.subs[id], ch)
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.subs[id]
		for i, c := range list {
			if c == ch {
				s.subs[id] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}

func (s *Service) publish(p Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs[p.SessionId] {
		select {
		case ch <- p:
		default:
		}
	}
}

func (s *Service) finish(id string) {
	s.mu.Lock()
	if cancel, ok := s.running[id]; ok {
		cancel()
		delete(s.running, id)
	}
	for _, ch := range s.subs[id] {
		close(ch)
	}
	delete(s.subs, id)
	s.mu.Unlock()
}

func (s *Service) run(ctx context.Context, id string, format codec.Format,
	data []byte, mapping map[string]string) {
	defer s.finish(id)

	// Terminal writes must land even when ctx was cancelled mid-run.
	persistCtx := context.WithoutCancel(ctx)

	fail := func(cause error) {
		if err := s.sessions.MarkFailed(persistCtx, id, cause.Error(), time.Now().UTC()); err != nil {
			s.log.Error(persistCtx, "failed to mark session failed", "id", id, "error", err)
		}
		s.publish(Progress{SessionId: id, Status: models.ImportFailed})
		s.log.Warn(persistCtx, "import session failed", "id", id, "error", cause)
	}

	if err := s.sessions.SetStatus(ctx, id, models.ImportValidating); err != nil {
		fail(err)
		return
	}
	s.publish(Progress{SessionId: id, Status: models.ImportValidating})

	records, findings, err := codec.Parse(format, data)
	if err != nil {
		// The file could not be read at all: unrecoverable.
		fail(err)
		return
	}

	// Rows the parser rejected never reach ingestion, but they are still
	// rows of the source file: they count toward the total and fail.
	rejected := 0
	for _, f := range findings {
		if f.Severity == models.SeverityError {
			rejected++
		}
	}

	var (
		findingsMu sync.Mutex
		total      = len(records) + rejected
	)
	if err := s.sessions.SetFindings(ctx, id, findings); err != nil {
		fail(err)
		return
	}
	if err := s.sessions.SetTotals(ctx, id, total, int64(len(data))); err != nil {
		fail(err)
		return
	}
	if err := s.sessions.SetStatus(ctx, id, models.ImportImporting); err != nil {
		fail(err)
		return
	}
	s.publish(Progress{SessionId: id, Status: models.ImportImporting, Total: total})

	var processed, succeeded, failed atomic.Int64
	for i := 0; i < rejected; i++ {
		processed.Add(1)
		failed.Add(1)
		if err := s.sessions.IncrementProgress(ctx, id, false); err != nil {
			fail(err)
			return
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i := range records {
		rec := &records[i]
		ordinal := i + 1
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}

			insertErr := s.ingest(gctx, rec, mapping)

			// Counters update after every record, not in batches, so
			// pollers see real progress mid-run.
			processed.Add(1)
			if insertErr != nil {
				failed.Add(1)
				row := rec.Row
				if row == 0 {
					row = ordinal
				}
				findingsMu.Lock()
				findings = append(findings, models.Finding{
					Row:      row,
					Message:  insertErr.Error(),
					Severity: models.SeverityError,
				})
				findingsMu.Unlock()
			} else {
				succeeded.Add(1)
			}

			if err := s.sessions.IncrementProgress(persistCtx, id, insertErr == nil); err != nil {
				s.log.Error(persistCtx, "failed to persist progress", "id", id, "error", err)
			}
			s.publish(Progress{
				SessionId: id,
				Status:    models.ImportImporting,
				Total:     total,
				Processed: int(processed.Load()),
				Succeeded: int(succeeded.Load()),
				Failed:    int(failed.Load()),
			})
			return nil
		})
	}
	_ = g.Wait()

	if err := s.sessions.SetFindings(persistCtx, id, findings); err != nil {
		s.log.Error(persistCtx, "failed to persist findings", "id", id, "error", err)
	}

	if ctx.Err() != nil {
		fail(fmt.Errorf("import cancelled: %w", ctx.Err()))
		return
	}

	// Per-record failures do not fail the session: it completes once every
	// record has been attempted.
	if err := s.sessions.MarkCompleted(persistCtx, id, time.Now().UTC()); err != nil {
		s.log.Error(persistCtx, "failed to complete session", "id", id, "error", err)
		return
	}
	s.publish(Progress{
		SessionId: id,
		Status:    models.ImportCompleted,
		Total:     total,
		Processed: int(processed.Load()),
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
	})
	s.log.Info(persistCtx, "import session completed", "id", id,
		"total", total, "succeeded", succeeded.Load(), "failed", failed.Load())
}

// ingest maps one parsed record onto an item and inserts it.
func (s *Service) ingest(ctx context.Context, rec *codec.Record, mapping map[string]string) error {
	item := mapRecord(rec, mapping)
	if item.Title == "" {
		return fmt.Errorf("record has no title")
	}
	now := time.Now().UTC()
	item.Id = uuid.NewString()
	item.CreatedAt = now
	item.UpdatedAt = now
	return s.items.Insert(ctx, &item)
}

// mapRecord applies the session's field-mapping table. Keys are source field
// names ("title", "content", "category", "tags" or a CSV extra column);
// values are the item fields they populate.
func mapRecord(rec *codec.Record, mapping map[string]string) models.Item {
	item := models.Item{
		Title:    rec.Title,
		Content:  rec.Content,
		Category: rec.Category,
		Tags:     rec.Tags,
	}
	for source, target := range mapping {
		var value string
		switch source {
		case "title":
			value = rec.Title
		case "content":
			value = rec.Content
		case "category":
			value = rec.Category
		case "tags":
			value = strings.Join(rec.Tags, ",")
		default:
			value = rec.Extra[source]
		}
		if value == "" {
			continue
		}
		switch target {
		case "title":
			item.Title = value
		case "content":
			item.Content = value
		case "category":
			item.Category = value
		case "tags":
			item.Tags = append(item.Tags, value)
		default:
			if item.Metadata == nil {
				item.Metadata = map[string]string{}
			}
			item.Metadata[target] = value
		}
	}
	return item
}
