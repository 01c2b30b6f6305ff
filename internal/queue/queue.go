package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/guardianai/api/internal/metrics"
	"github.com/guardianai/api/internal/model"
	"github.com/guardianai/api/internal/storage"
)

// FrameSampler turns a stored video into a bounded, ordered set of
// still frames.
type FrameSampler interface {
	Sample(ctx context.Context, path string) ([]model.Frame, error)
}

// Analyzer submits a frame batch to the vision service and returns the
// validated anomaly list.
type Analyzer interface {
	Analyze(ctx context.Context, frames []model.Frame, sourceName string) ([]model.Anomaly, error)
}

// Notifier pushes state changes to connected clients. Implementations
// must not block.
type Notifier interface {
	NotifyRecord(record model.AnalysisRecord)
	NotifyQueue(pending int, busy bool)
}

// Submission is one user-submitted item. Source is nil for URL-only
// submissions, which become awaiting_upload records and are never
// analyzed in-process.
type Submission struct {
	Key         string
	Source      io.Reader
	ContentType string
}

// record pairs the public snapshot with the owned preview handle.
type record struct {
	model.AnalysisRecord
	preview *storage.Handle
	seq     uint64 // submission order, newest-first display
}

// Queue owns the ordered work queue, the single-flight processing
// lock, and the per-key result records. It is the only writer of both;
// readers get value snapshots.
type Queue struct {
	sampler  FrameSampler
	analyzer Analyzer
	store    *storage.LocalStore
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu       sync.Mutex
	records  map[string]*record // by key
	byID     map[string]*record
	pending  []string // FIFO of keys awaiting analysis
	inFlight string   // key currently processing, empty when idle
	seq      uint64

	wake chan struct{}
}

// New creates an idle queue. Call Run on a goroutine to start the
// driver loop.
func New(sampler FrameSampler, analyzer Analyzer, store *storage.LocalStore, notifier Notifier, m *metrics.Metrics, logger *slog.Logger) *Queue {
	return &Queue{
		sampler:  sampler,
		analyzer: analyzer,
		store:    store,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		records:  make(map[string]*record),
		byID:     make(map[string]*record),
		wake:     make(chan struct{}, 1),
	}
}

// Submit registers the given items. Creation is synchronous so callers
// see pending records immediately; analysis happens on the driver
// goroutine. Duplicate keys are silently dropped, except that supplying
// source bytes for a key in the error or awaiting_upload state revives
// it back to pending.
func (q *Queue) Submit(subs []Submission) []model.AnalysisRecord {
	var accepted []model.AnalysisRecord

	for _, sub := range subs {
		if sub.Key == "" {
			continue
		}

		// Stage the preview outside the lock; a dropped duplicate
		// releases it again right away.
		var handle *storage.Handle
		if sub.Source != nil {
			h, err := q.store.Save(sub.Source, sub.ContentType)
			if err != nil {
				q.logger.Error("failed to store preview", "key", sub.Key, "error", err)
				continue
			}
			handle = h
		}

		if rec, ok := q.admit(sub.Key, handle); ok {
			accepted = append(accepted, rec)
		} else if handle != nil {
			q.store.Release(handle)
		}
	}

	if len(accepted) > 0 {
		q.kick()
	}
	return accepted
}

// admit applies the duplicate-key policy and creates or revives the
// record under the lock.
func (q *Queue) admit(key string, handle *storage.Handle) (model.AnalysisRecord, bool) {
	now := time.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	existing, known := q.records[key]
	if known {
		revivable := existing.Status == model.StatusError || existing.Status == model.StatusAwaitingUpload
		if handle == nil || !revivable {
			if q.metrics != nil {
				q.metrics.DuplicatesTotal.Inc()
			}
			return model.AnalysisRecord{}, false
		}

		// Revive: the old preview (if any) is superseded here and
		// released exactly once.
		if existing.preview != nil {
			q.store.Release(existing.preview)
		}
		existing.preview = handle
		existing.Status = model.StatusPending
		existing.Anomalies = nil
		existing.Error = nil
		existing.ErrorKind = ""
		existing.StartedAt = nil
		existing.CompletedAt = nil
		existing.SubmittedAt = now
		q.seq++
		existing.seq = q.seq
		q.pending = append(q.pending, key)
		q.noteSubmitted()
		snap := q.snapshotLocked(existing)
		q.notifyLocked(snap)
		return snap, true
	}

	rec := &record{
		AnalysisRecord: model.AnalysisRecord{
			ID:          uuid.New().String(),
			Key:         key,
			Status:      model.StatusPending,
			Anomalies:   []model.Anomaly{},
			SubmittedAt: now,
		},
		preview: handle,
	}
	if handle == nil {
		// URL-only: nothing to sample in-process, the analyzer is
		// never invoked for this key.
		rec.Status = model.StatusAwaitingUpload
	}
	q.seq++
	rec.seq = q.seq
	q.records[key] = rec
	q.byID[rec.ID] = rec
	if rec.Status == model.StatusPending {
		q.pending = append(q.pending, key)
	}
	q.noteSubmitted()

	snap := q.snapshotLocked(rec)
	q.notifyLocked(snap)
	return snap, true
}

// Run drives the queue until the context is canceled: whenever no item
// is in flight and the queue is non-empty, the head is processed to
// settlement. Strictly one analysis runs at a time.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}
		q.drain(ctx)
	}
}

func (q *Queue) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		key, ok := q.begin()
		if !ok {
			return
		}
		q.process(ctx, key)
	}
}

// begin peeks the queue head and marks it processing. The head stays in
// the pending list until settlement so occupancy reflects it.
func (q *Queue) begin() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.inFlight != "" {
		return "", false
	}

	var key string
	var rec *record
	for {
		if len(q.pending) == 0 {
			return "", false
		}
		key = q.pending[0]
		rec = q.records[key]
		if rec != nil && rec.Status == model.StatusPending {
			break
		}
		// Defensive: drop queue entries whose record moved on.
		q.pending = q.pending[1:]
	}

	q.inFlight = key
	now := time.Now()
	rec.Status = model.StatusProcessing
	rec.StartedAt = &now
	if q.metrics != nil {
		q.metrics.InFlight.Set(1)
	}

	q.notifyLocked(q.snapshotLocked(rec))
	return key, true
}

// process runs one sample-and-analyze cycle and settles the record.
// Failures never escape: they become error records and the queue
// advances regardless of outcome.
func (q *Queue) process(ctx context.Context, key string) {
	started := time.Now()

	path, sourceName := q.source(key)

	anomalies, err := q.analyze(ctx, path, sourceName)

	if q.metrics != nil {
		q.metrics.AnalysisDuration.Observe(time.Since(started).Seconds())
	}
	q.settle(key, anomalies, err)
}

func (q *Queue) analyze(ctx context.Context, path, sourceName string) ([]model.Anomaly, error) {
	frames, err := q.sampler.Sample(ctx, path)
	if err != nil {
		return nil, err
	}
	return q.analyzer.Analyze(ctx, frames, sourceName)
}

func (q *Queue) source(key string) (path, sourceName string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec := q.records[key]
	if rec != nil && rec.preview != nil {
		path = rec.preview.Path
	}
	return path, key
}

// settle writes the terminal status and unconditionally pops the head
// and clears the in-flight marker, re-arming the driver for the next
// item.
func (q *Queue) settle(key string, anomalies []model.Anomaly, err error) {
	now := time.Now()

	q.mu.Lock()
	if len(q.pending) > 0 && q.pending[0] == key {
		q.pending = q.pending[1:]
	}
	q.inFlight = ""
	if q.metrics != nil {
		q.metrics.InFlight.Set(0)
		q.metrics.QueueDepth.Set(float64(len(q.pending)))
	}

	rec := q.records[key]
	if rec == nil {
		q.mu.Unlock()
		q.kick()
		return
	}

	if err != nil {
		kind := model.ErrKindService
		message := err.Error()
		var aerr *model.AnalysisError
		if errors.As(err, &aerr) {
			kind = aerr.Kind
			message = aerr.Message
		}
		rec.Status = model.StatusError
		rec.Error = &message
		rec.ErrorKind = kind
		rec.Anomalies = []model.Anomaly{}
		if q.metrics != nil {
			q.metrics.AnalysesFailed.WithLabelValues(string(kind)).Inc()
		}
		q.logger.Warn("analysis failed", "key", key, "kind", kind, "error", message)
	} else {
		if anomalies == nil {
			anomalies = []model.Anomaly{}
		}
		rec.Status = model.StatusCompleted
		rec.Anomalies = anomalies
		if q.metrics != nil {
			q.metrics.AnalysesCompleted.Inc()
		}
		q.logger.Info("analysis completed", "key", key, "anomalies", len(anomalies))
	}
	rec.CompletedAt = &now

	snap := q.snapshotLocked(rec)
	q.notifyLocked(snap)
	q.mu.Unlock()

	q.kick()
}

// IsBusy reports whether the queue is non-empty or an item is in
// flight. This is a hint for the submission surface, not an admission
// gate: submissions while busy still enqueue.
func (q *Queue) IsBusy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight != "" || len(q.pending) > 0
}

// Records returns an immutable snapshot of every record,
// newest-submission-first.
func (q *Queue) Records() []model.AnalysisRecord {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]model.AnalysisRecord, 0, len(q.records))
	for _, rec := range q.records {
		out = append(out, q.snapshotLocked(rec))
	}
	recSeq := func(id string) uint64 { return q.byID[id].seq }
	sort.Slice(out, func(i, j int) bool {
		return recSeq(out[i].ID) > recSeq(out[j].ID)
	})
	return out
}

// Record returns a snapshot of one record by route identity.
func (q *Queue) Record(id string) (model.AnalysisRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.byID[id]
	if !ok {
		return model.AnalysisRecord{}, false
	}
	return q.snapshotLocked(rec), true
}

// Preview returns the stored media handle for a record, when present.
func (q *Queue) Preview(id string) (*storage.Handle, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.byID[id]
	if !ok || rec.preview == nil {
		return nil, false
	}
	return rec.preview, true
}

// Close releases every record's preview handle. The driver goroutine is
// stopped separately by canceling the Run context.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, rec := range q.records {
		if rec.preview != nil {
			q.store.Release(rec.preview)
			rec.preview = nil
		}
	}
}

// kick wakes the driver without blocking.
func (q *Queue) kick() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) noteSubmitted() {
	if q.metrics != nil {
		q.metrics.SubmissionsTotal.Inc()
		q.metrics.QueueDepth.Set(float64(len(q.pending)))
	}
}

// snapshotLocked copies a record for readers. Anomalies are copied so a
// snapshot never aliases queue-owned state.
func (q *Queue) snapshotLocked(rec *record) model.AnalysisRecord {
	snap := rec.AnalysisRecord
	snap.Anomalies = append([]model.Anomaly(nil), rec.Anomalies...)
	if snap.Anomalies == nil {
		snap.Anomalies = []model.Anomaly{}
	}
	if rec.preview != nil {
		snap.PreviewURL = "/api/videos/" + rec.ID
	}
	return snap
}

func (q *Queue) notifyLocked(snap model.AnalysisRecord) {
	if q.notifier == nil {
		return
	}
	q.notifier.NotifyRecord(snap)
	busy := q.inFlight != "" || len(q.pending) > 0
	q.notifier.NotifyQueue(len(q.pending), busy)
}
