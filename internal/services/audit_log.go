package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-merchant-backend/internal/domain"
	"github.com/tbourn/go-merchant-backend/internal/observability"
)

// AuditSink receives audit records. Appending never fails the caller.
type AuditSink interface {
	AppendRotation(ctx context.Context, rec domain.RotationRecord)
	AppendPurchase(ctx context.Context, rec domain.PurchaseRecord)
}

// AuditHealth is a point-in-time view of the audit pipeline.
type AuditHealth struct {
	Degraded bool   `json:"degraded"`
	Pending  int64  `json:"pending"`
	Dropped  uint64 `json:"dropped"`
	Failed   uint64 `json:"failed"`
}

type auditItem struct {
	rotation *domain.RotationRecord
	purchase *domain.PurchaseRecord
}

// AuditLog writes records to an AuditStore from a single background
// goroutine. Records that cannot be queued or written after MaxRetries are
// counted and flip the log into a degraded state; they are never silently lost.
type AuditLog struct {
	store        AuditStore
	maxRetries   int
	backoff      time.Duration
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	ch     chan auditItem
	done   chan struct{}

	pending  atomic.Int64
	dropped  atomic.Uint64
	failed   atomic.Uint64
	degraded atomic.Bool
}

// NewAuditLog starts the writer goroutine. Call Close to stop it.
func NewAuditLog(store AuditStore, buffer, maxRetries int) *AuditLog {
	if buffer <= 0 {
		buffer = 1
	}
	if maxRetries <= 0 {
		maxRetries = 1
	}
	a := &AuditLog{
		store:        store,
		maxRetries:   maxRetries,
		backoff:      50 * time.Millisecond,
		writeTimeout: 5 * time.Second,
		ch:           make(chan auditItem, buffer),
		done:         make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AuditLog) AppendRotation(_ context.Context, rec domain.RotationRecord) {
	a.enqueue(auditItem{rotation: &rec})
}

func (a *AuditLog) AppendPurchase(_ context.Context, rec domain.PurchaseRecord) {
	a.enqueue(auditItem{purchase: &rec})
}

func (a *AuditLog) enqueue(it auditItem) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.drop(it, "audit log closed")
		return
	}
	a.pending.Add(1)
	select {
	case a.ch <- it:
	default:
		a.pending.Add(-1)
		a.drop(it, "audit buffer full")
	}
}

func (a *AuditLog) drop(it auditItem, reason string) {
	a.dropped.Add(1)
	observability.AuditDroppedTotal.Inc()
	a.markDegraded()
	log.Warn().Str("kind", it.kind()).Str("reason", reason).Msg("audit record dropped")
}

func (a *AuditLog) run() {
	defer close(a.done)
	for it := range a.ch {
		a.write(it)
		a.pending.Add(-1)
	}
}

func (a *AuditLog) write(it auditItem) {
	var err error
	for attempt := 1; attempt <= a.maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), a.writeTimeout)
		if it.rotation != nil {
			err = a.store.InsertRotationRecord(ctx, it.rotation)
		} else {
			err = a.store.InsertPurchaseRecord(ctx, it.purchase)
		}
		cancel()
		if err == nil {
			return
		}
		if attempt < a.maxRetries {
			time.Sleep(a.backoff * time.Duration(attempt))
		}
	}
	a.failed.Add(1)
	observability.AuditWriteFailuresTotal.Inc()
	a.markDegraded()
	log.Error().Err(err).Str("kind", it.kind()).Int("attempts", a.maxRetries).Msg("audit record write failed")
}

func (a *AuditLog) markDegraded() {
	if a.degraded.CompareAndSwap(false, true) {
		observability.AuditDegraded.Set(1)
	}
}

// Health reports the degraded flag and counters.
func (a *AuditLog) Health() AuditHealth {
	return AuditHealth{
		Degraded: a.degraded.Load(),
		Pending:  a.pending.Load(),
		Dropped:  a.dropped.Load(),
		Failed:   a.failed.Load(),
	}
}

// Err returns ErrAuditDegraded once any record has been lost.
func (a *AuditLog) Err() error {
	if a.degraded.Load() {
		return ErrAuditDegraded
	}
	return nil
}

// Flush waits until every queued record has been written or abandoned.
func (a *AuditLog) Flush(ctx context.Context) error {
	t := time.NewTicker(5 * time.Millisecond)
	defer t.Stop()
	for a.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// Close stops accepting records and waits for the writer to drain.
func (a *AuditLog) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.ch)
	}
	a.mu.Unlock()
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (it auditItem) kind() string {
	if it.rotation != nil {
		return "rotation"
	}
	return "purchase"
}
