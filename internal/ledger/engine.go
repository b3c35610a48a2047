package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/syncboard/internal/notify"
	"github.com/roach88/syncboard/internal/room"
	"github.com/roach88/syncboard/internal/store"
)

// DefaultLogLimit is the number of recent-operation lines kept in a room.
const DefaultLogLimit = 10

// Operation names a ledger operation.
type Operation string

const (
	OpTransfer       Operation = "transfer"
	OpForceEdit      Operation = "forceEdit"
	OpReset          Operation = "reset"
	OpSaveSettlement Operation = "saveSettlement"
	OpUndoLast       Operation = "undoLast"
)

// permission returns the template permission gating op.
func (op Operation) permission() string {
	switch op {
	case OpTransfer:
		return room.PermTransfer
	case OpForceEdit:
		return room.PermForceEdit
	case OpReset:
		return room.PermReset
	case OpSaveSettlement:
		return room.PermSettlement
	case OpUndoLast:
		return room.PermUndo
	}
	return ""
}

const tracerName = "github.com/roach88/syncboard/internal/ledger"

// Engine applies ledger operations to rooms held in a store.
//
// Thread-safety: all methods are safe for concurrent use. The engine holds
// no per-room state; serialization comes from store.UpdateRoom.
type Engine struct {
	store     *store.Store
	publisher notify.Publisher
	ids       IDGenerator
	now       func() time.Time
	logLimit  int
	metrics   *Metrics
	tracer    trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher sets where committed updates are published.
// Default: notify.Discard.
func WithPublisher(p notify.Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.publisher = p
		}
	}
}

// WithIDGenerator sets the history and settlement id source.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		if g != nil {
			e.ids = g
		}
	}
}

// WithNow sets the wall clock used for entry timestamps. Timestamps are
// informational; history is ordered by seq.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogLimit sets how many recent-operation lines a room keeps.
func WithLogLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.logLimit = n
		}
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithTracerProvider sets the provider for operation spans.
// Default: the global otel provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		if tp != nil {
			e.tracer = tp.Tracer(tracerName)
		}
	}
}

// New creates an Engine over s.
func New(s *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:     s,
		publisher: notify.Discard,
		ids:       UUIDv7Generator{},
		now:       time.Now,
		logLimit:  DefaultLogLimit,
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// change describes the history entry an operation records.
type change struct {
	kind       room.EntryKind
	message    string
	settlement *room.Settlement
}

// mutation mutates tx.Room.State and returns the entry to record, or nil
// when the operation manages history itself.
type mutation func(tx *store.Tx) (*change, error)

// run executes fn in one store transaction and publishes the committed room.
// A non-nil check rejects the operation before the store is touched.
func (e *Engine) run(ctx context.Context, op Operation, roomID string, check error, fn mutation) (room.Room, error) {
	ctx, span := e.tracer.Start(ctx, "ledger."+string(op),
		trace.WithAttributes(
			attribute.String("room.id", roomID),
			attribute.String("ledger.operation", string(op)),
		),
	)
	defer span.End()

	start := time.Now()
	var (
		message   string
		committed room.Room
		err       = check
	)
	if err == nil {
		committed, err = e.store.UpdateRoom(ctx, roomID, func(tx *store.Tx) error {
			if perm := op.permission(); !tx.Room.Template.HasPermission(perm) {
				return permissionDenied(roomID, op, perm)
			}
			pre := tx.Room.State.Clone()
			c, err := fn(tx)
			if err != nil {
				return err
			}
			if c == nil {
				return nil
			}
			message = c.message
			return e.record(tx, pre, c)
		})
	}
	if err != nil {
		var le *Error
		if !errors.As(err, &le) && errors.Is(err, store.ErrNotFound) {
			err = roomNotFound(roomID)
		}
	}
	e.metrics.observe(op, err, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, MessageOf(err))
		span.SetAttributes(attribute.String("ledger.code", string(CodeOf(err))))
		if CodeOf(err) == CodeInternal {
			slog.Error("ledger operation failed",
				"operation", op,
				"room_id", roomID,
				"error", err,
			)
		} else {
			slog.Info("ledger operation rejected",
				"operation", op,
				"room_id", roomID,
				"code", CodeOf(err),
				"message", MessageOf(err),
			)
		}
		return room.Room{}, err
	}

	slog.Info("ledger operation committed",
		"operation", op,
		"room_id", roomID,
		"message", message,
	)

	e.publisher.Publish(notify.UpdateOf(committed))
	return committed, nil
}

// record appends the history entry for c with the pre-operation snapshot.
func (e *Engine) record(tx *store.Tx, pre room.CurrentState, c *change) error {
	seq, err := tx.NextSeq()
	if err != nil {
		return err
	}
	entry := room.HistoryEntry{
		ID:        e.ids.Generate(),
		RoomID:    tx.Room.ID,
		Seq:       seq,
		Timestamp: e.now().UTC(),
		Kind:      c.kind,
		Message:   c.message,
		Snapshot:  pre,
	}
	if err := tx.AppendHistory(entry); err != nil {
		return err
	}
	tx.Room.State.AppendLog(c.message, e.logLimit)

	if c.settlement != nil {
		st := *c.settlement
		st.RoomID = tx.Room.ID
		st.HistoryID = entry.ID
		st.Timestamp = entry.Timestamp
		if err := tx.InsertSettlement(st); err != nil {
			return err
		}
	}
	return nil
}
