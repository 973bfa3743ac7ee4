package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/allotment/internal/allotment"
	"github.com/roach88/allotment/internal/fault"
	"github.com/roach88/allotment/internal/ir"
	"github.com/roach88/allotment/internal/ledger"
	"github.com/roach88/allotment/internal/role"
	"github.com/roach88/allotment/internal/store"
)

const tracerName = "github.com/roach88/allotment/internal/engine"

// ErrPoisoned is returned for every request after a journal write failed.
// The in-memory state may be ahead of the journal; restart to recover.
var ErrPoisoned = errors.New("engine stopped after journal failure")

// Request is an operation submitted to the engine.
type Request struct {
	// RequestID correlates the request with its journal record.
	// Generated when empty.
	RequestID string `json:"request_id,omitempty"`

	// Caller is the account performing the operation.
	Caller string `json:"caller"`

	// Action selects the operation.
	Action ir.Action `json:"action"`

	// Args are the action's arguments. Amounts are base-unit integers,
	// times unix seconds.
	Args ir.Object `json:"args,omitempty"`

	// At is the unix time the operation observes as "now".
	// Zero means the later of the wall clock and the last executed time.
	At int64 `json:"at,omitempty"`
}

// Engine executes requests against the allotment components and journals
// every outcome.
//
// Thread-safety model:
//   - Execute(): safe from any goroutine; requests are serialized
//   - Submit(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - Manager(), Ledger(), Roles(): the components are safe for concurrent reads
type Engine struct {
	mu sync.Mutex

	store   *store.Store
	genesis store.Genesis
	st      *state
	seq     *Sequencer
	lastAt  int64

	queue  *requestQueue
	ids    RequestIDGenerator
	now    func() time.Time
	logger *slog.Logger
	tracer trace.Tracer

	poisoned error
	restored bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithRequestIDs sets the request id generator. Default: UUIDv7Generator.
func WithRequestIDs(gen RequestIDGenerator) Option {
	return func(e *Engine) {
		e.ids = gen
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithTracer sets the tracer. Default: the global tracer provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithWallClock sets the time source used for requests without At.
func WithWallClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an engine over a journal. The genesis is pinned into the
// journal on first use; reopening a journal with a different genesis fails.
// Call Restore before executing requests against a non-empty journal.
func New(ctx context.Context, s *store.Store, g store.Genesis, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, fmt.Errorf("engine: store is required")
	}
	e := &Engine{
		store:   s,
		genesis: g,
		seq:     NewSequencer(),
		queue:   newRequestQueue(),
		ids:     UUIDv7Generator{},
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}

	st, err := newState(g, e.logger, e.tracer)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e.st = st

	if err := s.PutGenesis(ctx, g); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return e, nil
}

// Genesis returns the parameters the engine was created with.
func (e *Engine) Genesis() store.Genesis { return e.genesis }

// Manager returns the allotment manager for read queries.
func (e *Engine) Manager() *allotment.Manager { return e.st.manager }

// Ledger returns the asset ledger for read queries.
func (e *Engine) Ledger() *ledger.Memory { return e.st.ledger }

// Roles returns the role registry for read queries.
func (e *Engine) Roles() *role.Registry { return e.st.roles }

// Store returns the journal.
func (e *Engine) Store() *store.Store { return e.store }

// LastSeq returns the seq of the most recent record.
func (e *Engine) LastSeq() int64 { return e.seq.Current() }

// LastAt returns the time of the most recent record.
func (e *Engine) LastAt() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastAt
}

// Execute runs one request and journals its outcome.
//
// The returned completion describes the operation's outcome, including
// failures such as PERMISSION_DENIED or TOO_EARLY. A non-nil error means the
// request was rejected before execution (time moving backwards) or the
// journal could not be written.
func (e *Engine) Execute(ctx context.Context, req Request) (ir.Completion, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.poisoned != nil {
		return ir.Completion{}, fmt.Errorf("%w: %v", ErrPoisoned, e.poisoned)
	}

	if req.RequestID == "" {
		req.RequestID = e.ids.Generate()
	}
	if req.At == 0 {
		req.At = e.now().Unix()
		if req.At < e.lastAt {
			req.At = e.lastAt
		}
	}
	if req.At < e.lastAt {
		return ir.Completion{}, fault.InvalidArgument("request time %d precedes last executed time %d", req.At, e.lastAt).
			With("request_id", req.RequestID)
	}

	rec, err := e.apply(ctx, req, e.seq.Next())
	if err != nil {
		e.seq.Rewind()
		return ir.Completion{}, err
	}

	if err := e.store.WriteRecord(ctx, rec); err != nil {
		e.poisoned = err
		e.logger.ErrorContext(ctx, "journal write failed, engine stopped",
			"request_id", req.RequestID,
			"seq", rec.Invocation.Seq,
			"error", err)
		return ir.Completion{}, fmt.Errorf("journal record %d: %w", rec.Invocation.Seq, err)
	}
	e.lastAt = req.At

	e.logger.InfoContext(ctx, "operation journaled",
		"request_id", req.RequestID,
		"action", req.Action,
		"caller", rec.Invocation.Caller,
		"seq", rec.Invocation.Seq,
		"output_case", rec.Completion.OutputCase)
	return rec.Completion, nil
}

// apply executes req at seq against the state and builds its record.
// Must be called with e.mu held.
func (e *Engine) apply(ctx context.Context, req Request, seq int64) (ir.Record, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Execute", trace.WithAttributes(
		attribute.String("action", string(req.Action)),
		attribute.String("caller", req.Caller),
		attribute.String("request_id", req.RequestID),
		attribute.Int64("seq", seq),
	))
	defer span.End()

	e.st.clock.SetUnix(req.At)
	e.st.events.Drain()

	// Parsing works on the sanitized args so a replayed request, read back
	// from the journal, fails with exactly the same message.
	args := sanitizeArgs(req.Args)
	caller, callerErr := ir.ParseAccount(req.Caller)
	c, parseErr := parse(req.Action, args)

	var (
		result ir.Object
		opErr  error
	)
	switch {
	case callerErr != nil:
		caller = ir.Account(req.Caller)
		opErr = fault.InvalidArgument("caller must not be empty")
	case parseErr != nil:
		opErr = parseErr
	default:
		args = c.args
		result, opErr = c.run(ctx, e.st, caller)
	}
	events := e.st.events.Drain()

	inv := ir.Invocation{
		RequestID:     req.RequestID,
		Action:        req.Action,
		Caller:        caller,
		Args:          args,
		At:            req.At,
		Seq:           seq,
		EngineVersion: ir.EngineVersion,
	}
	id, err := ir.InvocationID(inv.Action, inv.Caller, inv.Args, inv.At, inv.Seq)
	if err != nil {
		span.SetStatus(codes.Error, "invocation id")
		return ir.Record{}, fmt.Errorf("execute: %w", err)
	}
	inv.ID = id

	comp := ir.Completion{
		InvocationID: inv.ID,
		OutputCase:   ir.OutputSuccess,
		Result:       result,
		Events:       events,
		Seq:          seq,
	}
	if comp.Result == nil {
		comp.Result = ir.Object{}
	}
	if opErr != nil {
		comp.OutputCase, comp.Message = outcomeOf(opErr)
		comp.Result = ir.Object{}
	}
	cid, err := ir.CompletionID(comp.InvocationID, comp.OutputCase, comp.Message, comp.Result, comp.Events, comp.Seq)
	if err != nil {
		span.SetStatus(codes.Error, "completion id")
		return ir.Record{}, fmt.Errorf("execute: %w", err)
	}
	comp.ID = cid

	span.SetAttributes(attribute.String("output_case", comp.OutputCase))
	if opErr != nil {
		span.SetStatus(codes.Error, comp.OutputCase)
		e.logger.DebugContext(ctx, "operation failed",
			"action", req.Action,
			"caller", caller,
			"output_case", comp.OutputCase,
			"error", opErr)
	}
	return ir.Record{Invocation: inv, Completion: comp}, nil
}

// outcomeOf maps an operation error to an output case and message.
// Errors without a fault code are reported as INVALID_ARGUMENT.
func outcomeOf(err error) (string, string) {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return string(fe.Code), err.Error()
	}
	return string(fault.CodeInvalidArgument), err.Error()
}

// Restore rebuilds state by re-executing every journaled record in seq
// order without writing. Each re-execution must reproduce the journaled
// completion id; otherwise Restore fails with NON_DETERMINISTIC and the
// engine refuses further requests. Returns the number of records replayed.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.restored || e.seq.Current() != 0 {
		return 0, fmt.Errorf("restore: engine already has state")
	}
	records, err := e.store.ReadRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore: %w", err)
	}

	for _, rec := range records {
		inv := rec.Invocation
		want := e.seq.Current() + 1
		if inv.Seq != want {
			e.poisoned = fault.Newf(fault.CodeNonDeterministic, "journal gap: expected seq %d, found %d", want, inv.Seq)
			return 0, e.poisoned
		}
		req := Request{
			RequestID: inv.RequestID,
			Caller:    string(inv.Caller),
			Action:    inv.Action,
			Args:      inv.Args,
			At:        inv.At,
		}
		got, err := e.apply(ctx, req, e.seq.Next())
		if err != nil {
			e.poisoned = err
			return 0, fmt.Errorf("restore seq %d: %w", inv.Seq, err)
		}
		if got.Invocation.ID != inv.ID || got.Completion.ID != rec.Completion.ID {
			e.poisoned = fault.New(fault.CodeNonDeterministic, "replay diverged from journal").
				With("seq", strconv.FormatInt(inv.Seq, 10)).
				With("journaled_case", rec.Completion.OutputCase).
				With("replayed_case", got.Completion.OutputCase)
			return 0, e.poisoned
		}
		e.lastAt = inv.At
	}

	e.restored = true
	if len(records) > 0 {
		e.logger.InfoContext(ctx, "journal restored",
			"records", len(records),
			"last_seq", e.seq.Current())
	}
	return len(records), nil
}

// Submit queues req for the Run loop and returns the channel its result is
// delivered on. Returns false if the engine has been stopped.
func (e *Engine) Submit(req Request) (<-chan Result, bool) {
	reply := make(chan Result, 1)
	if !e.queue.Enqueue(pending{req: req, reply: reply}) {
		return nil, false
	}
	return reply, true
}

// Run processes submitted requests in FIFO order until ctx is cancelled or
// Stop is called. Must be called from exactly one goroutine.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "engine starting")

	for {
		if p, ok := e.queue.TryDequeue(); ok {
			comp, err := e.Execute(ctx, p.req)
			p.reply <- Result{Completion: comp, Err: err}
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			e.failPending(ctx.Err())
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel closes when the queue is closed.
			if e.queue.Len() == 0 && e.queueClosed() {
				e.logger.InfoContext(ctx, "engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run finishes the requests already queued and
// returns.
func (e *Engine) Stop() {
	e.queue.Close()
}

func (e *Engine) queueClosed() bool {
	e.queue.mu.Lock()
	defer e.queue.mu.Unlock()
	return e.queue.closed
}

func (e *Engine) failPending(err error) {
	for _, p := range e.queue.Drain() {
		p.reply <- Result{Err: err}
	}
}
