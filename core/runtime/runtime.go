package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"salechain/core/events"
	"salechain/core/state"
	"salechain/core/types"
	"salechain/crypto"
	"salechain/observability"
)

// MaxInvokeDepth bounds nested cross-program invocations.
const MaxInvokeDepth = 4

// Program is native code addressed by a fixed ID.
type Program interface {
	ID() crypto.Address
	Process(ctx *InvokeContext, ix types.Instruction) error
}

// Receipt summarises the execution of a transaction.
type Receipt struct {
	TxHash  [32]byte       `json:"-"`
	Hash    string         `json:"hash"`
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Logs    []string       `json:"logs"`
	Events  []*types.Event `json:"events"`
	Err     error          `json:"-"`
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger used for execution diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithEmitter sets the sink for committed events.
func WithEmitter(emitter events.Emitter) Option {
	return func(r *Runtime) {
		if emitter != nil {
			r.emitter = emitter
		}
	}
}

// WithRent overrides the rent schedule.
func WithRent(rent Rent) Option {
	return func(r *Runtime) { r.rent = rent }
}

// Runtime executes transactions against committed state. Transactions are
// processed one at a time; each either commits in full or leaves no trace.
type Runtime struct {
	mu       sync.Mutex
	state    *state.Manager
	programs map[crypto.Address]Program
	rent     Rent
	emitter  events.Emitter
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New builds a runtime over the provided state.
func New(st *state.Manager, opts ...Option) *Runtime {
	rt := &Runtime{
		state:    st,
		programs: make(map[crypto.Address]Program),
		rent:     DefaultRent(),
		emitter:  events.NoopEmitter{},
		logger:   slog.Default(),
		tracer:   otel.Tracer("salechain/runtime"),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Register adds a program. IDs must be unique.
func (r *Runtime) Register(programs ...Program) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range programs {
		if _, exists := r.programs[p.ID()]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateProgram, p.ID())
		}
		r.programs[p.ID()] = p
	}
	return nil
}

// Rent returns the rent schedule in force.
func (r *Runtime) Rent() Rent { return r.rent }

// State exposes committed state for read-only queries.
func (r *Runtime) State() *state.Manager { return r.state }

func (r *Runtime) program(id crypto.Address) (Program, bool) {
	p, ok := r.programs[id]
	return p, ok
}

// Process executes and commits a transaction. The returned receipt is never
// nil; err is non-nil exactly when the transaction was rejected.
func (r *Runtime) Process(ctx context.Context, tx *types.Transaction) (*Receipt, error) {
	return r.execute(ctx, tx, true)
}

// Simulate executes a transaction and discards the result.
func (r *Runtime) Simulate(ctx context.Context, tx *types.Transaction) (*Receipt, error) {
	return r.execute(ctx, tx, false)
}

type execution struct {
	rt      *Runtime
	overlay *state.Overlay
	logs    []string
	events  []*types.Event
}

func (r *Runtime) execute(ctx context.Context, tx *types.Transaction, commit bool) (*Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mode := "simulate"
	if commit {
		mode = "process"
	}
	start := time.Now()
	receipt := &Receipt{Logs: []string{}, Events: []*types.Event{}}

	ctx, span := r.tracer.Start(ctx, "runtime."+mode)
	defer span.End()

	fail := func(err error) (*Receipt, error) {
		receipt.Err = err
		receipt.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.Runtime().ObserveTransaction(mode, false, time.Since(start))
		r.logger.Debug("transaction rejected", "mode", mode, "hash", receipt.Hash, "error", err)
		return receipt, err
	}

	if tx == nil {
		return fail(types.ErrNoInstructions)
	}
	hash, err := tx.Hash()
	if err != nil {
		return fail(err)
	}
	receipt.TxHash = hash
	receipt.Hash = events.FormatHash(hash)
	span.SetAttributes(
		attribute.String("tx.hash", receipt.Hash),
		attribute.Int("tx.instructions", len(tx.Message.Instructions)),
	)

	if err := tx.VerifySignatures(); err != nil {
		return fail(fmt.Errorf("%w: %v", ErrMissingSignature, err))
	}

	exec := &execution{rt: r, overlay: r.state.NewOverlay()}
	defer exec.overlay.Discard()

	seen, err := exec.overlay.HasTransaction(hash)
	if err != nil {
		return fail(err)
	}
	if seen {
		return fail(ErrReplay)
	}

	for i, ix := range tx.Message.Instructions {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		if err := exec.top(ctx, tx, i, ix); err != nil {
			receipt.Logs = exec.logs
			return fail(&InstructionError{Index: i, Program: ix.ProgramID, Err: err})
		}
	}

	receipt.Logs = exec.logs
	receipt.Events = exec.events
	receipt.Success = true

	if commit {
		exec.overlay.MarkTransaction(hash)
		if err := exec.overlay.Commit(); err != nil {
			receipt.Success = false
			return fail(fmt.Errorf("commit: %w", err))
		}
		for idx, evt := range exec.events {
			r.emitter.Emit(events.Envelope{TxHash: hash, Index: idx, Payload: evt})
		}
		r.logger.Info("transaction committed", "hash", receipt.Hash, "instructions", len(tx.Message.Instructions), "events", len(exec.events))
	}
	observability.Runtime().ObserveTransaction(mode, true, time.Since(start))
	return receipt, nil
}

// top runs a top-level instruction with the privileges the transaction grants.
func (e *execution) top(ctx context.Context, tx *types.Transaction, index int, ix types.Instruction) error {
	program, ok := e.rt.program(ix.ProgramID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProgram, ix.ProgramID)
	}
	granted := make(map[crypto.Address]types.AccountMeta, len(ix.Accounts))
	for _, meta := range ix.Accounts {
		if meta.Signer && !tx.Message.IsSigner(meta.Address) {
			return fmt.Errorf("%w: %s", ErrMissingSignature, meta.Address)
		}
		merged := granted[meta.Address]
		merged.Address = meta.Address
		merged.Signer = merged.Signer || meta.Signer
		merged.Writable = merged.Writable || meta.Writable
		granted[meta.Address] = merged
	}
	frame := &InvokeContext{
		ctx:      ctx,
		exec:     e,
		program:  ix.ProgramID,
		accounts: granted,
	}
	return e.run(frame, program, ix)
}

// run executes one instruction frame and checks that it neither created nor
// destroyed lamports across the accounts it was given.
func (e *execution) run(frame *InvokeContext, program Program, ix types.Instruction) error {
	before, err := e.lamportSum(frame.accounts)
	if err != nil {
		return err
	}
	e.logs = append(e.logs, fmt.Sprintf("program %s invoke [%d]", frame.program, frame.depth+1))
	err = program.Process(frame, ix)
	if err == nil {
		var after *uint256.Int
		after, err = e.lamportSum(frame.accounts)
		if err == nil && !before.Eq(after) {
			err = fmt.Errorf("%w: before %s after %s", ErrLamportsNotConserved, before, after)
		}
	}
	observability.Runtime().ObserveInstruction(frame.program.String(), err == nil)
	if err != nil {
		e.logs = append(e.logs, fmt.Sprintf("program %s failed: %v", frame.program, err))
		return err
	}
	e.logs = append(e.logs, fmt.Sprintf("program %s success", frame.program))
	return nil
}

func (e *execution) lamportSum(accounts map[crypto.Address]types.AccountMeta) (*uint256.Int, error) {
	total := new(uint256.Int)
	for addr := range accounts {
		acc, err := e.overlay.Account(addr)
		if err != nil {
			return nil, err
		}
		total.Add(total, uint256.NewInt(acc.Lamports))
	}
	return total, nil
}
