package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/roach88/tview/internal/compiler"
	"github.com/roach88/tview/internal/engine"
	"github.com/roach88/tview/internal/patch"
	"github.com/roach88/tview/internal/refresh"
	"github.com/roach88/tview/internal/testutil"
)

var (
	errNoTx   = errors.New("no open transaction")
	errOpenTx = errors.New("a transaction is open")
)

// Harness executes one scenario against a real engine over a scratch
// database, with a fixed clock and id generator.
type Harness struct {
	path   string
	engine *engine.Engine
	tx     *engine.Tx
	clock  *testutil.Clock
	ids    *engine.FixedGenerator
	logger *slog.Logger

	// observed collects the refreshes of the running step.
	observed []Refreshed
}

// Run executes a test scenario and returns the result.
//
// Execution flow:
//  1. Create a fresh database in a temporary directory
//  2. Run the setup SQL
//  3. Compile the entity definitions and register them in order
//  4. Execute the steps, recording the refreshes each one causes
//  5. Collect the final documents and evaluate assertions
//
// The returned error covers failures of the scenario itself (bad setup,
// invalid definitions); step and assertion failures land in Result.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "tview-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(dir)

	h := &Harness{
		path:   filepath.Join(dir, "scenario.db"),
		clock:  testutil.NewClock(testutil.Epoch),
		ids:    engine.NewFixedGenerator("session"),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	if err := h.open(ctx); err != nil {
		return nil, err
	}
	defer h.close()

	if scenario.Setup != "" {
		if _, err := h.engine.Store().DB().ExecContext(ctx, scenario.Setup); err != nil {
			return nil, fmt.Errorf("failed to execute setup: %w", err)
		}
	}

	result := NewResult()
	if err := h.register(ctx, scenario, result); err != nil {
		return nil, err
	}

	for i, step := range scenario.Steps {
		ev, err := h.step(ctx, i+1, step)
		result.AddEvent(ev)
		switch {
		case step.ExpectError != "" && err == nil:
			result.AddError(fmt.Sprintf("step %d (%s): expected error %s, got none", ev.Step, ev.Op, step.ExpectError))
		case step.ExpectError != "" && ev.Error != step.ExpectError:
			result.AddError(fmt.Sprintf("step %d (%s): expected error %s, got %v", ev.Step, ev.Op, step.ExpectError, err))
		case step.ExpectError == "" && err != nil:
			result.AddError(fmt.Sprintf("step %d (%s): %v", ev.Step, ev.Op, err))
		}
	}
	if h.tx != nil {
		h.tx.Rollback()
		h.tx = nil
	}

	if err := h.collect(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}
	actx := &AssertionContext{Engine: h.engine, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) open(ctx context.Context) error {
	e, err := engine.Open(ctx, h.path,
		engine.WithClock(h.clock),
		engine.WithIDGenerator(h.ids),
		engine.WithLogger(h.logger),
		engine.WithObserver(h.observe),
	)
	if err != nil {
		return fmt.Errorf("failed to open engine: %w", err)
	}
	h.engine = e
	return nil
}

func (h *Harness) close() {
	if h.tx != nil {
		h.tx.Rollback()
		h.tx = nil
	}
	if h.engine != nil {
		h.engine.Close()
		h.engine = nil
	}
}

func (h *Harness) observe(r refresh.Result) {
	h.observed = append(h.observed, Refreshed{Key: r.Key.String(), Action: string(r.Action)})
}

func (h *Harness) known(name string) bool {
	_, ok := h.engine.Graph().Entity(name)
	return ok
}

// register compiles the scenario's definitions and registers them in
// dependency order, one trace event per entity.
func (h *Harness) register(ctx context.Context, scenario *Scenario, result *Result) error {
	var (
		loaded *compiler.LoadResult
		errs   []error
	)
	if scenario.Entities != "" {
		loaded, errs = compiler.LoadString(scenario.Name+".cue", scenario.Entities, h.known)
	} else {
		loaded, errs = compiler.LoadDir(scenario.EntitiesDir, h.known)
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to load entities: %w", errors.Join(errs...))
	}
	for _, ent := range loaded.Entities {
		h.observed = nil
		if _, err := h.engine.RegisterEntity(ctx, ent); err != nil {
			return fmt.Errorf("failed to register %s: %w", ent.Name, err)
		}
		result.AddEvent(TraceEvent{Op: "register", Arg: ent.Name, Refreshed: h.observed})
	}
	return nil
}

// step runs one step. The event's Error holds the runtime error code, or
// the message of errors without one.
func (h *Harness) step(ctx context.Context, n int, s Step) (TraceEvent, error) {
	op, arg, _ := s.Op()
	ev := TraceEvent{Step: n, Op: op, Arg: arg}
	h.observed = nil
	err := h.do(ctx, op, arg)
	ev.Refreshed = h.observed
	if err != nil {
		if code := engine.CodeOf(err); code != "" {
			ev.Error = string(code)
		} else {
			ev.Error = err.Error()
		}
	}
	return ev, err
}

func (h *Harness) do(ctx context.Context, op, arg string) error {
	switch op {
	case OpExec:
		tx, err := h.begin(ctx)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, arg)
		return err

	case OpSavepoint:
		tx, err := h.begin(ctx)
		if err != nil {
			return err
		}
		return tx.Savepoint(ctx, arg)

	case OpCommit, OpRollback, OpPrepare, OpRollbackTo, OpRelease:
		if h.tx == nil {
			return errNoTx
		}
		switch op {
		case OpRollbackTo:
			return h.tx.RollbackTo(ctx, arg)
		case OpRelease:
			return h.tx.Release(ctx, arg)
		}
		tx := h.tx
		h.tx = nil
		switch op {
		case OpCommit:
			return tx.Commit(ctx)
		case OpRollback:
			return tx.Rollback()
		default:
			return tx.Prepare(ctx, arg)
		}
	}

	// The remaining operations take the connection themselves.
	if h.tx != nil {
		return errOpenTx
	}
	switch op {
	case OpCommitPrepared:
		_, err := h.engine.CommitPrepared(ctx, arg)
		return err
	case OpRollbackPrepared:
		return h.engine.RollbackPrepared(ctx, arg)
	case OpRefresh:
		_, err := h.engine.RefreshEntity(ctx, arg)
		return err
	case OpDrop:
		return h.engine.DropEntity(ctx, arg)
	case OpRestart:
		if err := h.engine.Close(); err != nil {
			return err
		}
		return h.open(ctx)
	}
	return fmt.Errorf("unknown operation %q", op)
}

func (h *Harness) begin(ctx context.Context) (*engine.Tx, error) {
	if h.tx != nil {
		return h.tx, nil
	}
	tx, err := h.engine.Begin(ctx)
	if err != nil {
		return nil, err
	}
	h.tx = tx
	return tx, nil
}

// collect reads every document of every registered entity.
func (h *Harness) collect(ctx context.Context, result *Result) error {
	st := h.engine.Store()
	for _, ent := range h.engine.Graph().Entities() {
		pks, err := st.DocumentPKs(ctx, st.DB(), ent.Name)
		if err != nil {
			return err
		}
		docs := make(map[string]any, len(pks))
		for _, pk := range pks {
			d, ok, err := st.GetDocument(ctx, st.DB(), ent.Name, pk)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			v, err := patch.Decode(d.Data)
			if err != nil {
				return fmt.Errorf("%s:%d: %w", ent.Name, pk, err)
			}
			docs[strconv.FormatInt(pk, 10)] = v
		}
		result.Documents[ent.Name] = docs
	}
	return nil
}
