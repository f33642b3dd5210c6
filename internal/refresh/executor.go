package refresh

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/tview/internal/catalog"
	"github.com/roach88/tview/internal/metrics"
	"github.com/roach88/tview/internal/patch"
	"github.com/roach88/tview/internal/queue"
	"github.com/roach88/tview/internal/store"
)

// DefaultMaxBatchSize is the largest key set one RefreshBatch accepts.
const DefaultMaxBatchSize = 1000

// Mode labels how a key was refreshed.
const (
	ModeIndividual = "individual"
	ModeBatch      = "batch"
)

// Action is what a refresh did to the stored document.
type Action string

const (
	ActionUnchanged Action = "unchanged"
	ActionPatched   Action = "patched"
	ActionReplaced  Action = "replaced"
	ActionInserted  Action = "inserted"
	ActionDeleted   Action = "deleted"
	// ActionAbsent means the key has neither a stored nor a computed document.
	ActionAbsent Action = "absent"
)

// Wrote reports whether the action changed stored state.
func (a Action) Wrote() bool {
	return a != ActionUnchanged && a != ActionAbsent
}

// Result describes one refreshed key. Old and New are the decoded stored
// and computed documents, nil when absent.
type Result struct {
	Key    queue.RefreshKey `json:"key"`
	Action Action           `json:"action"`
	Mode   string           `json:"mode"`
	Old    any              `json:"-"`
	New    any              `json:"-"`
	// Paths lists the patched paths of ActionPatched.
	Paths string `json:"paths,omitempty"`
}

// EntitySource looks up registered entities.
type EntitySource interface {
	Entity(name string) (*catalog.Entity, bool)
}

// Executor refreshes derived documents.
type Executor struct {
	store     *store.Store
	entities  EntitySource
	computers *Registry

	maxPatchOps  int
	maxBatchSize int
	clock        func() time.Time
	recorder     metrics.Recorder
	logger       *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithMaxPatchOps bounds the op count of a partial update.
func WithMaxPatchOps(n int) Option {
	return func(x *Executor) { x.maxPatchOps = n }
}

// WithMaxBatchSize bounds the key count of RefreshBatch.
func WithMaxBatchSize(n int) Option {
	return func(x *Executor) { x.maxBatchSize = n }
}

// WithClock sets the time source for updated_at.
func WithClock(now func() time.Time) Option {
	return func(x *Executor) { x.clock = now }
}

// WithRecorder exports refresh counts.
func WithRecorder(r metrics.Recorder) Option {
	return func(x *Executor) { x.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(x *Executor) { x.logger = l }
}

// NewExecutor creates an executor writing through s.
func NewExecutor(s *store.Store, entities EntitySource, computers *Registry, opts ...Option) *Executor {
	x := &Executor{
		store:        s,
		entities:     entities,
		computers:    computers,
		maxPatchOps:  patch.DefaultMaxOps,
		maxBatchSize: DefaultMaxBatchSize,
		clock:        time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// MaxBatchSize returns the batch size limit.
func (x *Executor) MaxBatchSize() int { return x.maxBatchSize }

// computed is a decoded document with its canonical encoding and hash.
type computed struct {
	value any
	data  []byte
	hash  string
}

func (x *Executor) compute(ctx context.Context, q store.DBTX, e *catalog.Entity, pks []int64) (map[int64]computed, error) {
	raw, err := x.computers.Get(e.Name).Compute(ctx, q, e, pks)
	if err != nil {
		return nil, &Error{Entity: e.Name, Reason: "compute failed", Err: err}
	}
	wanted := make(map[int64]bool, len(pks))
	for _, pk := range pks {
		wanted[pk] = true
	}
	out := make(map[int64]computed, len(raw))
	for pk, doc := range raw {
		if !wanted[pk] {
			continue
		}
		v, err := patch.Decode(doc)
		if err != nil {
			return nil, &Error{Entity: e.Name, PK: pk, Reason: "invalid document", Err: err}
		}
		data, err := patch.Canonical(v)
		if err != nil {
			return nil, &Error{Entity: e.Name, PK: pk, Reason: "invalid document", Err: err}
		}
		hash, err := patch.Hash(v)
		if err != nil {
			return nil, &Error{Entity: e.Name, PK: pk, Reason: "invalid document", Err: err}
		}
		out[pk] = computed{value: v, data: data, hash: hash}
	}
	return out, nil
}

func (x *Executor) entity(name string) (*catalog.Entity, error) {
	e, ok := x.entities.Entity(name)
	if !ok {
		return nil, &Error{Entity: name, Reason: "lookup failed", Err: ErrUnknownEntity}
	}
	return e, nil
}

// RefreshOne recomputes key and writes the result.
func (x *Executor) RefreshOne(ctx context.Context, q store.DBTX, key queue.RefreshKey) (Result, error) {
	res := Result{Key: key, Mode: ModeIndividual}
	e, err := x.entity(key.Entity)
	if err != nil {
		return res, err
	}

	docs, err := x.compute(ctx, q, e, []int64{key.PK})
	if err != nil {
		return res, err
	}
	stored, exists, err := x.store.GetDocument(ctx, q, e.Name, key.PK)
	if err != nil {
		return res, &Error{Entity: e.Name, PK: key.PK, Reason: "read failed", Err: err}
	}
	if exists {
		if res.Old, err = patch.Decode(stored.Data); err != nil {
			return res, &Error{Entity: e.Name, PK: key.PK, Reason: "stored document unreadable", Err: err}
		}
	}

	next, matches := docs[key.PK]
	now := x.clock().UTC()
	doc := store.Document{Entity: e.Name, PK: key.PK, Data: next.data, Hash: next.hash, UpdatedAt: now}

	switch {
	case !matches && !exists:
		res.Action = ActionAbsent

	case !matches:
		if _, err := x.store.DeleteDocuments(ctx, q, e.Name, []int64{key.PK}); err != nil {
			return res, &Error{Entity: e.Name, PK: key.PK, Reason: "delete failed", Err: err}
		}
		res.Action = ActionDeleted

	case !exists:
		res.New = next.value
		if err := x.store.InsertDocument(ctx, q, doc); err != nil {
			return res, &Error{Entity: e.Name, PK: key.PK, Reason: "insert failed", Err: err}
		}
		res.Action = ActionInserted

	case stored.Hash == next.hash:
		res.New = next.value
		res.Action = ActionUnchanged

	default:
		res.New = next.value
		plan := patch.NewPlan(res.Old, next.value, e.Patches, x.maxPatchOps)
		if res.Action, err = x.write(ctx, q, doc, stored.Version, plan); err != nil {
			return res, err
		}
		if res.Action == ActionPatched {
			res.Paths = plan.Paths()
		}
	}

	x.recorder.Refresh(ModeIndividual, string(res.Action))
	x.logger.Debug("refreshed document",
		"entity", key.Entity,
		"pk", key.PK,
		"action", res.Action,
		"paths", res.Paths)
	return res, nil
}

// write stores a changed document as a patch or a replacement.
func (x *Executor) write(ctx context.Context, q store.DBTX, doc store.Document, version int64, plan patch.Plan) (Action, error) {
	if plan.Unchanged() {
		// Equal documents under a stale hash: rewrite to settle the hash.
		plan = patch.Plan{Full: true, Reason: "hash mismatch"}
	}
	if !plan.Full {
		expr, args, err := plan.SQLite("data")
		if err == nil {
			if err := x.store.PatchDocument(ctx, q, doc, expr, args, version); err != nil {
				return "", &Error{Entity: doc.Entity, PK: doc.PK, Reason: "patch failed", Err: err}
			}
			return ActionPatched, nil
		}
		plan.Reason = err.Error()
	}
	x.logger.Debug("replacing document",
		"entity", doc.Entity,
		"pk", doc.PK,
		"reason", plan.Reason)
	if err := x.store.ReplaceDocument(ctx, q, doc, version); err != nil {
		return "", &Error{Entity: doc.Entity, PK: doc.PK, Reason: "replace failed", Err: err}
	}
	return ActionReplaced, nil
}

// RefreshBatch recomputes pks of entity with one compute, one read and
// one write per kind. Results are ordered by pk.
func (x *Executor) RefreshBatch(ctx context.Context, q store.DBTX, entity string, pks []int64) ([]Result, error) {
	if len(pks) > x.maxBatchSize {
		return nil, &BatchTooLargeError{Entity: entity, Size: len(pks), Max: x.maxBatchSize}
	}
	e, err := x.entity(entity)
	if err != nil {
		return nil, err
	}
	pks = slices.Clone(pks)
	slices.Sort(pks)
	pks = slices.Compact(pks)

	docs, err := x.compute(ctx, q, e, pks)
	if err != nil {
		return nil, err
	}
	stored, err := x.store.GetDocuments(ctx, q, e.Name, pks)
	if err != nil {
		return nil, &Error{Entity: e.Name, Reason: "read failed", Err: err}
	}

	now := x.clock().UTC()
	results := make([]Result, 0, len(pks))
	var upserts []store.Document
	var deletes []int64
	for _, pk := range pks {
		res := Result{Key: queue.RefreshKey{Entity: e.Name, PK: pk}, Mode: ModeBatch}
		old, exists := stored[pk]
		if exists {
			if res.Old, err = patch.Decode(old.Data); err != nil {
				return nil, &Error{Entity: e.Name, PK: pk, Reason: "stored document unreadable", Err: err}
			}
		}
		next, matches := docs[pk]
		if matches {
			res.New = next.value
		}

		switch {
		case !matches && !exists:
			res.Action = ActionAbsent
		case !matches:
			res.Action = ActionDeleted
			deletes = append(deletes, pk)
		case exists && old.Hash == next.hash:
			res.Action = ActionUnchanged
		default:
			res.Action = ActionReplaced
			if !exists {
				res.Action = ActionInserted
			}
			upserts = append(upserts, store.Document{
				Entity: e.Name, PK: pk, Data: next.data, Hash: next.hash, UpdatedAt: now,
			})
		}
		results = append(results, res)
	}

	if len(upserts) > 0 {
		if err := x.store.UpsertDocuments(ctx, q, upserts); err != nil {
			return nil, &Error{Entity: e.Name, Reason: "batch upsert failed", Err: err}
		}
	}
	if len(deletes) > 0 {
		if _, err := x.store.DeleteDocuments(ctx, q, e.Name, deletes); err != nil {
			return nil, &Error{Entity: e.Name, Reason: "batch delete failed", Err: err}
		}
	}

	for _, res := range results {
		x.recorder.Refresh(ModeBatch, string(res.Action))
	}
	x.logger.Debug("refreshed batch",
		"entity", e.Name,
		"keys", len(pks),
		"written", len(upserts),
		"deleted", len(deletes))
	return results, nil
}
