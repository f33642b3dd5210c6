package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/roach88/tview/internal/capture"
	"github.com/roach88/tview/internal/catalog"
	"github.com/roach88/tview/internal/graph"
	"github.com/roach88/tview/internal/metrics"
	"github.com/roach88/tview/internal/queue"
	"github.com/roach88/tview/internal/refresh"
	"github.com/roach88/tview/internal/store"
)

// RegisterEntity validates ent, adds it to the graph, stores its metadata,
// installs capture triggers on its source table and its lineage tables and
// materializes its documents, all in one transaction.
func (e *Engine) RegisterEntity(ctx context.Context, ent *catalog.Entity) (metrics.TxStats, error) {
	if err := ent.Validate(); err != nil {
		return metrics.TxStats{}, classify(err)
	}
	if _, ok := e.graph.Entity(ent.Name); ok {
		return metrics.TxStats{}, &RuntimeError{Code: ErrCodeAlreadyExists, Message: "entity already registered", Entity: ent.Name}
	}
	if err := e.graph.Check(ent); err != nil {
		return metrics.TxStats{}, classify(err)
	}
	if ent.CreatedAt.IsZero() {
		ent.CreatedAt = e.clock.Now()
	}

	tx, err := e.Begin(ctx)
	if err != nil {
		return metrics.TxStats{}, err
	}
	defer tx.Rollback()

	if ent.Source != "" && ent.KeyColumn == "" {
		key, err := e.keys.KeyColumn(ctx, tx.sqlTx, ent.Source)
		if err != nil {
			return metrics.TxStats{}, &RuntimeError{Code: ErrCodeInvalidName, Message: "cannot resolve source key column",
				Entity: ent.Name, Err: err, Details: map[string]string{"source": ent.Source}}
		}
		ent.KeyColumn = key
	}
	if err := e.store.SaveEntity(ctx, tx.sqlTx, ent); err != nil {
		return metrics.TxStats{}, classify(err)
	}
	if ent.Source != "" {
		if err := capture.InstallTriggers(ctx, tx.sqlTx, ent.Source, ent.KeyColumn); err != nil {
			return metrics.TxStats{}, classify(err)
		}
	}
	tables := e.lineageTables(ent)
	for _, table := range tables {
		key, err := e.keys.KeyColumn(ctx, tx.sqlTx, table)
		if err != nil {
			return metrics.TxStats{}, &RuntimeError{Code: ErrCodeInvalidLineage, Message: "cannot resolve lineage table key column",
				Entity: ent.Name, Err: err, Details: map[string]string{"table": table}}
		}
		if err := capture.InstallTriggers(ctx, tx.sqlTx, table, key); err != nil {
			return metrics.TxStats{}, classify(err)
		}
	}
	if err := e.audit(ctx, tx, store.AuditCreate, ent.Name, map[string]any{
		"source":         ent.Source,
		"key":            ent.KeyColumn,
		"dependencies":   ent.Dependencies,
		"lineage":        len(ent.Lineage),
		"lineage_tables": tables,
	}); err != nil {
		return metrics.TxStats{}, err
	}

	if err := e.graph.Register(ent); err != nil {
		return metrics.TxStats{}, classify(err)
	}
	keys, err := e.entityKeys(ctx, tx.sqlTx, ent)
	if err == nil {
		err = e.enqueuePKs(tx, ent.Name, keys)
	}
	if err == nil {
		err = tx.Commit(ctx)
	}
	if err != nil {
		if dropErr := e.graph.Drop(ent.Name); dropErr != nil {
			e.logger.Error("graph rollback failed", "entity", ent.Name, "error", dropErr)
		}
		return metrics.TxStats{}, classify(err)
	}

	e.logger.Info("entity registered",
		"entity", ent.Name,
		"source", ent.Source,
		"level", e.graph.Level(ent.Name),
		"documents", len(keys))
	return tx.Stats(), nil
}

// DropEntity removes an entity, its documents, and the capture triggers of
// its source and lineage tables once no other entity reads them. Entities that
// depend on it must be dropped first.
func (e *Engine) DropEntity(ctx context.Context, name string) error {
	ent, ok := e.graph.Entity(name)
	if !ok {
		return &RuntimeError{Code: ErrCodeMetadataNotFound, Message: "entity not registered", Entity: name}
	}
	if err := e.graph.Drop(name); err != nil {
		return classify(err)
	}
	err := e.dropStored(ctx, ent)
	if err != nil {
		if regErr := e.graph.Register(ent); regErr != nil {
			e.logger.Error("graph restore failed", "entity", name, "error", regErr)
		}
		return err
	}
	e.computers.Remove(name)
	if ent.Source != "" {
		e.keys.Forget(ent.Source)
	}
	for _, table := range e.lineageTables(ent) {
		e.keys.Forget(table)
	}
	e.logger.Info("entity dropped", "entity", name)
	return nil
}

func (e *Engine) dropStored(ctx context.Context, ent *catalog.Entity) error {
	tx, err := e.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.store.DeleteEntity(ctx, tx.sqlTx, ent.Name); err != nil {
		return classify(err)
	}
	removed := []string{}
	if ent.Source != "" {
		users, err := e.store.TableUsers(ctx, tx.sqlTx, ent.Source, ent.Name)
		if err != nil {
			return classify(err)
		}
		if users == 0 && !e.graph.UsesTable(ent.Source) {
			removed = append(removed, ent.Source)
		}
	}
	for _, table := range e.lineageTables(ent) {
		if table != ent.Source && !e.graph.UsesTable(table) {
			removed = append(removed, table)
		}
	}
	for _, table := range removed {
		if err := capture.RemoveTriggers(ctx, tx.sqlTx, table); err != nil {
			return classify(err)
		}
	}
	if err := e.audit(ctx, tx, store.AuditDrop, ent.Name, map[string]any{
		"source":           ent.Source,
		"triggers_removed": removed,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RefreshEntity rebuilds every document of name: stored keys and keys the
// entity currently contains are all refreshed, and changes cascade to
// dependents as for a source write.
func (e *Engine) RefreshEntity(ctx context.Context, name string) (metrics.TxStats, error) {
	ent, ok := e.graph.Entity(name)
	if !ok {
		return metrics.TxStats{}, &RuntimeError{Code: ErrCodeMetadataNotFound, Message: "entity not registered", Entity: name}
	}
	tx, err := e.Begin(ctx)
	if err != nil {
		return metrics.TxStats{}, err
	}
	defer tx.Rollback()

	current, err := e.entityKeys(ctx, tx.sqlTx, ent)
	if err != nil {
		return metrics.TxStats{}, classify(err)
	}
	stored, err := e.store.DocumentPKs(ctx, tx.sqlTx, name)
	if err != nil {
		return metrics.TxStats{}, classify(err)
	}
	keys := append(current, stored...)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	if err := e.enqueuePKs(tx, name, keys); err != nil {
		return metrics.TxStats{}, err
	}
	if err := e.audit(ctx, tx, store.AuditRefresh, name, map[string]any{"keys": len(keys)}); err != nil {
		return metrics.TxStats{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return metrics.TxStats{}, err
	}
	e.logger.Info("entity refreshed", "entity", name, "keys", len(keys))
	return tx.Stats(), nil
}

// entityKeys lists the keys ent currently contains, through its Computer
// when it can enumerate, otherwise from the source table.
func (e *Engine) entityKeys(ctx context.Context, q store.DBTX, ent *catalog.Entity) ([]int64, error) {
	if en, ok := e.computers.Get(ent.Name).(refresh.Enumerator); ok {
		return en.Keys(ctx, q, ent)
	}
	if ent.Source == "" {
		return nil, nil
	}
	rows, err := q.QueryContext(ctx,
		fmt.Sprintf(`SELECT "%s" FROM "%s"`, ent.KeyColumn, ent.Source))
	if err != nil {
		return nil, fmt.Errorf("list keys of %s: %w", ent.Source, err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var pk int64
		if err := rows.Scan(&pk); err != nil {
			return nil, fmt.Errorf("list keys of %s: %w", ent.Source, err)
		}
		out = append(out, pk)
	}
	return out, rows.Err()
}

// lineageTables returns the lineage children of ent that are plain tables
// rather than registered entities.
func (e *Engine) lineageTables(ent *catalog.Entity) []string {
	var out []string
	for _, l := range ent.Lineage {
		if _, ok := e.graph.Entity(l.Child); ok || slices.Contains(out, l.Child) {
			continue
		}
		out = append(out, l.Child)
	}
	return out
}

func (e *Engine) enqueuePKs(tx *Tx, entity string, pks []int64) error {
	for _, pk := range pks {
		if err := tx.Enqueue(queue.RefreshKey{Entity: entity, PK: pk}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) audit(ctx context.Context, tx *Tx, op, entity string, details map[string]any) error {
	data, err := json.Marshal(details)
	if err != nil {
		return classify(fmt.Errorf("encode audit details: %w", err))
	}
	err = e.store.AppendAudit(ctx, tx.sqlTx, store.AuditEntry{
		ID:        e.ids.Generate(),
		At:        e.clock.Now(),
		Operation: op,
		Entity:    entity,
		Details:   data,
	})
	return classify(err)
}

// Audit returns audit entries, optionally for one entity.
func (e *Engine) Audit(ctx context.Context, entity string, limit int) ([]store.AuditEntry, error) {
	entries, err := e.store.ListAudit(ctx, e.store.DB(), entity, limit)
	return entries, classify(err)
}

// Health is the result of HealthCheck.
type Health struct {
	Status           string           `json:"status"`
	Entities         int              `json:"entities"`
	Depth            int              `json:"depth"`
	Tables           []string         `json:"tables"`
	Documents        map[string]int64 `json:"documents"`
	PendingSnapshots int              `json:"pending_snapshots"`
	InDoubt          int              `json:"in_doubt"`
	Orphans          int              `json:"orphans"`
	Cache            graph.CacheStats `json:"cache"`
	KeyColumnsCached int              `json:"key_columns_cached"`
	BoundConnections int              `json:"bound_connections"`
	Issues           []string         `json:"issues,omitempty"`
}

// Health statuses.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// HealthCheck verifies that stored metadata and the in-memory graph agree,
// that every source table carries its capture triggers, and reports cache
// and prepared-transaction state.
func (e *Engine) HealthCheck(ctx context.Context) (Health, error) {
	db := e.store.DB()
	h := Health{
		Status:           StatusOK,
		Entities:         e.graph.Len(),
		Depth:            e.graph.Depth(),
		Tables:           e.graph.Tables(),
		Cache:            e.graph.CacheStats(),
		KeyColumnsCached: e.keys.Cached(),
		BoundConnections: e.conns.Len(),
	}

	stored, err := e.store.LoadEntities(ctx, db)
	if err != nil {
		return h, classify(err)
	}
	names := make(map[string]bool, len(stored))
	for _, ent := range stored {
		names[ent.Name] = true
		if _, ok := e.graph.Entity(ent.Name); !ok {
			h.Issues = append(h.Issues, fmt.Sprintf("entity %s stored but not loaded", ent.Name))
		}
	}
	for _, ent := range e.graph.Entities() {
		if !names[ent.Name] {
			h.Issues = append(h.Issues, fmt.Sprintf("entity %s loaded but not stored", ent.Name))
		}
	}
	for _, table := range h.Tables {
		n, err := capture.CountTriggers(ctx, db, table)
		if err != nil {
			return h, classify(err)
		}
		if n != len(capture.TriggerNames(table)) {
			h.Issues = append(h.Issues, fmt.Sprintf("table %s has %d of 3 capture triggers", table, n))
		}
	}

	if h.Documents, err = e.store.CountDocuments(ctx, db); err != nil {
		return h, classify(err)
	}
	pending, err := e.store.ListPending(ctx, db)
	if err != nil {
		return h, classify(err)
	}
	h.PendingSnapshots = len(pending)
	inDoubt, err := e.store.InDoubt(ctx, db)
	if err != nil {
		return h, classify(err)
	}
	h.InDoubt = len(inDoubt)
	orphans, err := e.RecoverPrepared(ctx)
	if err != nil {
		return h, err
	}
	h.Orphans = len(orphans)
	if h.Orphans > 0 {
		h.Issues = append(h.Issues, fmt.Sprintf("%d orphaned prepared snapshots", h.Orphans))
	}

	if len(h.Issues) > 0 {
		h.Status = StatusDegraded
	}
	return h, nil
}

// QueueStats summarizes the pending set of tx.
func (e *Engine) QueueStats(tx *Tx) queue.Stats {
	return tx.queue.Stats()
}

// DebugQueue lists the pending keys of tx.
func (e *Engine) DebugQueue(tx *Tx) []string {
	return tx.queue.Debug()
}
