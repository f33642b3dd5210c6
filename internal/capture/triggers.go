package capture

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/tview/internal/store"
)

// TriggerNames returns the trigger names installed on table.
func TriggerNames(table string) []string {
	return []string{
		"tview_" + table + "_ins",
		"tview_" + table + "_upd",
		"tview_" + table + "_del",
	}
}

// triggerDDL renders the capture triggers for table. table and key are
// validated identifiers; they are still quoted.
func triggerDDL(table, key string) []string {
	names := TriggerNames(table)
	t, k := quote(table), quote(key)
	lit := "'" + table + "'"
	return []string{
		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s AFTER INSERT ON %s BEGIN
	SELECT %s(%s, NEW.%s) WHERE NEW.%s IS NOT NULL;
END`, quote(names[0]), t, FuncName, lit, k, k),
		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s AFTER UPDATE ON %s BEGIN
	SELECT %s(%s, NEW.%s) WHERE NEW.%s IS NOT NULL;
	SELECT %s(%s, OLD.%s) WHERE OLD.%s IS NOT NULL AND OLD.%s IS NOT NEW.%s;
END`, quote(names[1]), t, FuncName, lit, k, k, FuncName, lit, k, k, k, k),
		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s AFTER DELETE ON %s BEGIN
	SELECT %s(%s, OLD.%s) WHERE OLD.%s IS NOT NULL;
END`, quote(names[2]), t, FuncName, lit, k, k),
	}
}

// InstallTriggers creates the capture triggers on table. Existing triggers
// are left in place.
func InstallTriggers(ctx context.Context, q store.DBTX, table, key string) error {
	for _, ddl := range triggerDDL(table, key) {
		if _, err := q.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("install capture triggers on %s: %w", table, err)
		}
	}
	return nil
}

// RemoveTriggers drops the capture triggers of table.
func RemoveTriggers(ctx context.Context, q store.DBTX, table string) error {
	for _, name := range TriggerNames(table) {
		if _, err := q.ExecContext(ctx, "DROP TRIGGER IF EXISTS "+quote(name)); err != nil {
			return fmt.Errorf("remove capture triggers on %s: %w", table, err)
		}
	}
	return nil
}

// CountTriggers returns how many of the capture triggers of table exist.
func CountTriggers(ctx context.Context, q store.DBTX, table string) (int, error) {
	names := TriggerNames(table)
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sqlite_master
		WHERE type = 'trigger' AND tbl_name = ? AND name IN (?, ?, ?)
	`, table, names[0], names[1], names[2]).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count capture triggers on %s: %w", table, err)
	}
	return n, nil
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
