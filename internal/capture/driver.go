package capture

import (
	"database/sql"
	"sync"

	"github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the database/sql driver that carries the capture hook.
	DriverName = "sqlite3_tview"

	// FuncName is the SQL function called by capture triggers.
	FuncName = "tview_capture"
)

var registerOnce sync.Once

// RegisterDriver registers DriverName once per process and returns it.
// Connections opened through it route tview_capture calls via Connections.
func RegisterDriver() string {
	registerOnce.Do(func() {
		sql.Register(DriverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				return conn.RegisterFunc(FuncName, func(table string, pk int64) (int64, error) {
					if err := Connections.dispatch(conn, table, pk); err != nil {
						return 0, err
					}
					return 1, nil
				}, false)
			},
		})
	})
	return DriverName
}
