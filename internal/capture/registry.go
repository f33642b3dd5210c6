package capture

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/puzpuzpuz/xsync/v3"
)

var (
	// ErrNoTransaction is returned by a capture on an unbound connection.
	ErrNoTransaction = errors.New("change captured outside a transaction")

	// ErrAlreadyBound is returned when a connection already has a sink.
	ErrAlreadyBound = errors.New("connection already bound to a transaction")
)

// Sink receives captured row changes.
type Sink interface {
	Capture(table string, pk int64) error
}

// Connections is the registry consulted by the capture driver.
var Connections = NewRegistry()

// Registry maps live driver connections to the sink of the transaction
// currently running on them.
type Registry struct {
	conns *xsync.MapOf[*sqlite3.SQLiteConn, Sink]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: xsync.NewMapOf[*sqlite3.SQLiteConn, Sink]()}
}

// Bind attaches s to the driver connection under c until the returned
// release func is called. c must stay pinned for that whole time.
func (r *Registry) Bind(ctx context.Context, c *sql.Conn, s Sink) (release func(), err error) {
	var sc *sqlite3.SQLiteConn
	err = c.Raw(func(dc any) error {
		conn, ok := dc.(*sqlite3.SQLiteConn)
		if !ok {
			return fmt.Errorf("capture: driver connection is %T, not *sqlite3.SQLiteConn", dc)
		}
		// The pointer is only kept as an identity key while c is pinned.
		sc = conn
		return nil
	})
	if err != nil {
		return nil, err
	}
	if _, loaded := r.conns.LoadOrStore(sc, s); loaded {
		return nil, ErrAlreadyBound
	}
	return func() { r.conns.Delete(sc) }, nil
}

// Len returns the number of bound connections.
func (r *Registry) Len() int {
	return r.conns.Size()
}

func (r *Registry) dispatch(conn *sqlite3.SQLiteConn, table string, pk int64) error {
	s, ok := r.conns.Load(conn)
	if !ok {
		return fmt.Errorf("%w: %s:%d", ErrNoTransaction, table, pk)
	}
	return s.Capture(table, pk)
}
