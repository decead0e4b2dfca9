package tpchbench

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrUseAfterClose reports an operation on a connection that has already
	// been released. This is a programming-contract violation, not a runtime
	// condition to recover from.
	ErrUseAfterClose = errors.New("operation on a closed connection")
)

// Connection is a single live session to one replica. It is owned exclusively
// by the execution unit that opened it and is never shared across concurrent
// units; sharing would serialize otherwise-independent work and corrupt the
// timing the benchmark exists to measure.
type Connection struct {
	replica *Replica
	db      *sql.DB
	timeout time.Duration
}

// Connect opens a session to the replica. Unreachable replicas and rejected
// credentials are fatal to the owning execution unit; there is no retry.
func Connect(replica *Replica, timeout time.Duration) (*Connection, error) {
	db, err := sql.Open(replica.Driver, replica.DataSourceName())
	if err != nil {
		return nil, errors.Wrapf(err, "replica %d: open", replica.Id)
	}
	// One underlying session per handle. database/sql pools by default,
	// which would let statements of one stream interleave across sessions.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "replica %d: unreachable", replica.Id)
	}
	return &Connection{
		replica: replica,
		db:      db,
		timeout: timeout,
	}, nil
}

// Query executes a statement and drains its result set, so the recorded time
// covers delivery of every row.
func (self *Connection) Query(statement string) error {
	if self.db == nil {
		return errors.Wrapf(ErrUseAfterClose, "replica %d", self.replica.Id)
	}
	ctx, cancel := self.context()
	defer cancel()
	rows, err := self.db.QueryContext(ctx, statement)
	if err != nil {
		return errors.Wrapf(err, "replica %d", self.replica.Id)
	}
	defer rows.Close()
	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		return errors.Wrapf(err, "replica %d", self.replica.Id)
	}
	return nil
}

// Exec executes a statement that returns no rows.
func (self *Connection) Exec(statement string) error {
	if self.db == nil {
		return errors.Wrapf(ErrUseAfterClose, "replica %d", self.replica.Id)
	}
	ctx, cancel := self.context()
	defer cancel()
	if _, err := self.db.ExecContext(ctx, statement); err != nil {
		return errors.Wrapf(err, "replica %d", self.replica.Id)
	}
	return nil
}

// Close releases the session exactly once.
func (self *Connection) Close() error {
	if self.db == nil {
		return errors.Wrapf(ErrUseAfterClose, "replica %d", self.replica.Id)
	}
	err := self.db.Close()
	self.db = nil
	if err != nil {
		return errors.Wrapf(err, "replica %d: close", self.replica.Id)
	}
	return nil
}

func (self *Connection) context() (context.Context, context.CancelFunc) {
	if self.timeout > 0 {
		return context.WithTimeout(context.Background(), self.timeout)
	}
	return context.Background(), func() {}
}
