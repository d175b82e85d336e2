package database

import (
	"context"
	"database/sql/driver"
	"math/rand"
	"strings"
	"time"
)

const (
	retryBaseDelay = 50 * time.Millisecond
	retryMaxDelay  = 2 * time.Second
)

var busyMarkers = []string{
	"database is locked",
	"database table is locked",
	"SQLITE_BUSY",
	"SQLITE_LOCKED",
	"(5)",
	"(6)",
}

// isBusyError reports whether err is a SQLite BUSY/LOCKED error, for both the
// modernc and mattn drivers.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, m := range busyMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// retryWithBackoff calls fn until it succeeds, fails with a non-busy error or
// maxRetries retries have been spent. Delays double from 50ms with up to 25%
// jitter, capped at 2s.
func retryWithBackoff(ctx context.Context, maxRetries int, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !isBusyError(err) || attempt >= maxRetries {
			return err
		}

		delay := retryBaseDelay * time.Duration(1<<attempt)
		delay += time.Duration(rand.Int63n(int64(delay/4) + 1))
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// busyRetryConnector hands out connections that retry statements failing
// with SQLITE_BUSY.
type busyRetryConnector struct {
	driver.Connector
	maxRetries int
}

func (rc *busyRetryConnector) Connect(ctx context.Context) (driver.Conn, error) {
	conn, err := rc.Connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &busyRetryConn{conn: conn, maxRetries: rc.maxRetries}, nil
}

type busyRetryConn struct {
	conn       driver.Conn
	maxRetries int
}

func (c *busyRetryConn) retry(ctx context.Context, fn func() error) error {
	return retryWithBackoff(ctx, c.maxRetries, fn)
}

func (c *busyRetryConn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

func (c *busyRetryConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	var (
		stmt driver.Stmt
		err  error
	)
	if pc, ok := c.conn.(driver.ConnPrepareContext); ok {
		stmt, err = pc.PrepareContext(ctx, query)
	} else {
		stmt, err = c.conn.Prepare(query)
	}
	if err != nil {
		return nil, err
	}
	return &busyRetryStmt{stmt: stmt, maxRetries: c.maxRetries}, nil
}

func (c *busyRetryConn) Close() error {
	return c.conn.Close()
}

func (c *busyRetryConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *busyRetryConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	var tx driver.Tx
	err := c.retry(ctx, func() error {
		var innerErr error
		if bt, ok := c.conn.(driver.ConnBeginTx); ok {
			tx, innerErr = bt.BeginTx(ctx, opts)
		} else {
			tx, innerErr = c.conn.Begin() //nolint:staticcheck // fallback for drivers without BeginTx
		}
		return innerErr
	})
	return tx, err
}

func (c *busyRetryConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	ec, ok := c.conn.(driver.ExecerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	var result driver.Result
	err := c.retry(ctx, func() error {
		var innerErr error
		result, innerErr = ec.ExecContext(ctx, query, args)
		return innerErr
	})
	return result, err
}

func (c *busyRetryConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	qc, ok := c.conn.(driver.QueryerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	var rows driver.Rows
	err := c.retry(ctx, func() error {
		var innerErr error
		rows, innerErr = qc.QueryContext(ctx, query, args)
		return innerErr
	})
	return rows, err
}

func (c *busyRetryConn) Ping(ctx context.Context) error {
	if p, ok := c.conn.(driver.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (c *busyRetryConn) ResetSession(ctx context.Context) error {
	if r, ok := c.conn.(driver.SessionResetter); ok {
		return r.ResetSession(ctx)
	}
	return nil
}

func (c *busyRetryConn) IsValid() bool {
	if v, ok := c.conn.(driver.Validator); ok {
		return v.IsValid()
	}
	return true
}

type busyRetryStmt struct {
	stmt       driver.Stmt
	maxRetries int
}

func (s *busyRetryStmt) Close() error {
	return s.stmt.Close()
}

func (s *busyRetryStmt) NumInput() int {
	return s.stmt.NumInput()
}

func (s *busyRetryStmt) Exec(args []driver.Value) (driver.Result, error) {
	var result driver.Result
	err := retryWithBackoff(context.Background(), s.maxRetries, func() error {
		var innerErr error
		result, innerErr = s.stmt.Exec(args) //nolint:staticcheck // required by driver.Stmt
		return innerErr
	})
	return result, err
}

func (s *busyRetryStmt) Query(args []driver.Value) (driver.Rows, error) {
	var rows driver.Rows
	err := retryWithBackoff(context.Background(), s.maxRetries, func() error {
		var innerErr error
		rows, innerErr = s.stmt.Query(args) //nolint:staticcheck // required by driver.Stmt
		return innerErr
	})
	return rows, err
}

func (s *busyRetryStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	sec, ok := s.stmt.(driver.StmtExecContext)
	if !ok {
		return s.Exec(namedToValues(args))
	}
	var result driver.Result
	err := retryWithBackoff(ctx, s.maxRetries, func() error {
		var innerErr error
		result, innerErr = sec.ExecContext(ctx, args)
		return innerErr
	})
	return result, err
}

func (s *busyRetryStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	sqc, ok := s.stmt.(driver.StmtQueryContext)
	if !ok {
		return s.Query(namedToValues(args))
	}
	var rows driver.Rows
	err := retryWithBackoff(ctx, s.maxRetries, func() error {
		var innerErr error
		rows, innerErr = sqc.QueryContext(ctx, args)
		return innerErr
	})
	return rows, err
}

func namedToValues(args []driver.NamedValue) []driver.Value {
	values := make([]driver.Value, len(args))
	for i, arg := range args {
		values[i] = arg.Value
	}
	return values
}
