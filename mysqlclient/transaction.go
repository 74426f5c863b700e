package mysqlclient

import (
	"context"
	"fmt"

	"github.com/brindlecore/reactor/asyncerr"
	"github.com/brindlecore/reactor/promise"
)

// Transaction is the facade returned by BeginTransaction (spec §3/§4.5): a
// connection reference, an active flag, and the isolation level in effect
// when it began. The ordered savepoint stack is kept on the Connection.
type Transaction struct {
	conn      *Connection
	active    bool
	isolation IsolationLevel
}

// BeginTransaction issues `SET TRANSACTION ISOLATION LEVEL ...` (if level
// is non-empty) then `START TRANSACTION`, treating both as a single
// logical operation from the caller's point of view: the transaction is
// only considered active once both succeed (spec §4.5 "begin").
func (c *Connection) BeginTransaction(level IsolationLevel) *promise.Promise {
	_, p := c.loop.SubmitOp(func(ctx context.Context) (any, error) {
		if level != "" {
			if _, err := c.doQuery(fmt.Sprintf("SET TRANSACTION ISOLATION LEVEL %s", level)); err != nil {
				return nil, err
			}
		}
		if _, err := c.doQuery("START TRANSACTION"); err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.inTransaction = true
		c.isolation = level
		c.savepoints = nil
		c.mu.Unlock()
		return &Transaction{conn: c, active: true, isolation: level}, nil
	})
	return p
}

func (t *Transaction) requireActive() error {
	if !t.active {
		return asyncerr.New(asyncerr.KindUsage, "transaction is not active")
	}
	return nil
}

// Query runs sql within the transaction's connection.
func (t *Transaction) Query(sql string) *promise.Promise {
	if err := t.requireActive(); err != nil {
		return promise.Rejected(t.conn.loop, err)
	}
	return t.conn.Query(sql)
}

// Prepare prepares sql within the transaction's connection.
func (t *Transaction) Prepare(sql string) *promise.Promise {
	if err := t.requireActive(); err != nil {
		return promise.Rejected(t.conn.loop, err)
	}
	return t.conn.Prepare(sql)
}

// Savepoint pushes a named rollback target onto the LIFO stack.
func (t *Transaction) Savepoint(name string) *promise.Promise {
	if err := t.requireActive(); err != nil {
		return promise.Rejected(t.conn.loop, err)
	}
	_, p := t.conn.loop.SubmitOp(func(ctx context.Context) (any, error) {
		if _, err := t.conn.doQuery(fmt.Sprintf("SAVEPOINT %s", name)); err != nil {
			t.deactivate()
			return nil, err
		}
		t.conn.mu.Lock()
		t.conn.savepoints = append(t.conn.savepoints, name)
		t.conn.mu.Unlock()
		return nil, nil
	})
	return p
}

// RollbackTo rolls back to a named savepoint, popping it and everything
// above it from the stack.
func (t *Transaction) RollbackTo(name string) *promise.Promise {
	if err := t.requireActive(); err != nil {
		return promise.Rejected(t.conn.loop, err)
	}
	_, p := t.conn.loop.SubmitOp(func(ctx context.Context) (any, error) {
		if _, err := t.conn.doQuery(fmt.Sprintf("ROLLBACK TO SAVEPOINT %s", name)); err != nil {
			t.deactivate()
			return nil, err
		}
		t.conn.mu.Lock()
		for i, sp := range t.conn.savepoints {
			if sp == name {
				t.conn.savepoints = t.conn.savepoints[:i]
				break
			}
		}
		t.conn.mu.Unlock()
		return nil, nil
	})
	return p
}

// Commit commits the transaction, popping all savepoints, and returns the
// connection to Idle.
func (t *Transaction) Commit() *promise.Promise {
	if err := t.requireActive(); err != nil {
		return promise.Rejected(t.conn.loop, err)
	}
	_, p := t.conn.loop.SubmitOp(func(ctx context.Context) (any, error) {
		_, err := t.conn.doQuery("COMMIT")
		t.deactivate()
		if err != nil {
			return nil, err
		}
		return nil, nil
	})
	return p
}

// Rollback rolls back the entire transaction and returns the connection to
// Idle.
func (t *Transaction) Rollback() *promise.Promise {
	if err := t.requireActive(); err != nil {
		return promise.Rejected(t.conn.loop, err)
	}
	_, p := t.conn.loop.SubmitOp(func(ctx context.Context) (any, error) {
		_, err := t.conn.doQuery("ROLLBACK")
		t.deactivate()
		if err != nil {
			return nil, err
		}
		return nil, nil
	})
	return p
}

func (t *Transaction) deactivate() {
	t.active = false
	t.conn.mu.Lock()
	t.conn.inTransaction = false
	t.conn.savepoints = nil
	t.conn.mu.Unlock()
}

// SetAutoCommit issues `SET autocommit = {0,1}` and records session state
// (spec §4.5).
func (c *Connection) SetAutoCommit(enabled bool) *promise.Promise {
	_, p := c.loop.SubmitOp(func(ctx context.Context) (any, error) {
		val := "0"
		if enabled {
			val = "1"
		}
		if _, err := c.doQuery("SET autocommit = " + val); err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.autocommit = enabled
		c.mu.Unlock()
		return nil, nil
	})
	return p
}
