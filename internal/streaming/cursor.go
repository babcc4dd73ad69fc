package streaming

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
)

// Row is the unit flowing through both pipelines: an opaque document keyed by
// its primary identifier. The pipelines never interpret the document beyond
// serializing it as one JSON line or one message body.
type Row struct {
	ID       string
	Document json.RawMessage
}

// Cursor is a pausable streaming iterator over database rows.
//
// Rows are emitted in storage order on the Rows channel. Pause suspends
// emission before the next row is delivered, never mid-row; Resume re-arms
// delivery. End-of-stream and error are terminal and signalled exactly once
// by closing the channel; Err returns nil on a clean end-of-stream.
// Close is safe to call while rows are in flight and is idempotent.
type Cursor interface {
	Rows() <-chan Row
	Err() error
	Pause()
	Resume()
	Close() error
}

// gate serializes the pause/resume protocol. The pump goroutine waits on it
// before every emission, which makes the suspension point explicit in the
// control flow.
type gate struct {
	mu     sync.Mutex
	paused bool
	ch     chan struct{}
}

func (g *gate) pause() {
	g.mu.Lock()
	g.paused = true
	g.mu.Unlock()
}

func (g *gate) resume() {
	g.mu.Lock()
	g.paused = false
	if g.ch != nil {
		close(g.ch)
		g.ch = nil
	}
	g.mu.Unlock()
}

// wait blocks until the gate is open or done is closed.
func (g *gate) wait(done <-chan struct{}) {
	for {
		g.mu.Lock()
		if !g.paused {
			g.mu.Unlock()
			return
		}
		if g.ch == nil {
			g.ch = make(chan struct{})
		}
		ch := g.ch
		g.mu.Unlock()

		select {
		case <-ch:
		case <-done:
			return
		}
	}
}

// sqlCursor pumps a sql result set of (id, document) pairs into a channel.
type sqlCursor struct {
	rows *sql.Rows
	out  chan Row
	gate gate

	done      chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// NewSQLCursor wraps rows into a Cursor. The query must select exactly two
// columns: the row identifier and the JSON document. Ownership of rows moves
// to the cursor; it is closed when the pump terminates.
func NewSQLCursor(rows *sql.Rows) Cursor {
	c := &sqlCursor{
		rows: rows,
		out:  make(chan Row),
		done: make(chan struct{}),
	}
	go c.pump()
	return c
}

func (c *sqlCursor) Rows() <-chan Row {
	return c.out
}

func (c *sqlCursor) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *sqlCursor) Pause() {
	c.gate.pause()
}

func (c *sqlCursor) Resume() {
	c.gate.resume()
}

func (c *sqlCursor) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

func (c *sqlCursor) pump() {
	defer close(c.out)
	defer c.rows.Close()

	for c.rows.Next() {
		var id string
		var doc []byte
		if err := c.rows.Scan(&id, &doc); err != nil {
			c.setErr(fmt.Errorf("scanning row: %w", err))
			return
		}

		c.gate.wait(c.done)
		select {
		case c.out <- Row{ID: id, Document: doc}:
		case <-c.done:
			return
		}
	}

	if err := c.rows.Err(); err != nil {
		c.setErr(fmt.Errorf("reading rows: %w", err))
	}
}

func (c *sqlCursor) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}
