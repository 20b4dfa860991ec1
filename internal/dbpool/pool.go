// Package dbpool implements the bounded MySQL handle pool: a FIFO
// queue of *sql.Conn held in a buffered channel, with an external counting
// semaphore whose value always equals the number of free handles.
//
// Two acquisition paths exist because two call sites in the original
// need different failure behaviour (spec.md §7): TryGet never blocks
// and reports pool exhaustion by returning a nil handle, used by the
// request-verification path which must fail fast rather than stall a
// worker; Get/WithConn block on the semaphore, used by the scoped
// acquisition helper.
package dbpool

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"golang.org/x/sync/semaphore"
)

// Pool is a bounded queue of MySQL connections.
type Pool struct {
	db  *sql.DB
	sem *semaphore.Weighted
	ch  chan *sql.Conn
	cap int
}

// Open dials host:port/dbName with user/pwd and establishes n pooled
// connections, initialising the counting semaphore to n.
func Open(host string, port uint16, user, pwd, dbName string, n int) (*Pool, error) {
	if n <= 0 {
		return nil, fmt.Errorf("dbpool: n must be > 0, got %d", n)
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", user, pwd, host, port, dbName)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("dbpool: open: %w", err)
	}
	db.SetMaxOpenConns(n)
	db.SetMaxIdleConns(n)

	p := &Pool{
		db:  db,
		sem: semaphore.NewWeighted(int64(n)),
		ch:  make(chan *sql.Conn, n),
		cap: n,
	}
	for i := 0; i < n; i++ {
		conn, err := db.Conn(context.Background())
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("dbpool: establishing connection %d/%d: %w", i+1, n, err)
		}
		p.ch <- conn
	}
	return p, nil
}

// TryGet returns a free handle without blocking, or nil if the pool is
// currently exhausted. Callers must return a non-nil handle with Put.
func (p *Pool) TryGet() *sql.Conn {
	if !p.sem.TryAcquire(1) {
		return nil
	}
	return <-p.ch
}

// Get blocks on the counting semaphore until a handle is free, then
// returns it.
func (p *Pool) Get(ctx context.Context) (*sql.Conn, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return <-p.ch, nil
}

// Put returns conn to the pool and releases the semaphore.
func (p *Pool) Put(conn *sql.Conn) {
	if conn == nil {
		return
	}
	p.ch <- conn
	p.sem.Release(1)
}

// WithConn is the scoped-acquisition helper: it blocks for a handle,
// invokes fn, and guarantees release on every exit path including a
// panic inside fn.
func (p *Pool) WithConn(ctx context.Context, fn func(*sql.Conn) error) error {
	conn, err := p.Get(ctx)
	if err != nil {
		return err
	}
	defer p.Put(conn)
	return fn(conn)
}

// FreeCount reports the number of handles currently idle in the pool.
func (p *Pool) FreeCount() int {
	return len(p.ch)
}

// Close drains and closes every handle and the underlying *sql.DB.
func (p *Pool) Close() error {
	close(p.ch)
	for conn := range p.ch {
		conn.Close()
	}
	return p.db.Close()
}
