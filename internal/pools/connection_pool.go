// Package pools recycles the two allocation-heavy object kinds the
// server loop churns through on every request: Connection objects
// (reused across accept cycles) and Buffers
// (reused across the small/medium/large size classes an HTTP
// request/response typically needs).
package pools

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/corehttp/server/internal/httpserver"
)

// ConnectionPool recycles *httpserver.Connection objects so that a
// busy server does not allocate a fresh Connection (and its nested
// Request/Response/Buffers) on every accept.
type ConnectionPool struct {
	pool sync.Pool
	gets atomic.Uint64
	puts atomic.Uint64
}

// NewConnectionPool returns a ConnectionPool whose New allocates via
// newConn (typically httpserver.NewConnection bound to a fixed srcDir
// and DB pool).
func NewConnectionPool(newConn func() *httpserver.Connection) *ConnectionPool {
	cp := &ConnectionPool{}
	cp.pool.New = func() any { return newConn() }
	return cp
}

// Get returns a Connection ready for Init. It may be freshly allocated
// or recycled from a prior Close.
func (cp *ConnectionPool) Get() *httpserver.Connection {
	cp.gets.Add(1)
	return cp.pool.Get().(*httpserver.Connection)
}

// Put returns a closed Connection to the pool. The caller must have
// already called Close; Put does not close it itself.
func (cp *ConnectionPool) Put(c *httpserver.Connection) {
	if c == nil || !c.Closed() {
		return
	}
	cp.puts.Add(1)
	cp.pool.Put(c)
}

// Stats reports pool hit rate, for diagnostics.
func (cp *ConnectionPool) Stats() (gets, puts uint64, hitRate float64) {
	g, p := cp.gets.Load(), cp.puts.Load()
	if g > 0 {
		hitRate = float64(p) / float64(g)
	}
	return g, p, hitRate
}

// gcConfig mirrors the teacher's GC tuning knobs; ApplyGCConfig is
// called once at startup to reduce collection frequency under the
// high connection churn this server is built for.
type gcConfig struct {
	gogcPercent    int
	memoryLimit    int64
	minRetainExtra int64
}

// DefaultGCConfig returns GC settings tuned for a server under
// sustained connection churn: less frequent collection (GOGC 200) and
// no memory limit. It also records a 32 MiB minRetainExtra, which
// ApplyGCConfig does not act on.
func DefaultGCConfig() gcConfig {
	return gcConfig{gogcPercent: 200, minRetainExtra: 32 << 20}
}

var lastGCApply time.Time

// ApplyGCConfig applies cfg via runtime/debug. Safe to call once at
// process startup.
func ApplyGCConfig(cfg gcConfig) {
	applyGCPercent(cfg.gogcPercent)
	if cfg.memoryLimit > 0 {
		applyMemoryLimit(cfg.memoryLimit)
	}
	lastGCApply = time.Now()
}
