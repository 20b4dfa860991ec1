// Package server owns the single server-loop goroutine: the listener,
// the readiness reactor, the connection table, the idle-timeout heap,
// and the worker pool that runs per-connection I/O tasks.
package server

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/corehttp/server/internal/buffer"
	"github.com/corehttp/server/internal/dbpool"
	"github.com/corehttp/server/internal/httpserver"
	"github.com/corehttp/server/internal/logging"
	"github.com/corehttp/server/internal/poller"
	"github.com/corehttp/server/internal/timerheap"
	"github.com/corehttp/server/internal/workerpool"
)

// maxClients is the accept-time capacity guard (spec.md §4.9 / §7).
const maxClients = 65536

// TriggerMode selects edge/level triggering independently for the
// listener and connection sockets, matching the original's 0-3 table.
type TriggerMode int

const (
	// ModeLTLT is level-triggered listener, level-triggered connections.
	ModeLTLT TriggerMode = iota
	// ModeLTET is level-triggered listener, edge-triggered connections.
	ModeLTET
	// ModeETLT is edge-triggered listener, level-triggered connections.
	ModeETLT
	// ModeETET is edge-triggered listener, edge-triggered connections (default).
	ModeETET
)

// Config holds the parameters in spec.md §6.
type Config struct {
	Port        int
	Trigger     TriggerMode
	IdleTimeout time.Duration
	SrcDir      string
	DBHost      string
	DBPort      uint16
	DBUser      string
	DBPassword  string
	DBName      string
	DBPoolSize  int
	WorkerCount int
}

// completionKind is the outcome a worker reports back after finishing
// a connection task.
type completionKind int

const (
	completionClose completionKind = iota
	completionRearmReadable
	completionRearmWritable
)

// completion is how a worker goroutine asks the server-loop goroutine
// to close or re-arm a connection. Workers never touch the connection
// table, the timer heap, or the poller directly: those are owned by
// the server thread alone (spec's concurrency model, §5), so a worker
// only runs Connection.Read/Process/Write and reports the result here.
type completion struct {
	fd   int
	kind completionKind
}

// Server is the single-threaded accept/dispatch loop.
type Server struct {
	cfg      Config
	log      *logging.Logger
	listenFd int
	pl       poller.Poller
	timers   *timerheap.Heap
	workers  *workerpool.Pool
	db       *dbpool.Pool
	conns    map[int]*httpserver.Connection
	listenET bool
	connET   bool

	// wakeR/wakeW are a self-pipe registered with the poller so a
	// worker posting a completion can interrupt a blocked Wait
	// immediately instead of waiting out the idle-timer budget.
	wakeR, wakeW int

	compMu sync.Mutex
	compQ  []completion

	stopCh    chan struct{}
	closeOnce sync.Once
}

// New constructs a Server. If cfg.DBPoolSize > 0 it also dials the
// configured MySQL database; a zero pool size serves static files only.
func New(cfg Config, log *logging.Logger) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		log:      log,
		timers:   timerheap.New(),
		conns:    make(map[int]*httpserver.Connection, 1024),
		listenET: cfg.Trigger == ModeETLT || cfg.Trigger == ModeETET,
		connET:   cfg.Trigger == ModeLTET || cfg.Trigger == ModeETET,
		stopCh:   make(chan struct{}),
	}

	if cfg.DBPoolSize > 0 {
		db, err := dbpool.Open(cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPoolSize)
		if err != nil {
			return nil, fmt.Errorf("server: db pool: %w", err)
		}
		s.db = db
	}

	workerCount := cfg.WorkerCount
	if workerCount <= 0 {
		workerCount = 8
	}
	s.workers = workerpool.New(workerCount)

	if err := s.initListener(); err != nil {
		return nil, err
	}

	var wake [2]int
	if err := unix.Pipe(wake[:]); err != nil {
		unix.Close(s.listenFd)
		return nil, fmt.Errorf("server: wake pipe: %w", err)
	}
	s.wakeR, s.wakeW = wake[0], wake[1]
	if err := unix.SetNonblock(s.wakeR, true); err != nil {
		unix.Close(s.wakeR)
		unix.Close(s.wakeW)
		unix.Close(s.listenFd)
		return nil, fmt.Errorf("server: wake pipe nonblock: %w", err)
	}
	if err := unix.SetNonblock(s.wakeW, true); err != nil {
		unix.Close(s.wakeR)
		unix.Close(s.wakeW)
		unix.Close(s.listenFd)
		return nil, fmt.Errorf("server: wake pipe nonblock: %w", err)
	}

	pl, err := poller.NewPoller()
	if err != nil {
		unix.Close(s.wakeR)
		unix.Close(s.wakeW)
		unix.Close(s.listenFd)
		return nil, fmt.Errorf("server: poller: %w", err)
	}
	s.pl = pl
	if err := s.pl.Add(s.listenFd, poller.Readable, s.listenET, false); err != nil {
		return nil, fmt.Errorf("server: registering listener: %w", err)
	}
	if err := s.pl.Add(s.wakeR, poller.Readable, false, false); err != nil {
		return nil, fmt.Errorf("server: registering wake pipe: %w", err)
	}

	return s, nil
}

func (s *Server) initListener() error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return fmt.Errorf("server: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return fmt.Errorf("server: SO_REUSEADDR: %w", err)
	}
	addr := &unix.SockaddrInet4{Port: s.cfg.Port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return fmt.Errorf("server: bind: %w", err)
	}
	if err := unix.Listen(fd, 8); err != nil {
		unix.Close(fd)
		return fmt.Errorf("server: listen: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return fmt.Errorf("server: nonblock: %w", err)
	}
	s.listenFd = fd
	return nil
}

// Run drives the accept/dispatch loop until Close is called. It never
// returns on a single connection's failure.
func (s *Server) Run() error {
	s.log.Infof("listening on port %d (trigger=%d)", s.cfg.Port, s.cfg.Trigger)
	for {
		select {
		case <-s.stopCh:
			s.shutdown()
			return nil
		default:
		}

		budget := s.timers.NextTick()
		events, err := s.pl.Wait(budget)
		if err != nil {
			s.log.Warnf("poller wait: %v", err)
			continue
		}
		for _, ev := range events {
			switch ev.Fd {
			case s.listenFd:
				s.acceptLoop()
			case s.wakeR:
				s.drainWake()
			default:
				s.dispatch(ev)
			}
		}
		s.drainCompletions()
	}
}

// Close asks the server-loop goroutine to stop and release all
// resources, then returns without waiting for it to do so. Safe to
// call once, from any goroutine (the signal handler calls this
// concurrently with Run).
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.wake()
	})
}

// shutdown runs on the server-loop goroutine only, once Run observes
// stopCh closed. Closing the worker pool first guarantees every
// in-flight task (and its postCompletion/wake calls) has finished
// before the connection table or the wake pipe is touched again.
func (s *Server) shutdown() {
	s.workers.Close()
	for fd, c := range s.conns {
		c.Close()
		delete(s.conns, fd)
	}
	if s.db != nil {
		s.db.Close()
	}
	s.pl.Close()
	unix.Close(s.listenFd)
	unix.Close(s.wakeR)
	unix.Close(s.wakeW)
}

// postCompletion queues a worker's outcome for the server-loop
// goroutine to apply and wakes it so it doesn't wait out the idle
// timer budget before noticing.
func (s *Server) postCompletion(fd int, kind completionKind) {
	s.compMu.Lock()
	s.compQ = append(s.compQ, completion{fd: fd, kind: kind})
	s.compMu.Unlock()
	s.wake()
}

// drainCompletions runs on the server-loop goroutine and applies every
// completion queued by workers since the last drain.
func (s *Server) drainCompletions() {
	s.compMu.Lock()
	q := s.compQ
	s.compQ = nil
	s.compMu.Unlock()

	for _, c := range q {
		switch c.kind {
		case completionClose:
			s.closeConn(c.fd)
		case completionRearmReadable:
			s.rearm(c.fd, poller.Readable)
		case completionRearmWritable:
			s.rearm(c.fd, poller.Writable)
		}
	}
}

// rearm re-registers fd for ev, unless it was already closed by a
// prior completion (e.g. its idle timer fired) in the same batch.
func (s *Server) rearm(fd int, ev poller.Events) {
	if _, ok := s.conns[fd]; !ok {
		return
	}
	s.pl.Mod(fd, ev, s.connET, true)
}

// wake writes a single byte to the self-pipe to interrupt a blocked
// poller Wait. Errors are ignored: EAGAIN means a wake is already
// pending, which is all the reader needs.
func (s *Server) wake() {
	var b [1]byte
	unix.Write(s.wakeW, b[:])
}

// drainWake empties the self-pipe so it stops reporting readable.
func (s *Server) drainWake() {
	var buf [64]byte
	for {
		if _, err := unix.Read(s.wakeR, buf[:]); err != nil {
			return
		}
	}
}

func (s *Server) acceptLoop() {
	for {
		nfd, sa, err := unix.Accept(s.listenFd)
		if err != nil {
			if err != unix.EAGAIN {
				s.log.Warnf("accept: %v", err)
			}
			return
		}
		if int64(len(s.conns)) >= maxClients {
			unix.Write(nfd, []byte("Server busy!"))
			unix.Close(nfd)
			continue
		}
		if err := unix.SetNonblock(nfd, true); err != nil {
			unix.Close(nfd)
			continue
		}
		conn := httpserver.NewConnection(s.cfg.SrcDir, s.db)
		conn.Init(nfd, peerAddr(sa), s.connET)
		s.conns[nfd] = conn
		s.timers.Add(nfd, s.cfg.IdleTimeout, func() { s.closeConn(nfd) })
		if err := s.pl.Add(nfd, poller.Readable, s.connET, true); err != nil {
			s.closeConn(nfd)
			continue
		}
		if !s.listenET {
			return
		}
	}
}

func (s *Server) dispatch(ev poller.Event) {
	conn, ok := s.conns[ev.Fd]
	if !ok {
		return
	}
	if ev.Events&poller.Closed != 0 {
		s.closeConn(ev.Fd)
		return
	}
	s.timers.Adjust(ev.Fd, s.cfg.IdleTimeout)
	switch {
	case ev.Events&poller.Readable != 0:
		s.workers.Submit(func() { s.onRead(conn) })
	case ev.Events&poller.Writable != 0:
		s.workers.Submit(func() { s.onWrite(conn) })
	}
}

// onRead, onProcess, and onWrite run on worker goroutines (submitted
// by dispatch). They only ever touch the Connection they own — safe
// under the one-shot invariant — and report their outcome through
// postCompletion instead of mutating the connection table, timer
// heap, or poller themselves, which belong to the server-loop
// goroutine alone.
func (s *Server) onRead(c *httpserver.Connection) {
	_, err := c.Read()
	if err != nil {
		s.postCompletion(c.Fd, completionClose)
		return
	}
	s.onProcess(c)
}

func (s *Server) onProcess(c *httpserver.Connection) {
	if c.Process() {
		s.postCompletion(c.Fd, completionRearmWritable)
	} else {
		s.postCompletion(c.Fd, completionRearmReadable)
	}
}

func (s *Server) onWrite(c *httpserver.Connection) {
	err := c.Write()
	if !c.HasPendingWrite() {
		if c.KeepAlive() {
			s.postCompletion(c.Fd, completionRearmReadable)
			return
		}
		s.postCompletion(c.Fd, completionClose)
		return
	}
	if err != nil && errors.Is(err, buffer.ErrWouldBlock) && c.KeepAlive() {
		s.postCompletion(c.Fd, completionRearmReadable)
		return
	}
	s.postCompletion(c.Fd, completionClose)
}

func (s *Server) closeConn(fd int) {
	c, ok := s.conns[fd]
	if !ok {
		return
	}
	delete(s.conns, fd)
	s.timers.Cancel(fd)
	s.pl.Del(fd)
	c.Close()
}

func peerAddr(sa unix.Sockaddr) string {
	addr4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%d.%d.%d.%d:%d", addr4.Addr[0], addr4.Addr[1], addr4.Addr[2], addr4.Addr[3], addr4.Port)
}
