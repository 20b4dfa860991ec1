package server

import (
	"os"
	"sync"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/corehttp/server/internal/httpserver"
	"github.com/corehttp/server/internal/poller"
	"github.com/corehttp/server/internal/timerheap"
)

func TestTriggerModeDerivesListenAndConnEdgeFlags(t *testing.T) {
	cases := []struct {
		mode         TriggerMode
		wantListenET bool
		wantConnET   bool
	}{
		{ModeLTLT, false, false},
		{ModeLTET, false, true},
		{ModeETLT, true, false},
		{ModeETET, true, true},
	}
	for _, c := range cases {
		s := &Server{cfg: Config{Trigger: c.mode}}
		s.listenET = c.mode == ModeETLT || c.mode == ModeETET
		s.connET = c.mode == ModeLTET || c.mode == ModeETET
		if s.listenET != c.wantListenET || s.connET != c.wantConnET {
			t.Fatalf("mode %d: listenET=%v connET=%v, want %v/%v", c.mode, s.listenET, s.connET, c.wantListenET, c.wantConnET)
		}
	}
}

func TestPeerAddrFormatsInet4(t *testing.T) {
	sa := &unix.SockaddrInet4{Port: 8080, Addr: [4]byte{127, 0, 0, 1}}
	got := peerAddr(sa)
	if got != "127.0.0.1:8080" {
		t.Fatalf("peerAddr = %q, want %q", got, "127.0.0.1:8080")
	}
}

func TestPeerAddrUnknownSockaddrReturnsEmpty(t *testing.T) {
	sa := &unix.SockaddrInet6{Port: 8080}
	if got := peerAddr(sa); got != "" {
		t.Fatalf("peerAddr = %q, want empty string for non-inet4 sockaddr", got)
	}
}

// TestCompletionsAppliedOnlyByDrain exercises the path the maintainer
// flagged: many goroutines (standing in for worker tasks) call
// postCompletion concurrently, exactly as onRead/onProcess/onWrite do.
// None of them may touch the connection table, timer heap, or poller
// directly — only drainCompletions, invoked once here the way Run
// invokes it on the server-loop goroutine, is allowed to.
func TestCompletionsAppliedOnlyByDrain(t *testing.T) {
	pl, err := poller.NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	defer pl.Close()

	wakeR, wakeW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer wakeR.Close()
	defer wakeW.Close()

	s := &Server{
		pl:     pl,
		timers: timerheap.New(),
		conns:  make(map[int]*httpserver.Connection),
		wakeR:  int(wakeR.Fd()),
		wakeW:  int(wakeW.Fd()),
	}

	const n = 64
	fds := make([]int, n)
	for i := 0; i < n; i++ {
		r, w, err := os.Pipe()
		if err != nil {
			t.Fatalf("os.Pipe: %v", err)
		}
		t.Cleanup(func() { w.Close() })
		fd := int(r.Fd())
		fds[i] = fd

		c := httpserver.NewConnection(t.TempDir(), nil)
		c.Init(fd, "peer", false)
		s.conns[fd] = c
		s.timers.Add(fd, 0, func() {})
		if err := pl.Add(fd, poller.Readable, false, true); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	var wg sync.WaitGroup
	for i, fd := range fds {
		wg.Add(1)
		go func(fd int, close bool) {
			defer wg.Done()
			if close {
				s.postCompletion(fd, completionClose)
			} else {
				s.postCompletion(fd, completionRearmReadable)
			}
		}(fd, i%2 == 0)
	}
	wg.Wait()

	s.drainCompletions()

	for i, fd := range fds {
		_, open := s.conns[fd]
		wantOpen := i%2 != 0
		if open != wantOpen {
			t.Fatalf("fd %d: conns[fd] present=%v, want %v", fd, open, wantOpen)
		}
	}

	for _, c := range s.conns {
		c.Close()
	}
}
