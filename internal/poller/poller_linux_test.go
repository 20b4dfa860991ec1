//go:build linux

package poller

import (
	"os"
	"testing"
)

func TestEpollReportsReadable(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	p, err := NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	defer p.Close()

	rfd := int(r.Fd())
	if err := p.Add(rfd, Readable, false, false); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if _, err := w.Write([]byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}

	events, err := p.Wait(1000)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(events) != 1 || events[0].Fd != rfd || events[0].Events&Readable == 0 {
		t.Fatalf("Wait() = %+v, want one Readable event on fd %d", events, rfd)
	}
}

func TestEpollOneShotRequiresRearm(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	p, err := NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	defer p.Close()

	rfd := int(r.Fd())
	if err := p.Add(rfd, Readable, false, true); err != nil {
		t.Fatalf("Add: %v", err)
	}
	w.Write([]byte("a"))

	events, err := p.Wait(1000)
	if err != nil || len(events) != 1 {
		t.Fatalf("first Wait() = %+v, err=%v", events, err)
	}

	w.Write([]byte("b"))
	events, err = p.Wait(200)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("one-shot fd delivered a second event before re-arm: %+v", events)
	}

	if err := p.Mod(rfd, Readable, false, true); err != nil {
		t.Fatalf("Mod: %v", err)
	}
	events, err = p.Wait(1000)
	if err != nil || len(events) != 1 {
		t.Fatalf("Wait() after re-arm = %+v, err=%v", events, err)
	}
}
