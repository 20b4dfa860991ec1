//go:build darwin

package poller

import "golang.org/x/sys/unix"

// KqueuePoller is a kqueue-based readiness multiplexer.
type KqueuePoller struct {
	kqfd   int
	events []unix.Kevent_t
}

// NewPoller creates a Poller backed by kqueue.
func NewPoller() (Poller, error) {
	kqfd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &KqueuePoller{
		kqfd:   kqfd,
		events: make([]unix.Kevent_t, 1024),
	}, nil
}

// changesFor builds the kevent change list for one fd registration.
// kqueue tracks read and write readiness as separate filters, so a
// caller asking for both gets two changes; EV_CLEAR selects edge
// triggering and EV_ONESHOT selects one-shot delivery, mirroring the
// epoll flags this package normalises against.
func changesFor(fd int, events Events, edgeTriggered, oneShot bool, enable bool) []unix.Kevent_t {
	flags := uint16(unix.EV_ADD)
	if enable {
		flags |= unix.EV_ENABLE
	} else {
		flags |= unix.EV_DISABLE
	}
	if edgeTriggered {
		flags |= unix.EV_CLEAR
	}
	if oneShot {
		flags |= unix.EV_ONESHOT
	}
	var changes []unix.Kevent_t
	if events&Readable != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if events&Writable != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	if len(changes) == 0 {
		// Neither readable nor writable requested: disable both
		// filters explicitly so a prior registration doesn't linger.
		changes = append(changes,
			unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: uint16(unix.EV_DISABLE)},
			unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: uint16(unix.EV_DISABLE)},
		)
	}
	return changes
}

func (p *KqueuePoller) Add(fd int, events Events, edgeTriggered, oneShot bool) error {
	changes := changesFor(fd, events, edgeTriggered, oneShot, true)
	_, err := unix.Kevent(p.kqfd, changes, nil, nil)
	return err
}

func (p *KqueuePoller) Mod(fd int, events Events, edgeTriggered, oneShot bool) error {
	return p.Add(fd, events, edgeTriggered, oneShot)
}

func (p *KqueuePoller) Del(fd int) error {
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: uint16(unix.EV_DELETE)},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: uint16(unix.EV_DELETE)},
	}
	// Either filter may be unregistered; ignore ENOENT per-change by
	// issuing them independently so one missing filter doesn't block
	// removal of the other.
	for _, c := range changes {
		unix.Kevent(p.kqfd, []unix.Kevent_t{c}, nil, nil)
	}
	return nil
}

func (p *KqueuePoller) Wait(timeoutMs int) ([]Event, error) {
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		ts = &unix.Timespec{
			Sec:  int64(timeoutMs / 1000),
			Nsec: int64((timeoutMs % 1000) * 1000000),
		}
	}
	n, err := unix.Kevent(p.kqfd, nil, p.events, ts)
	if err != nil && err != unix.EINTR {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	byFd := make(map[int]Events, n)
	order := make([]int, 0, n)
	for i := 0; i < n; i++ {
		raw := p.events[i]
		fd := int(raw.Ident)
		if _, seen := byFd[fd]; !seen {
			order = append(order, fd)
		}
		var ev Events
		switch raw.Filter {
		case unix.EVFILT_READ:
			ev |= Readable
		case unix.EVFILT_WRITE:
			ev |= Writable
		}
		if raw.Flags&(unix.EV_EOF|unix.EV_ERROR) != 0 {
			ev |= Closed
		}
		byFd[fd] |= ev
	}
	out := make([]Event, 0, len(order))
	for _, fd := range order {
		out = append(out, Event{Fd: fd, Events: byFd[fd]})
	}
	return out, nil
}

func (p *KqueuePoller) Close() error {
	return unix.Close(p.kqfd)
}

// SetNonblock sets the O_NONBLOCK flag on fd.
func SetNonblock(fd int) error {
	return unix.SetNonblock(fd, true)
}
