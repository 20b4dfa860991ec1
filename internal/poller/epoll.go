//go:build linux

package poller

import "golang.org/x/sys/unix"

// EpollPoller is an epoll-based readiness multiplexer.
type EpollPoller struct {
	epfd   int
	events []unix.EpollEvent
}

// NewPoller creates a Poller backed by epoll, reserving a fixed-size
// event array (default 1024) as spec.md's construction step requires.
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &EpollPoller{
		epfd:   epfd,
		events: make([]unix.EpollEvent, 1024),
	}, nil
}

func toEpollMask(ev Events, edgeTriggered, oneShot bool) uint32 {
	var mask uint32
	if ev&Readable != 0 {
		mask |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if ev&Writable != 0 {
		mask |= unix.EPOLLOUT
	}
	if edgeTriggered {
		mask |= unix.EPOLLET
	}
	if oneShot {
		mask |= unix.EPOLLONESHOT
	}
	return mask
}

func (p *EpollPoller) Add(fd int, events Events, edgeTriggered, oneShot bool) error {
	ev := unix.EpollEvent{Events: toEpollMask(events, edgeTriggered, oneShot), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *EpollPoller) Mod(fd int, events Events, edgeTriggered, oneShot bool) error {
	ev := unix.EpollEvent{Events: toEpollMask(events, edgeTriggered, oneShot), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *EpollPoller) Del(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *EpollPoller) Wait(timeoutMs int) ([]Event, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMs)
	if err != nil && err != unix.EINTR {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		raw := p.events[i]
		var ev Events
		if raw.Events&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
			ev |= Readable
		}
		if raw.Events&unix.EPOLLOUT != 0 {
			ev |= Writable
		}
		if raw.Events&(unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			ev |= Closed
		}
		out = append(out, Event{Fd: int(raw.Fd), Events: ev})
	}
	return out, nil
}

func (p *EpollPoller) Close() error {
	return unix.Close(p.epfd)
}

// SetNonblock sets the O_NONBLOCK flag on fd.
func SetNonblock(fd int) error {
	return unix.SetNonblock(fd, true)
}
