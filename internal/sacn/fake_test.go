package sacn

import (
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
)

// fakeConn stands in for *ipv4.PacketConn.
type fakeConn struct {
	datagrams chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	joins    []string
	leaves   []string
	joinErr  error
	joinHook func()
	writes   [][]byte
	dsts     []net.Addr
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		datagrams: make(chan []byte, 16),
		closed:    make(chan struct{}),
	}
}

func (f *fakeConn) ReadFrom(b []byte) (int, *ipv4.ControlMessage, net.Addr, error) {
	select {
	case d := <-f.datagrams:
		return copy(b, d), nil, &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5568}, nil
	case <-f.closed:
		return 0, nil, nil, net.ErrClosed
	}
}

func (f *fakeConn) JoinGroup(_ *net.Interface, group net.Addr) error {
	f.mu.Lock()
	hook := f.joinHook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return f.joinErr
	}
	f.joins = append(f.joins, group.String())
	return nil
}

func (f *fakeConn) LeaveGroup(_ *net.Interface, group net.Addr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, group.String())
	return nil
}

func (f *fakeConn) WriteTo(b []byte, _ *ipv4.ControlMessage, dst net.Addr) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), b...))
	f.dsts = append(f.dsts, dst)
	return len(b), nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeConn) written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.writes...)
}

func (f *fakeConn) joined() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.joins...)
}

// fakeTimer records a scheduled resend.
type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

// fakeScheduler replaces time.AfterFunc; timers only fire when the test says so.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) afterFunc(d time.Duration, f func()) stopper {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) all() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeTimer(nil), s.timers...)
}

func (s *fakeScheduler) pending() []*fakeTimer {
	var list []*fakeTimer
	for _, t := range s.all() {
		if !t.stopped {
			list = append(list, t)
		}
	}
	return list
}

// fire runs the timer as if it expired.
func (t *fakeTimer) fire() {
	t.stopped = true
	t.f()
}
