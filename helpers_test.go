package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type syncBuffer struct {
	lock sync.Mutex
	buf  bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.buf.String()
}

func testLogger() (*logrus.Entry, *syncBuffer) {
	var buf syncBuffer
	return NewLogger(&buf, nil, true, "test-session"), &buf
}

// fakePort stands in for a serial port. Reads time out with io.EOF the way
// tarm/serial does when nothing arrives within the read timeout.
type fakePort struct {
	lock     sync.Mutex
	written  bytes.Buffer
	writeErr error

	incoming  chan []byte
	pending   []byte
	readErr   error
	timeout   time.Duration
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakePort() *fakePort {
	return &fakePort{
		incoming: make(chan []byte, 16),
		timeout:  5 * time.Millisecond,
		closed:   make(chan struct{}),
	}
}

func (p *fakePort) Read(b []byte) (int, error) {
	if len(p.pending) > 0 {
		n := copy(b, p.pending)
		p.pending = p.pending[n:]
		return n, nil
	}

	select {
	case data := <-p.incoming:
		n := copy(b, data)
		p.pending = data[n:]
		return n, nil
	case <-p.closed:
		return 0, os.ErrClosed
	case <-time.After(p.timeout):
		if p.readErr != nil {
			return 0, p.readErr
		}

		return 0, io.EOF
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}

	return p.written.Write(b)
}

func (p *fakePort) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePort) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

func (p *fakePort) commands() []string {
	p.lock.Lock()
	defer p.lock.Unlock()
	return strings.Fields(p.written.String())
}

type recordingWriter struct {
	sent []string
	err  error
}

func (w *recordingWriter) WriteCommand(cmd Command) error {
	if w.err != nil {
		return w.err
	}

	w.sent = append(w.sent, cmd.Token())
	return nil
}

// scriptedInput replays a fixed list of events and then closes, unless hold
// is set, in which case the channel stays open until ctx is done.
type scriptedInput struct {
	events []KeyEvent
	hold   bool
	err    error
	closed bool
}

func (s *scriptedInput) Events(ctx context.Context) (<-chan KeyEvent, error) {
	if s.err != nil {
		return nil, s.err
	}

	events := make(chan KeyEvent)
	go func() {
		defer close(events)
		for _, event := range s.events {
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}

		if s.hold {
			<-ctx.Done()
		}
	}()

	return events, nil
}

func (s *scriptedInput) Close() error {
	s.closed = true
	return nil
}
