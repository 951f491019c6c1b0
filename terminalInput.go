package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"
	"unicode"

	"golang.org/x/term"
)

// InterruptKey is reported when ctrl+c arrives on a terminal in raw mode,
// where it no longer raises SIGINT.
const InterruptKey = "ctrl+c"

type InputSource interface {
	Events(ctx context.Context) (<-chan KeyEvent, error)
	Close() error
}

// TerminalInput reads keys from a terminal. Terminals only report presses,
// so a key counts as released once it has been silent for releaseDelay.
// While a key is held the terminal's autorepeat keeps it alive; the delay
// must be longer than the autorepeat start delay.
type TerminalInput struct {
	in           *os.File
	releaseDelay time.Duration
	oldState     *term.State
	console      *ConsoleWriter
}

func NewTerminalInput(in *os.File, releaseDelay time.Duration) *TerminalInput {
	return &TerminalInput{
		in:           in,
		releaseDelay: releaseDelay,
	}
}

// WithConsole switches console to raw-mode line endings while the terminal
// is raw.
func (t *TerminalInput) WithConsole(console *ConsoleWriter) *TerminalInput {
	t.console = console
	return t
}

func (t *TerminalInput) Events(ctx context.Context) (<-chan KeyEvent, error) {
	fd := int(t.in.Fd())
	if term.IsTerminal(fd) {
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			return nil, fmt.Errorf("failed to enter raw mode: %w", err)
		}

		t.oldState = oldState
		if t.console != nil {
			t.console.SetRaw(true)
		}
	}

	events := make(chan KeyEvent)
	go streamKeys(ctx, t.in, t.releaseDelay, events)
	return events, nil
}

// Close restores the terminal. Safe to call when raw mode was never entered.
func (t *TerminalInput) Close() error {
	if t.oldState == nil {
		return nil
	}

	err := term.Restore(int(t.in.Fd()), t.oldState)
	t.oldState = nil
	if t.console != nil {
		t.console.SetRaw(false)
	}
	if err != nil {
		return fmt.Errorf("failed to restore terminal: %w", err)
	}

	return nil
}

// streamKeys emits a down event for every key byte read from r and an up
// event once a key has been silent for releaseDelay. events is closed when r
// is exhausted or ctx is done; keys still held at EOF are released first.
func streamKeys(ctx context.Context, r io.Reader, releaseDelay time.Duration, events chan<- KeyEvent) {
	defer close(events)

	chunks := make(chan []byte)
	go func() {
		defer close(chunks)
		buf := make([]byte, 32)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case chunks <- chunk:
				case <-ctx.Done():
					return
				}
			}

			if err != nil {
				return
			}
		}
	}()

	send := func(ev KeyEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	interval := releaseDelay / 4
	if interval <= 0 {
		interval = time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastSeen := map[string]time.Time{}
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				for name := range lastSeen {
					if !send(Up(name)) {
						return
					}
				}

				return
			}

			for _, name := range decodeKeys(chunk) {
				lastSeen[name] = time.Now()
				if !send(Down(name)) {
					return
				}
			}
		case now := <-ticker.C:
			for name, seen := range lastSeen {
				if now.Sub(seen) < releaseDelay {
					continue
				}

				delete(lastSeen, name)
				if !send(Up(name)) {
					return
				}
			}
		}
	}
}

// decodeKeys maps one read from a raw terminal to key names. Reads can
// coalesce several keys, so CSI and SS3 sequences (ESC followed by '[' or
// 'O', ending in a byte from 0x40 to 0x7E) are skipped wherever they occur.
// ESC counts as the escape key only when no such sequence follows it.
func decodeKeys(chunk []byte) []string {
	var names []string
	for i := 0; i < len(chunk); i++ {
		b := chunk[i]
		if b == 0x1B && i+1 < len(chunk) && (chunk[i+1] == '[' || chunk[i+1] == 'O') {
			i = skipSequence(chunk, i+2)
			continue
		}

		switch {
		case b == 0x03:
			names = append(names, InterruptKey)
		case b == 0x1B:
			names = append(names, "esc")
		case b == ' ':
			names = append(names, "space")
		case b > 0x20 && b < 0x7F:
			names = append(names, string(unicode.ToLower(rune(b))))
		}
	}

	return names
}

// skipSequence returns the index of the final byte of the sequence whose
// parameters start at from, or the last index when the chunk ends early.
func skipSequence(chunk []byte, from int) int {
	for j := from; j < len(chunk); j++ {
		if chunk[j] >= 0x40 && chunk[j] <= 0x7E {
			return j
		}
	}

	return len(chunk) - 1
}
