package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

// ConnectionError is returned when the serial port cannot be opened.
type ConnectionError struct {
	Port string
	Err  error
}

func (err ConnectionError) Error() string {
	return fmt.Sprintf("failed to open serial port %s: %v", err.Port, err.Err)
}

func (err ConnectionError) Unwrap() error {
	return err.Err
}

// IoError is returned when a single read or write on an open port fails.
type IoError struct {
	Op  string
	Err error
}

func (err IoError) Error() string {
	return fmt.Sprintf("serial %s failed: %v", err.Op, err.Err)
}

func (err IoError) Unwrap() error {
	return err.Err
}

// SerialConnection owns one port. The port must allow a Read and a Write to
// run concurrently from different goroutines: the reader loop only reads and
// the command path only writes. A *serial.Port satisfies this.
type SerialConnection struct {
	port    io.ReadWriteCloser
	reader  *bufio.Reader
	pending strings.Builder
	log     *logrus.Entry

	writeLock sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func OpenConnection(c *serial.Config, log *logrus.Entry) (s *SerialConnection, err error) {
	serialPort, err := serial.OpenPort(c)
	if err != nil {
		return nil, ConnectionError{Port: c.Name, Err: err}
	}

	log.WithField("port", c.Name).Infof("Serial port open at %d baud", c.Baud)
	return NewSerialConnection(serialPort, log), nil
}

func NewSerialConnection(port io.ReadWriteCloser, log *logrus.Entry) *SerialConnection {
	return &SerialConnection{
		port:   port,
		reader: bufio.NewReader(port),
		log:    log,
	}
}

func (sc *SerialConnection) WriteCommand(cmd Command) error {
	sc.writeLock.Lock()
	defer sc.writeLock.Unlock()

	_, err := io.WriteString(sc.port, string(cmd))
	if err != nil {
		return IoError{Op: "write", Err: err}
	}

	sc.log.Debugf("Sent: %s", cmd.Token())
	return nil
}

// ReadLine returns the next complete line without its terminator. ok is false
// when the read timed out before a full line arrived; partial data is kept
// for the next call. Only the reader loop may call it.
func (sc *SerialConnection) ReadLine() (line string, ok bool, err error) {
	chunk, err := sc.reader.ReadString('\n')
	sc.pending.WriteString(chunk)
	if err != nil {
		// tarm/serial reports an expired read timeout as EOF.
		if errors.Is(err, io.EOF) {
			return "", false, nil
		}

		return "", false, IoError{Op: "read", Err: err}
	}

	line = strings.TrimRight(sc.pending.String(), "\r\n")
	sc.pending.Reset()
	return line, true, nil
}

// Listen drains the port until ctx is cancelled or a read fails. Each line is
// logged and then passed to callback, which may be nil.
func (sc *SerialConnection) Listen(ctx context.Context, callback func(line string)) (err error) {
	for {
		if ctx.Err() != nil {
			return nil
		}

		line, ok, err := sc.ReadLine()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return err
		}

		if !ok {
			continue
		}

		sc.log.Infof("Received: %s", line)
		if callback != nil {
			callback(line)
		}
	}
}

func (sc *SerialConnection) Close() error {
	sc.closeOnce.Do(func() {
		sc.closeErr = sc.port.Close()
		sc.log.Info("Serial port closed")
	})

	return sc.closeErr
}
