package main

import (
	"bytes"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

const timestampFormat = "2006-01-02T15:04:05.999Z"

type utcFormatter struct {
	logrus.Formatter
}

func (f utcFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	entry.Time = entry.Time.UTC()
	return f.Formatter.Format(entry)
}

// writerHook sends entries at or above a minimum level to one writer, which
// lets the console and the log file run at different levels.
type writerHook struct {
	lock      sync.Mutex
	writer    io.Writer
	levels    []logrus.Level
	formatter logrus.Formatter
}

func newWriterHook(writer io.Writer, minLevel logrus.Level, formatter logrus.Formatter) *writerHook {
	return &writerHook{
		writer:    writer,
		levels:    logrus.AllLevels[:minLevel+1],
		formatter: formatter,
	}
}

func (h *writerHook) Levels() []logrus.Level {
	return h.levels
}

func (h *writerHook) Fire(entry *logrus.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}

	h.lock.Lock()
	defer h.lock.Unlock()
	_, err = h.writer.Write(line)
	return err
}

// ConsoleWriter restores the carriage return that a terminal in raw mode no
// longer adds before each newline.
type ConsoleWriter struct {
	out io.Writer
	raw atomic.Bool
}

func NewConsoleWriter(out io.Writer) *ConsoleWriter {
	return &ConsoleWriter{out: out}
}

func (c *ConsoleWriter) SetRaw(raw bool) {
	c.raw.Store(raw)
}

func (c *ConsoleWriter) Write(p []byte) (int, error) {
	if !c.raw.Load() {
		return c.out.Write(p)
	}

	var buf bytes.Buffer
	buf.Grow(len(p) + 8)
	for i, b := range p {
		if b == '\n' && (i == 0 || p[i-1] != '\r') {
			buf.WriteByte('\r')
		}
		buf.WriteByte(b)
	}

	_, err := c.out.Write(buf.Bytes())
	if err != nil {
		return 0, err
	}

	return len(p), nil
}

func newFormatter() logrus.Formatter {
	return utcFormatter{&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: timestampFormat,
	}}
}

// NewLogger logs to the console at info, or debug when verbose is set, and
// everything at debug to file. file may be nil.
func NewLogger(console io.Writer, file io.Writer, verbose bool, session string) *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel)

	consoleLevel := logrus.InfoLevel
	if verbose {
		consoleLevel = logrus.DebugLevel
	}

	logger.AddHook(newWriterHook(console, consoleLevel, newFormatter()))
	if file != nil {
		logger.AddHook(newWriterHook(file, logrus.DebugLevel, newFormatter()))
	}

	return logger.WithField("session", session)
}

func OpenLogFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}
