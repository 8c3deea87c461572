// Package kfmt implements the kernel's logging facilities. Log output is
// captured by an in-memory ring buffer until an output sink is attached via
// SetOutputSink.
package kfmt

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	// earlyBuf captures log output before a sink is attached.
	earlyBuf ringBuffer

	logger = newLogger()

	sinkMu sync.Mutex
)

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(&earlyBuf)
	l.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
		DisableColors:    true,
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetOutputSink flushes any buffered log output to w and then redirects all
// further output to w. Passing a nil writer re-enables early buffering.
func SetOutputSink(w io.Writer) {
	sinkMu.Lock()
	defer sinkMu.Unlock()

	if w == nil {
		earlyBuf.Reset()
		logger.SetOutput(&earlyBuf)
		return
	}

	_, _ = io.Copy(w, &earlyBuf)
	logger.SetOutput(w)
}

// SetLevel sets the minimum severity of emitted log entries. The level is
// one of the names understood by logrus (e.g. "debug", "info", "warn").
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}

	logger.SetLevel(lvl)
	return nil
}

// Log returns a log entry tagged with the supplied kernel module name.
func Log(module string) *logrus.Entry {
	return logger.WithField("module", module)
}
