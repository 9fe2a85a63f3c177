// Package testlogger builds Loggers for tests, routing every log line
// through the test's own t.Log so output is attributed to the test that
// emitted it and stays hidden for passing tests unless -v is set.
package testlogger

import (
	"bytes"
	"os"
	"testing"

	"github.com/dashpay/llmq/log"
)

// tbWriter adapts testing.TB to the io.Writer log.New consumes.
type tbWriter struct {
	t testing.TB
}

func (w tbWriter) Write(p []byte) (int, error) {
	w.t.Log(string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}

// Level returns the level test loggers run at: debug when LLMQ_TEST_LOGS is
// set to DEBUG, info otherwise.
func Level(t testing.TB) int {
	if v, ok := os.LookupEnv("LLMQ_TEST_LOGS"); ok && v == "DEBUG" {
		t.Log("enabling debug level logs")
		return log.DebugLevel
	}
	return log.InfoLevel
}

// New returns a logger for the current test, tagged with the test's name.
func New(t testing.TB) log.Logger {
	return log.New(tbWriter{t: t}, Level(t), true).
		With("test", t.Name())
}
