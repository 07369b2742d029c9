// Package testutil provides small helpers shared across the module's
// package tests.
package testutil

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/rhino11/formation/internal/logging"
)

// CaptureLogs redirects the shared logging.Base() logger to an in-memory
// buffer for the duration of t, restoring its previous output and level on
// cleanup. Lets a test assert on the bracket-tagged log lines
// (logging.CacheEvent, logging.RecognitionRun, ...) instead of only
// exercising them for side effects.
func CaptureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()

	logger := logging.Base()
	prevOut := logger.Out
	prevLevel := logger.Level

	buf := &bytes.Buffer{}
	logger.SetOutput(buf)
	logger.SetLevel(logrus.DebugLevel)

	t.Cleanup(func() {
		logger.SetOutput(prevOut)
		logger.SetLevel(prevLevel)
	})

	return buf
}
