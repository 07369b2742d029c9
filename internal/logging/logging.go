// Package logging centralizes the bracket-tagged logging helpers used across
// the recognition stack, backed by logrus instead of bare fmt.Printf.
package logging

import (
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	once   sync.Once
	logger *logrus.Logger
)

// isTestMode mirrors the donor's own detection: suppress noisy output unless
// the caller opts back in with VERBOSE_TESTS=1.
func isTestMode() bool {
	return strings.Contains(os.Args[0], ".test") ||
		strings.HasSuffix(os.Args[0], "/test") ||
		os.Getenv("GO_TESTING") == "1"
}

// Base returns the shared process-wide logger, initialized once.
func Base() *logrus.Logger {
	once.Do(func() {
		logger = logrus.New()
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		logger.SetLevel(logrus.InfoLevel)
		if isTestMode() && os.Getenv("VERBOSE_TESTS") != "1" {
			logger.SetLevel(logrus.ErrorLevel)
		}
	})
	return logger
}

// For returns a component-scoped entry, e.g. logging.For("cache").
func For(component string) *logrus.Entry {
	return Base().WithField("component", component)
}

// CacheEvent logs a target-cache put/delete outcome.
func CacheEvent(targetID string, kind string, version int64) {
	For("cache").WithFields(logrus.Fields{
		"target_id": targetID,
		"kind":      kind,
		"version":   version,
	}).Debug("[CACHE] target state updated")
}

// RecognitionRun logs a completed recognition pass.
func RecognitionRun(trigger string, formationCount int, durationMS int64) {
	For("recognition").WithFields(logrus.Fields{
		"trigger":         trigger,
		"formation_count": formationCount,
		"duration_ms":     durationMS,
	}).Info("[RECOGNIZE] run complete")
}

// RecognitionError logs a failed recognition pass that will be retried.
func RecognitionError(err error, pendingCount int) {
	For("recognition").WithFields(logrus.Fields{
		"pending_count": pendingCount,
		"error":         err,
	}).Error("[RECOGNIZE-ERROR] run failed, pending ids restored")
}

// WebRequest logs an inbound HTTP request, matching the donor's logWebRequest helper.
func WebRequest(method, path string, status int, durationMS int64) {
	For("http").WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status":      status,
		"duration_ms": durationMS,
	}).Info("[WEB-REQUEST]")
}

// WebSocketEvent logs a websocket lifecycle event (connect/disconnect/send failure).
func WebSocketEvent(clientID, event string) {
	For("ws").WithFields(logrus.Fields{
		"client_id": clientID,
		"event":     event,
	}).Info("[WEBSOCKET]")
}

// SchedulerEvent logs a cleanup-scheduler job run.
func SchedulerEvent(job string, stats map[string]int) {
	For("scheduler").WithFields(logrus.Fields{
		"job":   job,
		"stats": stats,
	}).Info("[SCHEDULER]")
}
