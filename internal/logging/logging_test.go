package logging_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rhino11/formation/internal/logging"
	"github.com/rhino11/formation/internal/testutil"
)

func TestCacheEventLogsTargetAndVersion(t *testing.T) {
	buf := testutil.CaptureLogs(t)

	logging.CacheEvent("T1", "PUT", 42)

	out := buf.String()
	assert.Contains(t, out, "[CACHE]")
	assert.Contains(t, out, "target_id=T1")
	assert.Contains(t, out, "version=42")
}

func TestRecognitionRunLogsFormationCount(t *testing.T) {
	buf := testutil.CaptureLogs(t)

	logging.RecognitionRun("auto", 3, 120)

	out := buf.String()
	assert.Contains(t, out, "[RECOGNIZE]")
	assert.Contains(t, out, "formation_count=3")
	assert.Contains(t, out, "trigger=auto")
}

func TestWebRequestLogsStatusAndPath(t *testing.T) {
	buf := testutil.CaptureLogs(t)

	logging.WebRequest("GET", "/health", 200, 5)

	out := buf.String()
	assert.Contains(t, out, "[WEB-REQUEST]")
	assert.Contains(t, out, "path=/health")
	assert.Contains(t, out, "status=200")
}

func TestCaptureLogsRestoresPreviousOutputAfterCleanup(t *testing.T) {
	before := logging.Base().Out

	t.Run("inner", func(t *testing.T) {
		buf := testutil.CaptureLogs(t)
		logging.CacheEvent("T2", "PUT", 1)
		assert.NotEmpty(t, buf.String())
	})

	assert.Equal(t, before, logging.Base().Out)
}
