package backup

import (
	"bytes"
	"testing"

	"github.com/cavaliba/backupconf/internal/logging"
	"github.com/cavaliba/backupconf/internal/types"
)

func newTestLogger(t *testing.T) (*logging.Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	logger := logging.New(types.LogLevelDebug, false)
	logger.SetOutput(buf)
	return logger, buf
}
