package romlog_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/retrohack/rompatch/romlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesSingleLine(t *testing.T) {
	var buf bytes.Buffer
	logger := romlog.New(&buf)

	logger.Errorf("patch rejected: %s", "bad magic")

	assert.Contains(t, buf.String(), "patch rejected: bad magic")
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("\n")))
}

func TestLevelsUseDistinctPrefixes(t *testing.T) {
	var buf bytes.Buffer
	logger := romlog.New(&buf)

	logger.Infof("starting")
	logger.Warnf("retrying")
	logger.Errorf("failed")

	out := buf.String()
	assert.Contains(t, out, "starting")
	assert.Contains(t, out, "retrying")
	assert.Contains(t, out, "failed")

	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 3)
	prefixes := map[string]bool{}
	for _, line := range lines {
		prefixes[strings.SplitN(line, " ", 2)[0]] = true
	}
	assert.Len(t, prefixes, 3)
}
