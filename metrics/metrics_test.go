package metrics

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memLogger struct {
	infos []*StepInfo
}

func (l *memLogger) Log(info *StepInfo) {
	l.infos = append(l.infos, info)
}

func TestCollector(t *testing.T) {
	logger := &memLogger{}
	c := NewCollector(logger, "run-1", "postproc", "impedance_study")
	c.Count("processed", 2)
	c.Count("failed", 1)
	c.Count("processed", 1)
	c.Finish(errors.New("1 file failed"))

	require.Len(t, logger.infos, 1)
	info := logger.infos[0]
	assert.Equal(t, "run-1", info.RunID)
	assert.Equal(t, map[string]int{"processed": 3, "failed": 1}, info.Counts)
	assert.Equal(t, "1 file failed", info.Error)
	assert.Equal(t, []string{"failed", "processed"}, c.CountNames())

	out, err := info.ToJSON()
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "postproc", decoded["step"])
	assert.Equal(t, "impedance_study", decoded["case_study"])
}

func TestFileLoggerRotation(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "metrics")
	logger, err := NewFileLogger(dir, 10, 2, false)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		logger.Log(&StepInfo{RunID: "run", Step: "fetch"})
	}
	logger.Close()

	current, err := os.ReadFile(filepath.Join(dir, "metrics.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(current), "\n"))
	assert.FileExists(t, filepath.Join(dir, "metrics.jsonl.0"))
	assert.FileExists(t, filepath.Join(dir, "metrics.jsonl.1"))
	assert.NoFileExists(t, filepath.Join(dir, "metrics.jsonl.2"))
}
