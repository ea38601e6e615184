package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/aristath/gstdesign/internal/modules/selection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--log-level", "disabled"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestGateSets(t *testing.T) {
	out, err := execute(t, "gatesets")
	require.NoError(t, err)
	assert.Contains(t, out, "std1Q_XYI")
	assert.Contains(t, out, "non-gauge=25")
}

func TestFiducials_MeasJSON(t *testing.T) {
	out, err := execute(t, "fiducials", "--role", "meas", "-o", "json", "--workers", "2")
	require.NoError(t, err)

	var res selection.FiducialResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Complete)
	assert.GreaterOrEqual(t, len(res.Fiducials), 3)
}

func TestFiducials_RejectsGermRole(t *testing.T) {
	_, err := execute(t, "fiducials", "--role", "germ")
	assert.Error(t, err)
}

func TestGerms_ConfigFileModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model:
  name: idle
  gates:
    - label: Gi
germs:
  candidate_length_schedule: 1
  perturbation_strength: 0
`), 0o644))

	out, err := execute(t, "germs", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "germs (1,")
	assert.Contains(t, out, "Gi")
}

func TestConfigFile_UnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("modle: {}\n"), 0o644))

	_, err := execute(t, "germs", "--config", path)
	assert.Error(t, err)
}

func TestUnknownOption(t *testing.T) {
	_, err := execute(t, "fiducials", "--set", "bogus=1")
	require.Error(t, err)
	assert.ErrorIs(t, err, selection.ErrUnknownOption)
}

func TestSetOverride(t *testing.T) {
	out, err := execute(t, "fiducials", "--role", "prep", "--set", "candidate_length_schedule=1")
	require.NoError(t, err)
	assert.Contains(t, out, "FAILED pool_insufficient")
}

func TestSaveAndListRuns(t *testing.T) {
	t.Setenv("GST_DATA_DIR", t.TempDir())

	_, err := execute(t, "fiducials", "--role", "meas", "--save")
	require.NoError(t, err)

	out, err := execute(t, "runs", "-o", "json")
	require.NoError(t, err)
	var list []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "fiducials", list[0]["kind"])
	assert.Equal(t, "std1Q_XYI", list[0]["gate_set"])
}
