package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Valid(t *testing.T) {
	out, err := executeCommand(t, "validate", filepath.Join("testdata", "specs"))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ 2 callback(s) valid")
	assert.Contains(t, out, "graph ")
}

func TestValidate_ValidJSON(t *testing.T) {
	out, err := executeCommand(t, "--format", "json", "validate", filepath.Join("testdata", "specs", "chain.cue"))
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 2, resp.Data.Callbacks)
	assert.Len(t, resp.Data.GraphHash, 64)
}

func TestValidate_DuplicateOutput(t *testing.T) {
	out, err := executeCommand(t, "validate", filepath.Join("testdata", "invalid"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, "E203")
}

func TestValidate_Cycle(t *testing.T) {
	out, err := executeCommand(t, "--format", "json", "validate", filepath.Join("testdata", "cycle"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  CLIError         `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeCycle, resp.Error.Code)
	assert.NotEmpty(t, resp.Data.Cycle)
}

func TestValidate_MissingPath(t *testing.T) {
	_, err := executeCommand(t, "validate", filepath.Join("testdata", "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidate_NoCUEFiles(t *testing.T) {
	out, err := executeCommand(t, "validate", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNoFiles)
}
