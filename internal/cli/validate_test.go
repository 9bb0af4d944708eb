package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeValidate(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func writeScenarios(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return dir
}

func TestValidateShippedScenarios(t *testing.T) {
	dir := filepath.Join("..", "..", "scenarios")

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		t.Skip("scenarios directory not found")
	}

	out, err := executeValidate(t, "text", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "scenarios valid")
}

func TestValidateValidScenariosJSON(t *testing.T) {
	dir := writeScenarios(t, map[string]string{
		"api/health.yaml":      healthScenario,
		"api/wrong_login.yaml": wrongLoginScenario,
	})

	out, err := executeValidate(t, "json", dir)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 2, resp.Data.FileCount)
	assert.Equal(t, []string{"health_ok", "login_rejects_wrong_password"}, resp.Data.Scenarios)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	dir := writeScenarios(t, map[string]string{
		"a_unknown_field.yaml": "name: a\nsteps:\n  - action: request\n    path: /health\n    retries: 3\n",
		"b_no_steps.yaml":      "name: b\nsteps: []\n",
		"c_health.yaml":        healthScenario,
		"d_duplicate.yaml":     healthScenario,
		"notes.txt":            "ignored",
	})

	out, err := executeValidate(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "3 error(s)")

	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, "a_unknown_field.yaml")
	assert.Contains(t, out, "b_no_steps.yaml")
	assert.Contains(t, out, ErrCodeDuplicateName)
	assert.NotContains(t, out, "notes.txt")
}

func TestValidateErrorsJSON(t *testing.T) {
	dir := writeScenarios(t, map[string]string{
		"broken.yaml": "name: broken\nsteps:\n  - action: teleport\n",
	})

	out, err := executeValidate(t, "json", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidScenario, resp.Error.Code)
}

func TestValidateNonExistentDirectory(t *testing.T) {
	out, err := executeValidate(t, "text", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNotFound)
}

func TestValidateEmptyDirectory(t *testing.T) {
	_, err := executeValidate(t, "text", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNoFiles)
}

func TestLoadScenarios_Selection(t *testing.T) {
	dir := writeScenarios(t, map[string]string{
		"health.yaml":      healthScenario,
		"wrong_login.yaml": wrongLoginScenario,
	})

	tests := []struct {
		name string
		sel  Selection
		want []string
	}{
		{"everything", Selection{}, []string{"health_ok", "login_rejects_wrong_password"}},
		{"glob", Selection{Filter: "login_*"}, []string{"login_rejects_wrong_password"}},
		{"tag", Selection{Tags: []string{"smoke"}}, []string{"health_ok"}},
		{"any tag", Selection{Tags: []string{"auth", "smoke"}}, []string{"health_ok", "login_rejects_wrong_password"}},
		{"glob and tag", Selection{Filter: "health*", Tags: []string{"auth"}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, errs := LoadScenarios([]string{dir}, LoadModeFailFast, tt.sel)
			require.Empty(t, errs)
			var names []string
			for _, sc := range res.Scenarios {
				names = append(names, sc.Name)
			}
			assert.Equal(t, tt.want, names)
			assert.Equal(t, 2, res.FileCount)
		})
	}

	_, errs := LoadScenarios([]string{dir}, LoadModeFailFast, Selection{Filter: "["})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "invalid filter")
}

func TestLoadScenarios_SingleFile(t *testing.T) {
	dir := writeScenarios(t, map[string]string{"health.yaml": healthScenario})

	res, errs := LoadScenarios([]string{filepath.Join(dir, "health.yaml")}, LoadModeFailFast, Selection{})
	require.Empty(t, errs)
	require.Len(t, res.Scenarios, 1)
	assert.Equal(t, filepath.Join(dir, "health.yaml"), res.Scenarios[0].Source)
}
