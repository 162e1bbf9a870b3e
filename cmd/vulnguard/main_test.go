package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/vulnguard/internal/domain/rules"
	domain "github.com/ahrav/vulnguard/internal/domain/scanning"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), err
}

func TestRunRules(t *testing.T) {
	t.Parallel()

	out, err := runCmd(t, "rules", "-category", "injection", "-cache", "none")
	require.NoError(t, err)

	var list []rules.Rule
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	ids := make([]string, 0, len(list))
	for _, r := range list {
		assert.Equal(t, "injection", r.Category)
		ids = append(ids, r.ID)
	}
	assert.Contains(t, ids, "command-injection")
}

func TestRunScan(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "ping.py"),
		[]byte("import os\n\ndef ping(host):\n    os.system(f\"ping -c 1 {host}\")\n"), 0o644))

	out, err := runCmd(t, "scan", "-rules", "command-injection", "-fail-on", "high", root)
	assert.ErrorIs(t, err, errFindings)

	var res domain.ScanResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Findings, 1)
	assert.Equal(t, "command-injection", res.Findings[0].RuleID)
	assert.Equal(t, "ping.py", res.Findings[0].Path)
	assert.Equal(t, 4, res.Findings[0].Line)

	_, err = runCmd(t, "scan", "-rules", "sql-injection", "-fail-on", "high", root)
	assert.NoError(t, err)
}

func TestRunValidate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	original := filepath.Join(dir, "before.py")
	fixed := filepath.Join(dir, "after.py")
	require.NoError(t, os.WriteFile(original, []byte("os.system(f\"ping -c 1 {host}\")\n"), 0o644))
	require.NoError(t, os.WriteFile(fixed, []byte("subprocess.run([\"ping\", \"-c\", \"1\", host], check=True)\n"), 0o644))

	out, err := runCmd(t, "validate", "-cache", "none", "-rule", "command-injection", "-original", original, "-fixed", fixed)
	require.NoError(t, err)

	var res domain.ValidationResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Fixed)
}

func TestRunUsageErrors(t *testing.T) {
	t.Parallel()

	tests := [][]string{
		nil,
		{"explode"},
		{"validate", "-rule", "command-injection"},
		{"scan", "-severity", "urgent", "."},
		{"scan", "a", "b"},
	}
	for _, args := range tests {
		_, err := runCmd(t, args...)
		assert.Error(t, err, "%v", args)
	}
}
