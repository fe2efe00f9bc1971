package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daniel-caso-github/users-insights/internal/output"
)

func outputCommand(t *testing.T, withDir bool, values map[string]string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "insights"}
	cmd.Flags().String("output-format", string(output.FormatTable), "")
	cmd.Flags().String("out", "", "")
	if withDir {
		cmd.Flags().String("out-dir", "", "")
	}
	for name, value := range values {
		require.NoError(t, cmd.Flags().Set(name, value))
	}
	return cmd
}

func TestResolveDestinationOutDir(t *testing.T) {
	dir := t.TempDir()
	cmd := outputCommand(t, true, map[string]string{"output-format": "md", "out-dir": dir})

	dest, err := resolveDestination(cmd, "Octo Cat.insights")
	require.NoError(t, err)
	assert.Equal(t, output.FormatMarkdown, dest.format)
	assert.Equal(t, filepath.Join(dir, "octo-cat.insights.md"), dest.path)
}

func TestResolveDestinationRejectsOutAndOutDir(t *testing.T) {
	cmd := outputCommand(t, true, map[string]string{"out": "a.json", "out-dir": t.TempDir()})
	_, err := resolveDestination(cmd, "x")
	assert.ErrorContains(t, err, "mutually exclusive")
}

func TestResolveDestinationWithoutOutDirFlag(t *testing.T) {
	cmd := outputCommand(t, false, map[string]string{"out": "-"})
	dest, err := resolveDestination(cmd, "batch.insights")
	require.NoError(t, err)
	assert.Empty(t, dest.path, "dash means stdout")
}

func TestResolveDestinationAllowedFormats(t *testing.T) {
	cmd := outputCommand(t, true, map[string]string{"output-format": "yaml"})
	_, err := resolveDestination(cmd, "rate-limit.list", output.FormatTable, output.FormatJSON)
	assert.ErrorContains(t, err, "unsupported output format for insights: yaml")

	cmd = outputCommand(t, true, map[string]string{"output-format": "JSON"})
	dest, err := resolveDestination(cmd, "rate-limit.list", output.FormatTable, output.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, output.FormatJSON, dest.format)
}

func TestDestinationWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "report.json")
	dest := destination{format: output.FormatJSON, path: path}

	written, err := dest.write("{\"login\":\"octocat\"}\n\n")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(written))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"login\":\"octocat\"}\n", string(data))
}

func TestDestinationWriteBlankFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.txt")
	_, err := destination{path: path}.write("\n")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestFileStem(t *testing.T) {
	cases := map[string]string{
		"octocat":          "octocat",
		"  Octocat ":       "octocat",
		"dependabot[bot]":  "dependabot-bot",
		"../etc/passwd":    "etc-passwd",
		"---":              "output",
		"rate-limit.reset": "rate-limit.reset",
	}
	for in, want := range cases {
		assert.Equal(t, want, fileStem(in), "fileStem(%q)", in)
	}
}
