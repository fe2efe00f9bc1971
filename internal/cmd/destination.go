package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/daniel-caso-github/users-insights/internal/output"
)

// stdoutPath is reported for output that went to the terminal.
const stdoutPath = "-"

// destination is where a command writes its rendered output. An empty path
// means stdout.
type destination struct {
	format output.Format
	path   string
}

// resolveDestination reads --output-format, --out and --out-dir from cmd.
// With --out-dir the file is named <stem>.<ext> inside that directory. When
// allowed is non-empty the format must be one of them.
func resolveDestination(cmd *cobra.Command, stem string, allowed ...output.Format) (destination, error) {
	raw, err := cmd.Flags().GetString("output-format")
	if err != nil {
		return destination{}, err
	}
	format, err := output.ParseFormat(raw)
	if err != nil {
		return destination{}, err
	}
	if len(allowed) > 0 && !formatAllowed(format, allowed) {
		return destination{}, fmt.Errorf("unsupported output format for %s: %s", cmd.Name(), format)
	}

	out := flagValue(cmd, "out")
	dir := flagValue(cmd, "out-dir")
	switch {
	case out != "" && dir != "":
		return destination{}, fmt.Errorf("--out and --out-dir are mutually exclusive")
	case dir != "":
		out = filepath.Join(dir, fileStem(stem)+"."+extensionFor(format))
	case out == stdoutPath:
		out = ""
	}
	return destination{format: format, path: out}, nil
}

// write puts rendered on the destination followed by a single newline and
// returns the path written ("-" for stdout). Blank output writes nothing.
func (d destination) write(rendered string) (string, error) {
	body := strings.TrimRight(rendered, "\n")
	if d.path == "" {
		if strings.TrimSpace(body) == "" {
			return stdoutPath, nil
		}
		_, err := fmt.Fprintln(os.Stdout, body)
		return stdoutPath, err
	}

	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	if strings.TrimSpace(body) != "" {
		body += "\n"
	}
	if err := os.WriteFile(d.path, []byte(body), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", d.path, err)
	}
	if abs, err := filepath.Abs(d.path); err == nil {
		return abs, nil
	}
	return d.path, nil
}

// flagValue returns a trimmed string flag, or "" when cmd does not define it.
func flagValue(cmd *cobra.Command, name string) string {
	if cmd.Flags().Lookup(name) == nil {
		return ""
	}
	value, _ := cmd.Flags().GetString(name)
	return strings.TrimSpace(value)
}

func formatAllowed(format output.Format, allowed []output.Format) bool {
	for _, candidate := range allowed {
		if candidate == format {
			return true
		}
	}
	return false
}

func extensionFor(format output.Format) string {
	switch format {
	case output.FormatJSON:
		return "json"
	case output.FormatMarkdown:
		return "md"
	case output.FormatYAML:
		return "yaml"
	default:
		return "txt"
	}
}

var unsafeStemChars = regexp.MustCompile(`[^a-z0-9._-]+`)

// fileStem lowercases stem and folds anything outside [a-z0-9._-] into "-".
// GitHub logins are case-insensitive so "Octocat" and "octocat" share a file.
func fileStem(stem string) string {
	clean := unsafeStemChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(stem)), "-")
	clean = strings.Trim(clean, "-.")
	if clean == "" {
		return "output"
	}
	return clean
}
