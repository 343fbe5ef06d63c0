package delivery

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Exporter writes the accumulated closure log as a markdown file. Unlike
// the senders it always renders the full buffer, so the file on disk is a
// complete record rather than the latest batch.
type Exporter struct {
	// Path is the destination file. Parent directories are created.
	Path string
}

// NewExporter returns an Exporter writing to path.
func NewExporter(path string) *Exporter {
	return &Exporter{Path: path}
}

// Write renders the full closure log and replaces the file at Path.
// Closures are expected oldest first.
func (e *Exporter) Write(log []Closure) error {
	if e.Path == "" {
		return fmt.Errorf("delivery: export path not configured")
	}
	if err := os.MkdirAll(filepath.Dir(e.Path), 0o755); err != nil {
		return fmt.Errorf("delivery: export dir: %w", err)
	}

	tmp := e.Path + ".tmp"
	if err := os.WriteFile(tmp, []byte(renderMarkdown(log)), 0o644); err != nil {
		return fmt.Errorf("delivery: write export: %w", err)
	}
	if err := os.Rename(tmp, e.Path); err != nil {
		return fmt.Errorf("delivery: replace export: %w", err)
	}
	return nil
}

func renderMarkdown(log []Closure) string {
	var b strings.Builder
	b.WriteString("# Closed tab log\n\n")
	if len(log) == 0 {
		b.WriteString("No tabs closed yet.\n")
		return b.String()
	}
	fmt.Fprintf(&b, "%d tab(s) closed.\n\n", len(log))
	for _, c := range log {
		title := c.Title
		if title == "" {
			title = c.URL
		}
		fmt.Fprintf(&b, "- [%s](%s) closed %s\n",
			escapeMarkdown(title), c.URL, c.ClosedAt.Format(time.RFC3339))
	}
	return b.String()
}

// escapeMarkdown neutralises link-breaking characters in titles.
func escapeMarkdown(s string) string {
	r := strings.NewReplacer("[", "\\[", "]", "\\]", "(", "\\(", ")", "\\)")
	return r.Replace(s)
}
