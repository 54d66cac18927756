package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCollectIngestInputs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	if err := os.WriteFile(path, []byte("file content"), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	t.Run("stdin document", func(t *testing.T) {
		ingestTitle = "Pasted notes"
		defer func() { ingestTitle = "" }()

		inputs, err := collectIngestInputs([]string{"-"}, strings.NewReader("piped content"))
		if err != nil {
			t.Fatalf("collectIngestInputs: %v", err)
		}
		if len(inputs) != 1 {
			t.Fatalf("expected 1 input, got %d", len(inputs))
		}
		if inputs[0].Content != "piped content" {
			t.Errorf("content = %q", inputs[0].Content)
		}
		if inputs[0].Title != "Pasted notes" {
			t.Errorf("title = %q", inputs[0].Title)
		}
		if inputs[0].SourceURI != "" {
			t.Errorf("expected empty source URI for stdin, got %q", inputs[0].SourceURI)
		}
	})

	t.Run("stdin default title", func(t *testing.T) {
		inputs, err := collectIngestInputs([]string{"-"}, strings.NewReader("x"))
		if err != nil {
			t.Fatalf("collectIngestInputs: %v", err)
		}
		if inputs[0].Title != "stdin" {
			t.Errorf("title = %q", inputs[0].Title)
		}
	})

	t.Run("file and stdin mixed", func(t *testing.T) {
		inputs, err := collectIngestInputs([]string{path, "-"}, strings.NewReader("piped"))
		if err != nil {
			t.Fatalf("collectIngestInputs: %v", err)
		}
		if len(inputs) != 2 {
			t.Fatalf("expected 2 inputs, got %d", len(inputs))
		}
		if inputs[0].Title != "notes.md" || inputs[0].Content != "file content" {
			t.Errorf("file input = %+v", inputs[0])
		}
		if inputs[1].Content != "piped" {
			t.Errorf("stdin input = %+v", inputs[1])
		}
	})

	t.Run("stdin at most once", func(t *testing.T) {
		if _, err := collectIngestInputs([]string{"-", "-"}, strings.NewReader("x")); err == nil {
			t.Fatal("expected error for repeated stdin argument")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := collectIngestInputs([]string{filepath.Join(dir, "absent.md")}, strings.NewReader("")); err == nil {
			t.Fatal("expected error for missing file")
		}
	})
}
