package knowledge

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LoadDir indexes every .md and .txt file under dir. Files directly in dir
// go to the default corpus; files in a sub-directory go to a corpus named
// after that sub-directory. The first markdown heading, when present, is
// the title. It returns the number of documents indexed.
func LoadDir(ctx context.Context, s Store, dir string) (int, error) {
	n := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".md" && ext != ".txt" {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		corpus := DefaultCorpus
		if parts := strings.Split(filepath.ToSlash(rel), "/"); len(parts) > 1 {
			corpus = parts[0]
		}

		body, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("knowledge: read %s: %w", rel, err)
		}
		content := strings.TrimSpace(string(body))
		if content == "" {
			return nil
		}
		doc := Document{
			ID:      strings.TrimSuffix(filepath.ToSlash(rel), filepath.Ext(rel)),
			Title:   title(content),
			Content: content,
			Source:  filepath.ToSlash(rel),
		}
		if err := s.Index(ctx, corpus, doc); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}

func title(content string) string {
	first, _, _ := strings.Cut(content, "\n")
	if h, ok := strings.CutPrefix(strings.TrimSpace(first), "#"); ok {
		return strings.TrimSpace(strings.TrimLeft(h, "#"))
	}
	return ""
}
