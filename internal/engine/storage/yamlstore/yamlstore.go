// Package yamlstore reads content definitions from a directory of YAML
// files, one document per file, for file-based authoring workflows.
package yamlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roguebench/roguebench/internal/engine/content"
)

// Store reads *.yaml and *.yml files from a directory. Documents are
// converted to JSON so downstream decoding is format-agnostic.
type Store struct {
	dir string
}

// New creates a store over dir. The directory must exist.
func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("directory is required")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat content directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	return &Store{dir: dir}, nil
}

// IDFromPath returns the record id a file would load under: the document's
// id field when present, otherwise the file name without extension.
func IDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// LoadAll reads every YAML document in the directory, ordered by file name.
func (s *Store) LoadAll(ctx context.Context) ([]content.Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read content directory: %w", err)
	}

	var records []content.Record
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		rec, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func loadFile(path string) (content.Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return content.Record{}, fmt.Errorf("read %s: %w", path, err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return content.Record{}, fmt.Errorf("parse %s: %w", path, err)
	}

	id := IDFromPath(path)
	if docID, ok := doc["id"].(string); ok && docID != "" {
		id = docID
	}
	name, _ := doc["name"].(string)

	data, err := json.Marshal(doc)
	if err != nil {
		return content.Record{}, fmt.Errorf("convert %s to JSON: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return content.Record{}, fmt.Errorf("stat %s: %w", path, err)
	}

	return content.Record{
		ID:        id,
		Name:      name,
		Kind:      "state_machine",
		Data:      data,
		Version:   info.ModTime().UnixMilli(),
		UpdatedAt: info.ModTime().UTC(),
	}, nil
}
