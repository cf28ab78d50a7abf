package rules

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/alarm-pipeline/internal/config"
	"github.com/oshokin/alarm-pipeline/internal/domain/rule"
)

// FileRepository persists rules to a YAML document on disk.
type FileRepository struct {
	// path is the filesystem location of the rule file.
	path string
	// mu protects concurrent access to the rule file.
	mu sync.Mutex
}

// document is the top-level layout of a rule file.
type document struct {
	Rules []rule.Rule `yaml:"rules"`
}

// NewFileRepository creates a repository that reads/writes YAML at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Path returns the rule file location.
func (r *FileRepository) Path() string {
	return r.path
}

// Load reads the rules from disk.
func (r *FileRepository) Load(_ context.Context) ([]rule.Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read rule file: %w", err)
	}

	var doc document
	if err = yaml.Unmarshal(contents, &doc); err != nil {
		return nil, fmt.Errorf("decode rule file: %w", err)
	}

	return doc.Rules, nil
}

// Save writes the rules to disk.
func (r *FileRepository) Save(_ context.Context, rules []rule.Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := yaml.Marshal(document{Rules: rules})
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}

	if err = os.WriteFile(r.path, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write rule file: %w", err)
	}

	return nil
}
