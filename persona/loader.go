package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mykhaliev/agent-eval/logger"
	"gopkg.in/yaml.v3"
)

const (
	frontmatterDelim = "---"
	MaxNameLength    = 64
	MaxDescLength    = 1024
)

// Metadata is the YAML frontmatter of a persona file.
type Metadata struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Goal        string   `yaml:"goal,omitempty"`
	Tone        string   `yaml:"tone,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`
}

// File is a persona document loaded from disk: YAML frontmatter plus a
// Markdown body used as the system prompt template.
type File struct {
	Path     string
	Metadata Metadata
	Body     string
}

// Load reads and validates a persona file. The file must start with a YAML
// frontmatter block delimited by "---" lines.
func Load(path string) (*File, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve persona path: %w", err)
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read persona file: %w", err)
	}

	meta, body, err := splitFrontmatter(string(raw))
	if err != nil {
		return nil, fmt.Errorf("persona file %s: %w", absPath, err)
	}

	if err := validateMetadata(meta); err != nil {
		return nil, fmt.Errorf("persona file %s: %w", absPath, err)
	}

	logger.Logger.Debug("Persona loaded", "name", meta.Name, "path", absPath)

	return &File{
		Path:     absPath,
		Metadata: meta,
		Body:     strings.TrimSpace(body),
	}, nil
}

func splitFrontmatter(content string) (Metadata, string, error) {
	var meta Metadata

	trimmed := strings.TrimLeft(content, "\uFEFF\n\r ")
	if !strings.HasPrefix(trimmed, frontmatterDelim) {
		return meta, "", fmt.Errorf("missing frontmatter: file must start with %q", frontmatterDelim)
	}

	rest := strings.TrimPrefix(trimmed, frontmatterDelim)
	idx := strings.Index(rest, "\n"+frontmatterDelim)
	if idx < 0 {
		return meta, "", fmt.Errorf("unterminated frontmatter block")
	}

	front := rest[:idx]
	body := rest[idx+len("\n"+frontmatterDelim):]
	// Skip the remainder of the closing delimiter line.
	if nl := strings.Index(body, "\n"); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = ""
	}

	if err := yaml.Unmarshal([]byte(front), &meta); err != nil {
		return meta, "", fmt.Errorf("invalid frontmatter YAML: %w", err)
	}
	return meta, body, nil
}

func validateMetadata(meta Metadata) error {
	if meta.Name == "" {
		return fmt.Errorf("frontmatter is missing name")
	}
	if len(meta.Name) > MaxNameLength {
		return fmt.Errorf("name exceeds %d characters", MaxNameLength)
	}
	if len(meta.Description) > MaxDescLength {
		return fmt.Errorf("description exceeds %d characters", MaxDescLength)
	}
	return nil
}
