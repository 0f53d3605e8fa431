package jobs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/drover/internal/models"
)

// Batch spec document formats
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatTOML = "toml"
)

// FormatFromPath picks a document format from a file extension
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return FormatJSON
	}
}

// FormatFromContentType picks a document format from an HTTP content type
func FormatFromContentType(contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "yaml"):
		return FormatYAML
	case strings.Contains(ct, "toml"):
		return FormatTOML
	default:
		return FormatJSON
	}
}

// LoadBatchSpec reads a batch spec from a JSON, YAML or TOML file
func LoadBatchSpec(path string) (*models.BatchJobSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}
	return ParseBatchSpec(data, FormatFromPath(path))
}

// ParseBatchSpec decodes a batch spec document. YAML and TOML documents are
// normalised through JSON so every format uses the API's field names.
func ParseBatchSpec(data []byte, format string) (*models.BatchJobSpec, error) {
	var raw interface{}

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, models.NewValidationError("", "invalid YAML batch spec: %v", err)
		}
	case FormatTOML:
		var doc map[string]interface{}
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, models.NewValidationError("", "invalid TOML batch spec: %v", err)
		}
		raw = doc
	default:
		var spec models.BatchJobSpec
		if err := json.Unmarshal(data, &spec); err != nil {
			return nil, models.NewValidationError("", "invalid JSON batch spec: %v", err)
		}
		return &spec, nil
	}

	normalised, err := json.Marshal(raw)
	if err != nil {
		return nil, models.NewValidationError("", "batch spec cannot be represented as JSON: %v", err)
	}

	var spec models.BatchJobSpec
	if err := json.Unmarshal(normalised, &spec); err != nil {
		return nil, models.NewValidationError("", "invalid batch spec: %v", err)
	}
	return &spec, nil
}
