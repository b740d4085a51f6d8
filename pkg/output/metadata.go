package output

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/product-scout/pkg/models"
	"github.com/Sriram-PR/product-scout/pkg/utils"
)

// WriteRunMetadata marshals meta to YAML at path, creating the parent directory.
func WriteRunMetadata(path string, meta *models.SiteRunMetadata) error {
	data, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal run metadata for site '%s': %w", meta.SiteKey, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: creating metadata dir: %w", utils.ErrFilesystem, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("%w: writing metadata YAML '%s': %w", utils.ErrFilesystem, path, err)
	}
	return nil
}

// ReadRunMetadata loads a file written by WriteRunMetadata.
func ReadRunMetadata(path string) (*models.SiteRunMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading metadata YAML '%s': %w", utils.ErrFilesystem, path, err)
	}
	var meta models.SiteRunMetadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: metadata YAML '%s': %v", utils.ErrParsing, path, err)
	}
	return &meta, nil
}

// SiteConfigMap converts a config struct to a generic map for embedding in metadata.
func SiteConfigMap(v any) map[string]interface{} {
	raw, err := yaml.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]interface{}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
