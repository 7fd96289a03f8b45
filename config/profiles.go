package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// profileOverrides is the PROFILES_FILE document. Fields left out keep the
// built-in values.
//
//	preview:
//	  width: 854
//	  height: 480
//	export:
//	  crf: 18
type profileOverrides struct {
	Preview *yaml.Node `yaml:"preview"`
	Export  *yaml.Node `yaml:"export"`
}

func (c *Config) loadProfiles(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read profiles file: %w", err)
	}

	var doc profileOverrides
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse profiles file: %w", err)
	}

	preview, export := c.PreviewProfile, c.ExportProfile
	if doc.Preview != nil {
		if err := doc.Preview.Decode(&preview); err != nil {
			return fmt.Errorf("profiles file: preview: %w", err)
		}
	}
	if doc.Export != nil {
		if err := doc.Export.Decode(&export); err != nil {
			return fmt.Errorf("profiles file: export: %w", err)
		}
	}
	// The names feed cache keys and must stay distinct.
	preview.Name, export.Name = c.PreviewProfile.Name, c.ExportProfile.Name

	if err := preview.Validate(); err != nil {
		return err
	}
	if err := export.Validate(); err != nil {
		return err
	}
	c.PreviewProfile, c.ExportProfile = preview, export
	return nil
}
