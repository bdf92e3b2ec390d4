package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Format selects the encoding of registry documents.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a registry format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, "":
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown registry format %q (want json or yaml)", s)
	}
}

// Ext is the file extension for f.
func (f Format) Ext() string {
	if f == FormatYAML {
		return ".yaml"
	}
	return ".json"
}

// Document base names inside the config directory.
const (
	DefinitionsName  = "component-definitions"
	LinkingRulesName = "linking-rules"
)

// Paths returns where the two documents are written in dir.
func Paths(dir string, f Format) (definitions, linking string) {
	return filepath.Join(dir, DefinitionsName+f.Ext()), filepath.Join(dir, LinkingRulesName+f.Ext())
}

// Encode renders v in format f. Map keys are sorted by both encoders, so the
// bytes are stable across runs.
func Encode(v any, f Format) ([]byte, error) {
	if f == FormatYAML {
		return yaml.Marshal(v)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Write encodes both documents into dir and returns their paths.
func Write(dir string, f Format, defs *Definitions, links *LinkingRules) (string, string, error) {
	defsPath, linksPath := Paths(dir, f)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create config dir: %w", err)
	}
	for _, doc := range []struct {
		path string
		v    any
	}{{defsPath, defs}, {linksPath, links}} {
		data, err := Encode(doc.v, f)
		if err != nil {
			return "", "", fmt.Errorf("encode %s: %w", filepath.Base(doc.path), err)
		}
		if err := os.WriteFile(doc.path, data, 0o644); err != nil {
			return "", "", fmt.Errorf("write %s: %w", filepath.Base(doc.path), err)
		}
	}
	return defsPath, linksPath, nil
}

// LoadCustomTypes reads customTypes from a previous definitions document.
// A missing file yields an empty list; a file that cannot be parsed is an
// error the caller may choose to ignore.
func LoadCustomTypes(path string) ([]any, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var prior struct {
		CustomTypes []any `json:"customTypes" yaml:"customTypes"`
	}
	if filepath.Ext(path) == ".json" {
		err = json.Unmarshal(data, &prior)
	} else {
		err = yaml.Unmarshal(data, &prior)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if prior.CustomTypes == nil {
		return []any{}, nil
	}
	return prior.CustomTypes, nil
}
