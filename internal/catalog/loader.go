// Package catalog loads survey definitions from YAML files, validates them,
// and serves them from a registry that can be swapped atomically on reload.
package catalog

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/sarvekshan/model"
)

// Document is one parsed catalog file. A file may declare several surveys.
type Document struct {
	Surveys    []model.SurveyDefinition `yaml:"surveys"`
	Checksum   string                   `yaml:"-"`
	SourceFile string                   `yaml:"-"`
}

// Loader scans directories for YAML catalog files.
type Loader struct{}

// NewLoader creates a new Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml and *.yml files and parses
// each into a Document.
func (l *Loader) LoadAll(directories []string) ([]Document, error) {
	var docs []Document

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			doc, err := l.LoadFile(path)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return docs, nil
}

// LoadFile parses a single catalog file and records its SHA-256 checksum.
func (l *Loader) LoadFile(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	doc.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	doc.SourceFile = path

	return doc, nil
}
