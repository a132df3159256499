// Package manifest reads function definitions from YAML or JSON files.
package manifest

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"sigs.k8s.io/yaml"

	"github.com/3s-rg-codes/faasctl/pkg/function"
)

//go:embed schema/function.schema.json
var schemaJSON []byte

const schemaURL = "https://github.com/3s-rg-codes/faasctl/function.schema.json"

var (
	schemaOnce     sync.Once
	schemaErr      error
	compiledSchema *jsonschema.Schema
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

type document struct {
	function.Definition
	Artifact string `json:"artifact,omitempty"`
}

// Load reads a manifest file. A relative artifact path is resolved against the
// manifest's directory and the package is read into the candidate.
func Load(path string) (function.Candidate, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return function.Candidate{}, err
	}
	c, artifactPath, err := Parse(content)
	if err != nil {
		return function.Candidate{}, fmt.Errorf("%s: %w", path, err)
	}
	if artifactPath == "" {
		return c, nil
	}
	if !filepath.IsAbs(artifactPath) {
		artifactPath = filepath.Join(filepath.Dir(path), artifactPath)
	}
	a, err := ReadArtifact(artifactPath)
	if err != nil {
		return function.Candidate{}, err
	}
	c.Artifact = &a
	return c, nil
}

// Parse validates the manifest shape and decodes it. The artifact path is
// returned unresolved.
func Parse(content []byte) (function.Candidate, string, error) {
	sch, err := loadSchema()
	if err != nil {
		return function.Candidate{}, "", err
	}

	jsonData, err := yaml.YAMLToJSON(content)
	if err != nil {
		return function.Candidate{}, "", fmt.Errorf("convert yaml to json: %w", err)
	}

	var raw any
	if err := json.Unmarshal(jsonData, &raw); err != nil {
		return function.Candidate{}, "", fmt.Errorf("decode manifest: %w", err)
	}
	if err := sch.Validate(raw); err != nil {
		return function.Candidate{}, "", err
	}

	var doc document
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return function.Candidate{}, "", fmt.Errorf("decode manifest: %w", err)
	}
	return function.Candidate{Definition: doc.Definition}, doc.Artifact, nil
}

// ReadArtifact loads a package from disk.
func ReadArtifact(path string) (function.Artifact, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return function.Artifact{}, fmt.Errorf("read artifact: %w", err)
	}
	return function.Artifact{Filename: filepath.Base(path), Content: content}, nil
}
