package bundle

import (
	_ "embed"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/domain/capability"
)

// Manifest file names, in lookup order
var ManifestNames = []string{"stack.yaml", "stack.yml", "stack.toml"}

var (
	ErrManifestNotFound = errors.New("stack manifest not found")
	ErrInvalidManifest  = errors.New("invalid stack manifest")
)

//go:embed manifest.schema.json
var manifestSchemaSource string

// schemaJSON keeps numbers as json.Number, the form the validator expects
var schemaJSON = sonic.Config{UseNumber: true}.Froze()

const manifestSchemaURL = "https://cardruntime.local/schemas/stack-manifest.json"

var (
	manifestSchema     *jsonschema.Schema
	manifestSchemaErr  error
	manifestSchemaOnce sync.Once
)

// Manifest describes a card stack on disk
type Manifest struct {
	ID           string            `json:"id"`
	Title        string            `json:"title,omitempty"`
	Description  string            `json:"description,omitempty"`
	Entry        string            `json:"entry"`
	Cards        string            `json:"cards,omitempty"` // glob of runtime cards, relative to the stack
	Capabilities capability.Policy `json:"capabilities"`
}

func compiledSchema() (*jsonschema.Schema, error) {
	manifestSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(manifestSchemaURL, strings.NewReader(manifestSchemaSource)); err != nil {
			manifestSchemaErr = fmt.Errorf("manifest schema load failed: %w", err)
			return
		}
		manifestSchema, manifestSchemaErr = c.Compile(manifestSchemaURL)
		if manifestSchemaErr != nil {
			manifestSchemaErr = fmt.Errorf("manifest schema compile failed: %w", manifestSchemaErr)
		}
	})
	return manifestSchema, manifestSchemaErr
}

// ParseManifest decodes a manifest by file name extension and validates it
// against the manifest schema
func ParseManifest(name string, data []byte) (*Manifest, error) {
	var raw interface{}
	var err error
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	case ".toml":
		err = toml.Unmarshal(data, &raw)
	default:
		return nil, fmt.Errorf("%w: unsupported manifest format %q", ErrInvalidManifest, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidManifest, name, err)
	}

	// Normalize through JSON so the schema and the typed decode see one shape
	normalized, err := sonic.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidManifest, name, err)
	}

	schema, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	var doc interface{}
	if err := schemaJSON.Unmarshal(normalized, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidManifest, name, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidManifest, name, err)
	}

	var m Manifest
	if err := sonic.Unmarshal(normalized, &m); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidManifest, name, err)
	}
	if m.Title == "" {
		m.Title = m.ID
	}
	return &m, nil
}
