package stackloader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"sigs.k8s.io/yaml"

	"github.com/chazu/hasura-stack/api/v1alpha1"
	cuembed "github.com/chazu/hasura-stack/cue"
	"github.com/chazu/hasura-stack/pkg/graph"
)

const (
	schemaCacheKey = "embedded:stack"
	schemaDef      = "#HasuraStack"
)

// Loader loads stack documents against a CUE schema
type Loader struct {
	ctx        *cue.Context
	cache      *Cache
	schemaFS   fs.FS
	schemaPath string
}

// NewLoader creates a loader for the embedded schema
func NewLoader() *Loader {
	return NewLoaderWithSchema(cuembed.StackFS, cuembed.StackSchemaPath)
}

// NewLoaderWithSchema creates a loader for a schema file in fsys
func NewLoaderWithSchema(fsys fs.FS, path string) *Loader {
	return &Loader{
		ctx:        cuecontext.New(),
		cache:      NewCache(),
		schemaFS:   fsys,
		schemaPath: path,
	}
}

// Schema returns the compiled #HasuraStack definition
func (l *Loader) Schema() (cue.Value, error) {
	if cached, found := l.cache.Get(schemaCacheKey); found {
		return cached, nil
	}

	src, err := fs.ReadFile(l.schemaFS, l.schemaPath)
	if err != nil {
		return cue.Value{}, fmt.Errorf("failed to read schema %s: %w", l.schemaPath, err)
	}

	value := l.ctx.CompileBytes(src, cue.Filename(l.schemaPath))
	if value.Err() != nil {
		return cue.Value{}, fmt.Errorf("failed to compile schema: %w", value.Err())
	}

	def := value.LookupPath(cue.ParsePath(schemaDef))
	if !def.Exists() {
		return cue.Value{}, fmt.Errorf("%s definition not found in schema", schemaDef)
	}

	l.cache.Set(schemaCacheKey, def)
	return def, nil
}

// LoadFile reads and loads a stack document from disk
func (l *Loader) LoadFile(path string) (*v1alpha1.HasuraStack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read stack file: %w", err)
	}
	return l.Load(data)
}

// Load validates a YAML or JSON stack document against the schema, applies
// schema defaults, and decodes it
func (l *Loader) Load(data []byte) (*v1alpha1.HasuraStack, error) {
	schema, err := l.Schema()
	if err != nil {
		return nil, err
	}

	jsonBytes, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, &graph.ValidationError{Message: fmt.Sprintf("document is not valid YAML: %v", err)}
	}
	if len(bytes.TrimSpace(jsonBytes)) == 0 || string(bytes.TrimSpace(jsonBytes)) == "null" {
		return nil, &graph.ValidationError{Message: "document is empty"}
	}

	doc := l.ctx.CompileBytes(jsonBytes, cue.Filename("stack.json"))
	if doc.Err() != nil {
		return nil, &graph.ValidationError{Message: cueerrors.Details(doc.Err(), nil)}
	}

	unified := schema.Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, &graph.ValidationError{Message: cueerrors.Details(err, nil)}
	}

	// Round-trip through JSON, as defaults are resolved on export
	resolved, err := unified.MarshalJSON()
	if err != nil {
		return nil, &graph.ValidationError{Message: cueerrors.Details(err, nil)}
	}

	var stack v1alpha1.HasuraStack
	if err := json.Unmarshal(resolved, &stack); err != nil {
		return nil, fmt.Errorf("failed to decode stack: %w", err)
	}
	stack.SetDefaults()

	return &stack, nil
}
