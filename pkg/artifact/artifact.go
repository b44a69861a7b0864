package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"sigs.k8s.io/yaml"

	"github.com/chazu/hasura-stack/pkg/assets"
	"github.com/chazu/hasura-stack/pkg/graph"
	"github.com/chazu/hasura-stack/pkg/stack"
)

// ManifestFile is the name of the bundle manifest
const ManifestFile = "manifest.json"

// ManifestVersion is the version of the manifest format
const ManifestVersion = "1"

// Manifest indexes the files of a bundle
type Manifest struct {
	Version     string              `json:"version"`
	Stack       string              `json:"stack"`
	Environment string              `json:"environment"`
	RenderHash  string              `json:"renderHash"`
	Template    string              `json:"templateFile"`
	Graph       string              `json:"graphFile"`
	Images      []assets.ImageAsset `json:"images,omitempty"`
}

// GraphDocument is the graph artifact with its computed deployment order
type GraphDocument struct {
	*graph.Graph

	Order []string   `json:"order"`
	Waves [][]string `json:"waves"`
}

// File is one encoded file of a bundle
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Bundle is the encoded output of a stack
type Bundle struct {
	Manifest Manifest
	Files    []File
}

// Encode renders a finalized stack as a template (JSON and YAML), a graph
// document, and a manifest
func Encode(s *stack.Stack) (*Bundle, error) {
	if s == nil || s.Graph == nil || !s.Graph.Finalized() {
		return nil, fmt.Errorf("stack must be finalized before it is encoded")
	}
	g := s.Graph

	dag := s.DAG
	if dag == nil {
		var err error
		if dag, err = graph.BuildDAG(g); err != nil {
			return nil, err
		}
	}

	manifest := Manifest{
		Version:     ManifestVersion,
		Stack:       s.Name,
		Environment: fmt.Sprintf("aws://%s/%s", g.Metadata.Account, g.Metadata.Region),
		RenderHash:  g.Metadata.RenderHash,
		Template:    s.Name + ".template.json",
		Graph:       s.Name + ".graph.json",
		Images:      s.ImageAssets,
	}

	template := g.Template()
	templateJSON, err := json.MarshalIndent(template, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode template: %w", err)
	}
	templateYAML, err := yaml.Marshal(template)
	if err != nil {
		return nil, fmt.Errorf("failed to encode template as YAML: %w", err)
	}
	graphJSON, err := json.MarshalIndent(GraphDocument{Graph: g, Order: dag.GetOrder(), Waves: dag.Waves()}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode graph: %w", err)
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}

	files := []File{
		{Name: manifest.Template, ContentType: "application/json", Data: templateJSON},
		{Name: s.Name + ".template.yaml", ContentType: "application/yaml", Data: templateYAML},
		{Name: manifest.Graph, ContentType: "application/json", Data: graphJSON},
		{Name: ManifestFile, ContentType: "application/json", Data: manifestJSON},
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	return &Bundle{Manifest: manifest, Files: files}, nil
}

// File returns the named file of the bundle
func (b *Bundle) File(name string) (File, bool) {
	for _, f := range b.Files {
		if f.Name == name {
			return f, true
		}
	}
	return File{}, false
}

// ReadManifest reads the manifest of a bundle previously written to dir.
// A directory without a manifest yields nil and no error.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest in %s: %w", dir, err)
	}
	return &m, nil
}

// WriteDir writes every file of the bundle into dir, creating it if needed
func (b *Bundle) WriteDir(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	paths := make([]string, 0, len(b.Files))
	for _, f := range b.Files {
		path := filepath.Join(dir, f.Name)
		if err := os.WriteFile(path, f.Data, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
