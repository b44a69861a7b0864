// A Dagger module for hasura-stack CI pipelines
package main

import (
	"context"
	"fmt"
)

const goImage = "golang:1.24"

type HasuraStack struct{}

func (h *HasuraStack) goContainer(source *Directory) *Container {
	// The dagger module is its own Go module
	return dag.Container().
		From(goImage).
		WithDirectory("/src", source.WithoutDirectory("dagger")).
		WithWorkdir("/src").
		WithExec([]string{"go", "mod", "download"})
}

// Test runs unit tests
func (h *HasuraStack) Test(ctx context.Context, source *Directory) (string, error) {
	return h.goContainer(source).
		WithExec([]string{"go", "test", "./..."}).
		Stdout(ctx)
}

// Lint runs golangci-lint
func (h *HasuraStack) Lint(ctx context.Context, source *Directory) (string, error) {
	return dag.Container().
		From("golangci/golangci-lint:v1.61").
		WithDirectory("/src", source.WithoutDirectory("dagger")).
		WithWorkdir("/src").
		WithExec([]string{"golangci-lint", "run", "--timeout=5m"}).
		Stdout(ctx)
}

// Build compiles the hasura-stack binary
func (h *HasuraStack) Build(
	ctx context.Context,
	source *Directory,
	// +optional
	// +default="amd64"
	arch string,
) *File {
	return h.goContainer(source).
		WithEnvVariable("CGO_ENABLED", "0").
		WithEnvVariable("GOOS", "linux").
		WithEnvVariable("GOARCH", arch).
		WithExec([]string{"go", "build", "-o", "bin/hasura-stack", "./cmd/hasura-stack"}).
		File("/src/bin/hasura-stack")
}

// BuildImage packages the binary into a minimal image
func (h *HasuraStack) BuildImage(
	ctx context.Context,
	source *Directory,
	// +optional
	// +default="amd64"
	arch string,
) *Container {
	return dag.Container().
		From("gcr.io/distroless/static:nonroot").
		WithFile("/hasura-stack", h.Build(ctx, source, arch)).
		WithWorkdir("/work").
		WithEntrypoint([]string{"/hasura-stack"}).
		WithLabel("org.opencontainers.image.source", "https://github.com/chazu/hasura-stack").
		WithLabel("org.opencontainers.image.description", "Hasura GraphQL service stack synthesizer").
		WithLabel("org.opencontainers.image.licenses", "Apache-2.0")
}

// Synth renders the stack described by a config file in the source
// directory. Lookups are served from the committed context file only.
func (h *HasuraStack) Synth(
	ctx context.Context,
	source *Directory,
	// +optional
	// +default="hasura-stack.yaml"
	config string,
	// +optional
	// +default="hasura-stack.context.yaml"
	contextFile string,
) *Directory {
	return h.BuildImage(ctx, source, "amd64").
		WithDirectory("/work", source.WithoutDirectory("dagger")).
		WithExec([]string{"synth", "--config", config, "--context-file", contextFile, "-o", "/work/stack.out"}, ContainerWithExecOpts{UseEntrypoint: true}).
		Directory("/work/stack.out")
}

// E2E builds the binary and drives it end to end against the sample config
func (h *HasuraStack) E2E(ctx context.Context, source *Directory) (string, error) {
	return h.goContainer(source).
		WithExec([]string{"go", "test", "-tags", "e2e", "-v", "./test/e2e/..."}).
		Stdout(ctx)
}

// CI runs all CI checks (test, lint, build, e2e)
func (h *HasuraStack) CI(ctx context.Context, source *Directory) (string, error) {
	testOutput, err := h.Test(ctx, source)
	if err != nil {
		return "", fmt.Errorf("tests failed: %w", err)
	}

	lintOutput, err := h.Lint(ctx, source)
	if err != nil {
		return "", fmt.Errorf("lint failed: %w", err)
	}

	if _, err := h.Build(ctx, source, "amd64").Contents(ctx); err != nil {
		return "", fmt.Errorf("build failed: %w", err)
	}

	e2eOutput, err := h.E2E(ctx, source)
	if err != nil {
		return "", fmt.Errorf("e2e failed: %w", err)
	}

	return fmt.Sprintf("All CI checks passed\n\nTests:\n%s\n\nLint:\n%s\n\nE2E:\n%s", testOutput, lintOutput, e2eOutput), nil
}
