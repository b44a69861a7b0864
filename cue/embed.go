// Package cue provides the embedded CUE schema for stack configuration.
package cue

import "embed"

// StackFS contains the embedded stack schema.
//
//go:embed stack/*.cue
var StackFS embed.FS

// StackSchemaPath is the schema file within the embedded filesystem.
const StackSchemaPath = "stack/schema.cue"
