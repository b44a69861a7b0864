// Package graph provides the resource graph artifact handed to the deployment
// engine: nodes with their underlying structural representation, symbolic
// references between them, raw structural overrides, DAG building, and
// template encoding.
package graph
