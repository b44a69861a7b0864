// Package artifact encodes a finalized stack into the files consumed by the
// deployment engine and the image builder, and writes them to disk or to
// object storage.
package artifact
