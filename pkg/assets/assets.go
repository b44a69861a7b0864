// Package assets fingerprints container image build contexts so that the
// graph can name an image by content before external tooling builds it.
package assets

import (
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ImageAsset describes an image that the external builder must produce
type ImageAsset struct {
	// ID is the logical name of the asset
	ID string `json:"id"`

	// Directory is the build context
	Directory string `json:"directory"`

	// Platform is the target platform, e.g. linux/arm64
	Platform string `json:"platform"`

	// Hash is the content fingerprint of the build context
	Hash string `json:"hash"`

	// Repository is the registry repository the image is pushed to
	Repository string `json:"repository"`

	// URI is the full image reference, tagged with Hash
	URI string `json:"uri"`
}

// ignored lists entries excluded from the fingerprint
var ignored = map[string]bool{
	".git":      true,
	".DS_Store": true,
}

// Fingerprint hashes every regular file in fsys, in lexical order, together
// with its path and the target platform
func Fingerprint(fsys fs.FS, platform string) (string, error) {
	h := xxhash.New()
	_, _ = h.WriteString("platform\x00" + platform + "\x00")

	files := 0
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ignored[path.Base(p)] {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		f, err := fsys.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()

		_, _ = h.WriteString("file\x00" + p + "\x00")
		if _, err := io.Copy(h, f); err != nil {
			return fmt.Errorf("failed to read %s: %w", p, err)
		}
		files++
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint build context: %w", err)
	}
	if files == 0 {
		return "", fmt.Errorf("build context contains no files")
	}

	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// RepositoryName returns the asset repository for an account and region
func RepositoryName(account, region string) string {
	return strings.ToLower(fmt.Sprintf("hasura-stack-container-assets-%s-%s", account, region))
}

// NewImageAsset fingerprints a build context and derives its image URI
func NewImageAsset(id, directory, platform, account, region string, fsys fs.FS) (*ImageAsset, error) {
	hash, err := Fingerprint(fsys, platform)
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", id, err)
	}

	repo := RepositoryName(account, region)
	return &ImageAsset{
		ID:         id,
		Directory:  directory,
		Platform:   platform,
		Hash:       hash,
		Repository: repo,
		URI:        fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com/%s:%s", account, region, repo, hash),
	}, nil
}
