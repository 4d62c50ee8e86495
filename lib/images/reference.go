package images

import (
	"fmt"
	"strings"

	"github.com/distribution/reference"
)

// NormalizedRef is a validated and normalized image reference, either tagged
// ("docker.io/library/alpine:latest") or pinned by digest
// ("docker.io/library/alpine@sha256:abc123...").
type NormalizedRef struct {
	raw        string
	repository string
	tag        string // empty if digest ref
	digest     string // empty if tag ref
}

// ParseNormalizedRef validates a user-provided image name before it is
// handed to kim. Examples:
//   - "alpine" -> "docker.io/library/alpine:latest"
//   - "ghcr.io/org/app:v1" -> "ghcr.io/org/app:v1"
//   - "alpine@sha256:abc..." -> "docker.io/library/alpine@sha256:abc..."
func ParseNormalizedRef(s string) (*NormalizedRef, error) {
	named, err := reference.ParseNormalizedNamed(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidName, s, err)
	}

	ref := &NormalizedRef{
		repository: reference.Domain(named) + "/" + reference.Path(named),
	}

	if canonical, ok := named.(reference.Canonical); ok {
		ref.digest = canonical.Digest().String()
		ref.raw = canonical.String()
		return ref, nil
	}

	tagged := reference.TagNameOnly(named)
	if t, ok := tagged.(reference.Tagged); ok {
		ref.tag = t.Tag()
	}
	ref.raw = tagged.String()

	return ref, nil
}

// String returns the full normalized reference.
func (r *NormalizedRef) String() string {
	return r.raw
}

// IsDigest returns true if this reference is pinned by digest.
func (r *NormalizedRef) IsDigest() bool {
	return r.digest != ""
}

// Repository returns the repository path without tag or digest.
func (r *NormalizedRef) Repository() string {
	return r.repository
}

// Tag returns the tag, or "" for digest references.
func (r *NormalizedRef) Tag() string {
	return r.tag
}

// Digest returns the digest, or "" for tagged references.
func (r *NormalizedRef) Digest() string {
	return r.digest
}

// ValidateImageID checks an id or name passed to `kim rmi`.
func ValidateImageID(id string) error {
	if id == "" || strings.ContainsFunc(id, isSpaceOrControl) || strings.HasPrefix(id, "-") {
		return fmt.Errorf("%w: %q", ErrInvalidName, id)
	}
	return nil
}

func isSpaceOrControl(r rune) bool {
	return r <= ' ' || r == 0x7f
}
