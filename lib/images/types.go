package images

import (
	"strings"

	"github.com/c2h5oh/datasize"
)

// Image is one row of `kim images --all` output. Fields missing from a short
// row are left empty.
type Image struct {
	Name string `json:"name"`
	Tag  string `json:"tag"`
	ID   string `json:"id"`
	Size string `json:"size"`
}

// Reference returns name:tag, or just the name when there is no tag.
func (i Image) Reference() string {
	if i.Tag == "" {
		return i.Name
	}
	return i.Name + ":" + i.Tag
}

// SizeBytes parses the size column (e.g. "10MB").
func (i Image) SizeBytes() (datasize.ByteSize, error) {
	var size datasize.ByteSize
	err := size.UnmarshalText([]byte(strings.TrimSpace(i.Size)))
	return size, err
}
