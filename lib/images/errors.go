package images

import "errors"

var (
	ErrInvalidName = errors.New("invalid image name")
	ErrParse       = errors.New("malformed kim images output")
	ErrClosed      = errors.New("image manager closed")
)
