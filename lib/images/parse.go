package images

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var lineBreak = regexp.MustCompile(`\r?\n`)

// ParseImages parses `kim images --all` output: a header line followed by one
// line per image with whitespace separated name, tag, id and size columns.
//
// Parsing is permissive. Columns are mapped by position, extra columns are
// ignored and a short line yields an Image with the missing fields empty.
func ParseImages(stdout string) ([]Image, error) {
	if !utf8.ValidString(stdout) {
		return nil, fmt.Errorf("%w: output is not valid UTF-8", ErrParse)
	}

	lines := lineBreak.Split(strings.TrimRightFunc(stdout, unicode.IsSpace), -1)
	if len(lines) <= 1 {
		return []Image{}, nil
	}

	images := make([]Image, 0, len(lines)-1)
	for _, line := range lines[1:] {
		images = append(images, parseLine(line))
	}
	return images, nil
}

func parseLine(line string) Image {
	var img Image
	columns := []*string{&img.Name, &img.Tag, &img.ID, &img.Size}
	for i, field := range strings.Fields(line) {
		if i >= len(columns) {
			break
		}
		*columns[i] = field
	}
	return img
}
