// Package parser turns card source streams into cards grouped by deck and
// model.
//
// A stream holds one or more cards separated by a line containing only
// "###". Inside a card, lines containing only "---" separate the
// frontmatter from the field bodies and the bodies from each other:
//
//	---
//	deck: example
//	type: basic
//	---
//	Question
//	---
//	Answer
//	###
//	---
//	deck: example
//	...
package parser

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/danisheto/anc/internal/models"
)

const (
	segmentDelim = "---"
	blockDelim   = "###"

	maxLineSize = 1 << 20
)

// Split reads r line by line and cuts it into raw blocks. Text appended to a
// segment keeps its trailing newline; trimming happens in Build.
//
// A block that never received a segment is returned as-is (empty) so the
// caller can report it; the one exception is a leading "###" before any
// content, which is skipped. A stream with no content yields no blocks.
func Split(r io.Reader) ([]models.RawBlock, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	blocks := []models.RawBlock{nil}
	seen := false
	for sc.Scan() {
		line := sc.Text()
		cur := &blocks[len(blocks)-1]

		switch strings.TrimSpace(line) {
		case segmentDelim:
			*cur = append(*cur, "")
			seen = true
		case blockDelim:
			if !seen {
				continue
			}
			blocks = append(blocks, nil)
		default:
			if len(*cur) == 0 {
				if strings.TrimSpace(line) == "" {
					continue
				}
				// Frontmatter without its opening delimiter.
				*cur = append(*cur, "")
				seen = true
			}
			(*cur)[len(*cur)-1] += line + "\n"
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("parser: read: %w", err)
	}
	if !seen {
		return nil, nil
	}
	return blocks, nil
}
