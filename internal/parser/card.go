package parser

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/danisheto/anc/internal/apperr"
	"github.com/danisheto/anc/internal/models"
)

// Frontmatter is the structured header of a card.
type Frontmatter struct {
	Deck string  `yaml:"deck" json:"deck"`
	Type string  `yaml:"type" json:"type"`
	ID   *string `yaml:"id" json:"id"`
	Tags *string `yaml:"tags" json:"tags"`
	HTML bool    `yaml:"html" json:"html"`
}

// Validate reports one error per missing or invalid key.
func (f *Frontmatter) Validate() error {
	return validation.ValidateStruct(f,
		validation.Field(&f.Deck, validation.Required),
		validation.Field(&f.Type, validation.Required),
		validation.Field(&f.ID, validation.NilOrNotEmpty),
	)
}

// ParseFrontmatter decodes and validates the frontmatter segment. Unknown
// keys are rejected.
func ParseFrontmatter(segment string) (*Frontmatter, error) {
	var fm Frontmatter
	dec := yaml.NewDecoder(strings.NewReader(segment))
	dec.KnownFields(true)
	// An empty segment decodes to io.EOF; validation reports what is missing.
	if err := dec.Decode(&fm); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", apperr.ErrBadFrontmatter, err)
	}
	if err := fm.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrBadFrontmatter, err)
	}
	return &fm, nil
}

// Build turns one raw block into the destination deck name and a card.
// stream names the input the block came from and index is the block's
// 1-based position in it; together they derive the identity key when the
// frontmatter has no explicit id. An empty stream name means ids must be
// explicit.
func Build(block models.RawBlock, stream string, index int) (string, models.Card, error) {
	if len(block) == 0 {
		return "", models.Card{}, apperr.ErrEmptyBlock
	}

	fm, err := ParseFrontmatter(block[0])
	if err != nil {
		return "", models.Card{}, err
	}

	id, err := identity(fm, stream, index)
	if err != nil {
		return "", models.Card{}, err
	}

	fields := make([]string, 0, len(block))
	fields = append(fields, id)
	for _, body := range block[1:] {
		if fm.HTML {
			fields = append(fields, plaintext(body))
		} else {
			fields = append(fields, strings.TrimSpace(body))
		}
	}

	return fm.Deck, models.Card{
		Model:  fm.Type,
		Fields: fields,
		Tags:   fm.Tags,
	}, nil
}

func identity(fm *Frontmatter, stream string, index int) (string, error) {
	if fm.ID != nil {
		return *fm.ID, nil
	}
	if stream == "" {
		return "", apperr.ErrMissingID
	}
	return stream + "#" + strconv.Itoa(index), nil
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// plaintext escapes markup and keeps line structure with <br/>.
func plaintext(body string) string {
	return strings.ReplaceAll(htmlEscaper.Replace(strings.TrimSpace(body)), "\n", "<br/>")
}
