// Package formatting renders the text sent to the embedding provider from a
// chunk and the row it came from.
package formatting

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/helixml/vecsync/domain/source"
	"github.com/helixml/vecsync/domain/vectorizer"
)

var (
	// ErrUnknownPlaceholder indicates a template references a column the
	// source table does not have.
	ErrUnknownPlaceholder = errors.New("unknown template placeholder")

	// ErrEmptyOutput indicates a template rendered nothing for a non-empty chunk.
	ErrEmptyOutput = errors.New("template produced empty output")
)

// Template substitutes $name and ${name} placeholders with row values and
// $chunk with the chunk text. $$ renders a literal dollar sign.
type Template struct {
	text         string
	placeholders []string
}

// NewTemplate parses text and checks every placeholder against columns.
func NewTemplate(text string, columns []string) (Template, error) {
	t := Template{text: text, placeholders: placeholders(text)}
	for _, name := range t.placeholders {
		if name == vectorizer.ChunkPlaceholder {
			continue
		}
		if !slices.Contains(columns, name) {
			return Template{}, fmt.Errorf("%w: %w: $%s", vectorizer.ErrInvalidConfig, ErrUnknownPlaceholder, name)
		}
	}
	return t, nil
}

// New creates the template for a formatting configuration.
func New(cfg vectorizer.Formatting, columns []string) (Template, error) {
	return NewTemplate(cfg.Template(), columns)
}

// Text returns the template source.
func (t Template) Text() string { return t.text }

// Columns returns the row columns the template references, in order of
// first use. $chunk is not included.
func (t Template) Columns() []string {
	var cols []string
	for _, name := range t.placeholders {
		if name != vectorizer.ChunkPlaceholder {
			cols = append(cols, name)
		}
	}
	return cols
}

// Format renders chunk with values from row. NULL renders as "".
func (t Template) Format(chunk string, row source.Row) (string, error) {
	out := os.Expand(t.text, func(name string) string {
		switch name {
		case "$":
			return "$"
		case vectorizer.ChunkPlaceholder:
			return chunk
		}
		v, ok := row.Value(name)
		if !ok || v == nil {
			return ""
		}
		return fmt.Sprint(v)
	})
	if strings.TrimSpace(out) == "" && strings.TrimSpace(chunk) != "" {
		return "", fmt.Errorf("%w: %w", vectorizer.ErrInvalidConfig, ErrEmptyOutput)
	}
	return out, nil
}

// placeholders returns the distinct names referenced by text, excluding $$.
func placeholders(text string) []string {
	var names []string
	os.Expand(text, func(name string) string {
		if name != "$" && !slices.Contains(names, name) {
			names = append(names, name)
		}
		return ""
	})
	return names
}
