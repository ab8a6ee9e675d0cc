// Package chunking splits source text into overlapping chunks for embedding.
package chunking

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/helixml/vecsync/domain/vectorizer"
)

// ChunkParams configures chunk packing. Size and Overlap are measured in
// runes (Unicode code points).
type ChunkParams struct {
	Size    int
	Overlap int
}

// Validate reports parameters that cannot produce chunks.
func (p ChunkParams) Validate() error {
	if p.Size < 1 {
		return fmt.Errorf("%w: size must be positive, got %d", vectorizer.ErrInvalidConfig, p.Size)
	}
	if p.Overlap < 0 {
		return fmt.Errorf("%w: overlap must not be negative, got %d", vectorizer.ErrInvalidConfig, p.Overlap)
	}
	if p.Overlap >= p.Size {
		return fmt.Errorf("%w: overlap (%d) must be less than size (%d)", vectorizer.ErrInvalidConfig, p.Overlap, p.Size)
	}
	return nil
}

// Chunk is one piece of split text with its position in the sequence.
type Chunk struct {
	content string
	seq     int
}

// Content returns the chunk text.
func (c Chunk) Content() string { return c.content }

// Seq returns the 0-based position of the chunk.
func (c Chunk) Seq() int { return c.seq }

// TextChunks holds the ordered result of splitting one text.
type TextChunks struct {
	chunks []Chunk
}

func newTextChunks(texts []string) TextChunks {
	chunks := make([]Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = Chunk{content: t, seq: i}
	}
	return TextChunks{chunks: chunks}
}

// All returns all chunks.
func (t TextChunks) All() []Chunk { return t.chunks }

// Texts returns the chunk contents in order.
func (t TextChunks) Texts() []string {
	texts := make([]string, len(t.chunks))
	for i, c := range t.chunks {
		texts[i] = c.content
	}
	return texts
}

// Len returns the number of chunks.
func (t TextChunks) Len() int { return len(t.chunks) }

// Splitter turns one text into ordered chunks. Blank text yields no chunks.
type Splitter interface {
	Split(text string) TextChunks
}

// New builds the splitter selected by a chunking configuration.
func New(cfg vectorizer.Chunking) (Splitter, error) {
	settings := cfg.Settings()
	params := ChunkParams{Size: settings.Size, Overlap: settings.Overlap}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	switch c := cfg.(type) {
	case vectorizer.CharacterTextSplitter:
		sep, err := newSeparator(c.Separator, c.IsSeparatorRegex)
		if err != nil {
			return nil, err
		}
		return CharacterSplitter{params: params, separator: sep}, nil
	case vectorizer.RecursiveCharacterTextSplitter:
		if len(c.Separators) == 0 {
			return nil, fmt.Errorf("%w: separators must not be empty", vectorizer.ErrInvalidConfig)
		}
		seps := make([]separator, len(c.Separators))
		for i, s := range c.Separators {
			sep, err := newSeparator(s, c.IsSeparatorRegex)
			if err != nil {
				return nil, err
			}
			seps[i] = sep
		}
		return RecursiveSplitter{params: params, separators: seps}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported chunking %s", vectorizer.ErrInvalidConfig, cfg.Implementation())
	}
}

// CharacterSplitter splits on a single separator and packs the pieces.
// A piece longer than the chunk size is sliced on rune boundaries.
type CharacterSplitter struct {
	params    ChunkParams
	separator separator
}

// NewCharacterSplitter creates a splitter on a literal separator.
func NewCharacterSplitter(params ChunkParams, sep string) (CharacterSplitter, error) {
	if err := params.Validate(); err != nil {
		return CharacterSplitter{}, err
	}
	return CharacterSplitter{params: params, separator: separator{literal: sep}}, nil
}

// Split implements Splitter.
func (s CharacterSplitter) Split(text string) TextChunks {
	if strings.TrimSpace(text) == "" {
		return TextChunks{}
	}
	p := newPacker(s.params)
	for _, seg := range s.separator.split(text) {
		p.add(seg)
	}
	return newTextChunks(p.finish())
}

// RecursiveSplitter splits with the first separator present in the text,
// in priority order, and recurses into oversized pieces with the separators
// that follow it. The empty separator slices on rune boundaries.
type RecursiveSplitter struct {
	params     ChunkParams
	separators []separator
}

// NewRecursiveSplitter creates a splitter over literal separators.
func NewRecursiveSplitter(params ChunkParams, separators []string) (RecursiveSplitter, error) {
	if err := params.Validate(); err != nil {
		return RecursiveSplitter{}, err
	}
	if len(separators) == 0 {
		separators = vectorizer.DefaultSeparators
	}
	seps := make([]separator, len(separators))
	for i, s := range separators {
		seps[i] = separator{literal: s}
	}
	return RecursiveSplitter{params: params, separators: seps}, nil
}

// Split implements Splitter.
func (s RecursiveSplitter) Split(text string) TextChunks {
	if strings.TrimSpace(text) == "" {
		return TextChunks{}
	}
	p := newPacker(s.params)
	s.feed(p, "", text, s.separators)
	return newTextChunks(p.finish())
}

func (s RecursiveSplitter) feed(p *packer, lead, text string, seps []separator) {
	sep, rest := choose(text, seps)
	for i, seg := range sep.split(text) {
		if i == 0 {
			seg.sep = lead
		}
		if len(rest) == 0 || utf8.RuneCountInString(seg.text) <= s.params.Size {
			p.add(seg)
			continue
		}
		s.feed(p, seg.sep, seg.text, rest)
	}
}

// choose returns the first separator found in text and the separators after
// it. When none match, the last separator is used without further recursion.
func choose(text string, seps []separator) (separator, []separator) {
	for i, sep := range seps {
		if sep.in(text) {
			return sep, seps[i+1:]
		}
	}
	return seps[len(seps)-1], nil
}

type separator struct {
	literal string
	pattern *regexp.Regexp
}

func newSeparator(sep string, isRegex bool) (separator, error) {
	if !isRegex || sep == "" {
		return separator{literal: sep}, nil
	}
	re, err := regexp.Compile(sep)
	if err != nil {
		return separator{}, fmt.Errorf("%w: separator %q: %v", vectorizer.ErrInvalidConfig, sep, err)
	}
	return separator{literal: sep, pattern: re}, nil
}

func (s separator) in(text string) bool {
	switch {
	case s.pattern != nil:
		return s.pattern.MatchString(text)
	case s.literal == "":
		return true
	default:
		return strings.Contains(text, s.literal)
	}
}

// segment is a non-empty piece of text and the separator text preceding it.
type segment struct {
	sep  string
	text string
}

// split cuts text on the separator. Empty pieces are dropped and the first
// returned segment never carries a separator.
func (s separator) split(text string) []segment {
	var segs []segment
	push := func(sep, piece string) {
		if piece == "" {
			return
		}
		if len(segs) == 0 {
			sep = ""
		}
		segs = append(segs, segment{sep: sep, text: piece})
	}

	switch {
	case s.pattern != nil:
		prevSep, start := "", 0
		for _, m := range s.pattern.FindAllStringIndex(text, -1) {
			if m[0] == m[1] && (m[0] == 0 || m[0] == len(text)) {
				continue
			}
			push(prevSep, text[start:m[0]])
			prevSep, start = text[m[0]:m[1]], m[1]
		}
		push(prevSep, text[start:])
	case s.literal == "":
		for _, r := range text {
			push("", string(r))
		}
	default:
		for i, piece := range strings.Split(text, s.literal) {
			sep := s.literal
			if i == 0 {
				sep = ""
			}
			push(sep, piece)
		}
	}
	return segs
}

// packer accumulates segments into chunks of at most size runes. Each
// emitted chunk after the first starts with the last overlap runes of the
// chunk before it.
type packer struct {
	params ChunkParams
	cur    []rune
	fresh  bool
	out    []string
}

func newPacker(params ChunkParams) *packer {
	return &packer{params: params}
}

func (p *packer) add(seg segment) {
	piece := p.join(seg)
	if len(p.cur)+utf8.RuneCountInString(piece) <= p.params.Size {
		p.append(piece)
		return
	}

	if p.fresh {
		tail := p.tail()
		next := seg.text
		if len(tail) > 0 {
			next = seg.sep + seg.text
		}
		if len(tail)+utf8.RuneCountInString(next) <= p.params.Size {
			p.flush()
			p.append(next)
			return
		}
	}

	for _, r := range piece {
		if len(p.cur) == p.params.Size {
			p.flush()
		}
		p.cur = append(p.cur, r)
		p.fresh = true
	}
}

func (p *packer) join(seg segment) string {
	if len(p.cur) == 0 {
		return seg.text
	}
	return seg.sep + seg.text
}

func (p *packer) append(piece string) {
	if piece == "" {
		return
	}
	p.cur = append(p.cur, []rune(piece)...)
	p.fresh = true
}

func (p *packer) tail() []rune {
	n := min(p.params.Overlap, len(p.cur))
	return p.cur[len(p.cur)-n:]
}

func (p *packer) flush() {
	p.out = append(p.out, string(p.cur))
	p.cur = slices.Clone(p.tail())
	p.fresh = false
}

func (p *packer) finish() []string {
	if p.fresh && len(p.cur) > 0 {
		p.out = append(p.out, string(p.cur))
	}
	p.cur = nil
	p.fresh = false
	return p.out
}
