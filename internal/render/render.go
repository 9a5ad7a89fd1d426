// Package render lays extracted page text out as a paginated document and
// encodes it as PDF or DOCX.
package render

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// CharsPerPage is the nominal page capacity used for the reported page count.
const CharsPerPage = 3000

const DefaultFilename = "Untitled"

// Input is what the renderer needs to build a document.
type Input struct {
	Title     string
	Text      string
	SourceURL string
	// GeneratedAt defaults to the current time.
	GeneratedAt time.Time
}

// Output never carries partial data: it is either complete or the zero value.
type Output struct {
	Filename string
	Pages    int
	Size     int64
	Data     []byte
}

type Renderer interface {
	Render(ctx context.Context, in Input) (Output, error)
	Extension() string
	ContentType() string
}

var ErrUnsupportedFormat = errors.New("unsupported format")

// Error is returned for every failed render.
type Error struct {
	Format string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("render %s: %v", e.Format, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type BlockKind int

const (
	BlockParagraph BlockKind = iota
	BlockHeading
	BlockSpacer
)

func (k BlockKind) String() string {
	switch k {
	case BlockHeading:
		return "heading"
	case BlockSpacer:
		return "spacer"
	default:
		return "paragraph"
	}
}

// ParseBlockKind is the inverse of BlockKind.String.
func ParseBlockKind(s string) (BlockKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "heading":
		return BlockHeading, true
	case "paragraph":
		return BlockParagraph, true
	case "spacer":
		return BlockSpacer, true
	default:
		return BlockParagraph, false
	}
}

// Block is one laid out body element.
type Block struct {
	Kind BlockKind
	Text string
}

// Classifier decides how a non-empty, trimmed body line is rendered.
type Classifier func(line string) BlockKind

var headingLine = regexp.MustCompile(`^[A-Z][^.]*$`)

// DefaultClassifier treats a line that starts with an uppercase letter and
// contains no period as a subheading.
func DefaultClassifier(line string) BlockKind {
	if headingLine.MatchString(line) {
		return BlockHeading
	}
	return BlockParagraph
}

// Layout is the format-independent document: a centered header followed by
// body blocks.
type Layout struct {
	Title     string
	Source    string
	Generated string
	Blocks    []Block
}

const generatedLayout = "January 2, 2006"

func BuildLayout(in Input, classify Classifier) Layout {
	if classify == nil {
		classify = DefaultClassifier
	}
	at := in.GeneratedAt
	if at.IsZero() {
		at = time.Now()
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = DefaultFilename
	}

	l := Layout{
		Title:     title,
		Source:    "Source: " + in.SourceURL,
		Generated: "Generated: " + at.Format(generatedLayout),
	}
	for _, line := range strings.Split(in.Text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			l.Blocks = append(l.Blocks, Block{Kind: BlockSpacer})
			continue
		}
		kind := classify(trimmed)
		if kind == BlockSpacer {
			kind = BlockParagraph
		}
		l.Blocks = append(l.Blocks, Block{Kind: kind, Text: trimmed})
	}
	return l
}

// PageCount is ceil(chars/CharsPerPage), never less than one.
func PageCount(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 1
	}
	return (n + CharsPerPage - 1) / CharsPerPage
}

// Filename turns a page title into a safe file name: accents are
// transliterated, anything but ASCII letters, digits, whitespace and hyphens is
// dropped and whitespace runs become underscores.
func Filename(title, ext string) string {
	base := sanitize(title)
	if base == "" {
		base = DefaultFilename
	}
	return base + ext
}

func sanitize(title string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, title)
	if err != nil {
		folded = title
	}

	var b strings.Builder
	for _, r := range folded {
		switch {
		case r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-'):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), "_")
}

type options struct {
	classify Classifier
}

type Option func(*options)

// WithClassifier replaces the heading heuristic.
func WithClassifier(c Classifier) Option {
	return func(o *options) {
		if c != nil {
			o.classify = c
		}
	}
}

func newOptions(opts []Option) options {
	o := options{classify: DefaultClassifier}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ForFormat returns the renderer for "pdf" or "docx".
func ForFormat(format string, opts ...Option) (Renderer, error) {
	switch strings.ToLower(format) {
	case "pdf":
		return NewPDFRenderer(opts...), nil
	case "docx":
		return NewDOCXRenderer(opts...), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// finish assembles the Output for encoded document bytes.
func finish(in Input, ext string, data []byte) Output {
	return Output{
		Filename: Filename(in.Title, ext),
		Pages:    PageCount(in.Text),
		Size:     int64(len(data)),
		Data:     data,
	}
}
