package ingestion

import (
	"fmt"
	"strings"

	"github.com/mlife-core/platform/pkg/common/models"
)

// headLines is how much of the raw print header patient data is read from.
const headLines = 100

// Line is one physical line of the decoded export.
type Line struct {
	Number int
	Text   string
}

// Block is a contiguous run of lines under one known header. The header
// line itself is not part of Lines.
type Block struct {
	Kind      BlockKind
	Name      string
	Start     int
	Delimiter rune
	Lines     []Line
}

func (b Block) fields(l Line) []string {
	return splitFields(l.Text, b.Delimiter)
}

// Document is an export split into blocks. Head keeps the uncleaned first
// lines because the patient master data lives in the print header.
type Document struct {
	Delimiter rune
	Head      []Line
	Blocks    []Block
	Warnings  []models.Warning
}

// DetectDelimiter picks '|' when it outnumbers ';' in the leading sample.
func DetectDelimiter(text string) rune {
	sample := text
	if len(sample) > delimiterSample {
		sample = sample[:delimiterSample]
	}
	if strings.Count(sample, "|") > strings.Count(sample, ";") {
		return '|'
	}
	return ';'
}

// Split cleans the export text and cuts it into blocks. Blocks may repeat
// and appear in any order; every occurrence is kept in input order. Lines
// before the first known header are preamble and ignored.
func Split(text string, delimiter rune) (*Document, error) {
	if strings.TrimSpace(text) == "" {
		return nil, MalformedInputError{reason: errEmptyInput}
	}
	if delimiter == 0 {
		delimiter = DetectDelimiter(text)
	}
	if delimiter != ';' && delimiter != '|' {
		return nil, MalformedInputError{reason: fmt.Errorf("%q: %w", delimiter, errBadDelimiter)}
	}

	raw := toLines(text)
	doc := &Document{Delimiter: delimiter}
	if len(raw) > headLines {
		doc.Head = raw[:headLines]
	} else {
		doc.Head = raw
	}

	lines, warnings := clean(raw, delimiter)
	doc.Warnings = append(doc.Warnings, warnings...)

	var current *Block
	for _, l := range lines {
		first := l.Text
		if i := strings.IndexRune(first, delimiter); i >= 0 {
			first = first[:i]
		}
		if kind, ok := HeaderKind(first); ok {
			if current != nil {
				doc.Blocks = append(doc.Blocks, *current)
			}
			current = &Block{
				Kind:      kind,
				Name:      strings.Trim(strings.TrimSpace(first), `"`),
				Start:     l.Number,
				Delimiter: delimiter,
			}
			continue
		}
		if current != nil {
			current.Lines = append(current.Lines, l)
		}
	}
	if current != nil {
		doc.Blocks = append(doc.Blocks, *current)
	}

	if len(doc.Blocks) == 0 {
		return nil, MalformedInputError{reason: errNoKnownBlock}
	}
	return doc, nil
}

func toLines(text string) []Line {
	parts := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := make([]Line, len(parts))
	for i, p := range parts {
		lines[i] = Line{Number: i + 1, Text: strings.TrimRight(p, "\r")}
	}
	return lines
}

// clean removes print headers, status notes and interval captions. A last
// line without any delimiter is a print footer.
func clean(lines []Line, delimiter rune) ([]Line, []models.Warning) {
	skip := make(map[int]struct{})
	var headers []int
	var warnings []models.Warning

	for i, l := range lines {
		text := strings.TrimLeft(l.Text, " \t")
		switch {
		case strings.Contains(text, printHeaderMarker):
			headers = append(headers, i)
		case strings.Contains(text, statusModuleNote):
			skip[i] = struct{}{}
		case strings.Contains(text, intervalStartNote):
			skip[i] = struct{}{}
			if i > 0 {
				skip[i-1] = struct{}{}
			}
		case intervalNote.MatchString(text):
			skip[i] = struct{}{}
		}
	}

	for j, h := range headers {
		for k := h; k < h+printHeaderLines && k < len(lines); k++ {
			skip[k] = struct{}{}
		}
		if j > 0 && h > 0 {
			skip[h-1] = struct{}{}
		}
	}

	last := len(lines) - 1
	for last >= 0 && strings.TrimSpace(lines[last].Text) == "" {
		skip[last] = struct{}{}
		last--
	}
	if last >= 0 {
		if _, skipped := skip[last]; !skipped && !strings.ContainsRune(lines[last].Text, delimiter) {
			skip[last] = struct{}{}
			warnings = append(warnings, models.Warning{
				Kind:    models.WarnRowSkipped,
				Block:   "trailer",
				Line:    lines[last].Number,
				Message: "trailing line without delimiter treated as print footer",
			})
		}
	}

	out := make([]Line, 0, len(lines)-len(skip))
	for i, l := range lines {
		if _, ok := skip[i]; ok {
			continue
		}
		out = append(out, l)
	}
	return out, warnings
}
