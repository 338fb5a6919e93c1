package ingestion

import (
	"context"
	"fmt"
	"io"

	"github.com/mlife-core/platform/pkg/common/logger"
	"github.com/mlife-core/platform/pkg/common/models"
)

type Options struct {
	// Delimiter 0 means auto-detect.
	Delimiter rune
	Encoding  string
}

type BlockSummary struct {
	Kind    BlockKind `json:"kind"`
	Name    string    `json:"name"`
	Line    int       `json:"line"`
	Records int       `json:"records"`
}

type Result struct {
	GrammarVersion string           `json:"grammar_version"`
	Delimiter      string           `json:"delimiter"`
	Blocks         []BlockSummary   `json:"blocks"`
	Series         models.Series    `json:"-"`
	Warnings       []models.Warning `json:"warnings"`
}

// Service runs decode, split, section parsing and assembly over one export.
type Service struct {
	opts    Options
	parsers map[BlockKind]Parser
}

func NewService(opts Options) *Service {
	return &Service{opts: opts, parsers: DefaultParsers()}
}

func (s *Service) ParseReader(ctx context.Context, r io.Reader) (*Result, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading export: %w", err)
	}
	return s.Parse(ctx, raw)
}

// Parse fails only for input that is not an export at all. Everything else
// that cannot be read is skipped and reported in Result.Warnings.
func (s *Service) Parse(ctx context.Context, raw []byte) (*Result, error) {
	text, err := Decode(raw, s.opts.Encoding)
	if err != nil {
		return nil, err
	}

	doc, err := Split(text, s.opts.Delimiter)
	if err != nil {
		return nil, err
	}

	res := &Result{
		GrammarVersion: GrammarVersion,
		Delimiter:      string(doc.Delimiter),
		Warnings:       append([]models.Warning(nil), doc.Warnings...),
	}

	parts := make([][]models.CanonicalRecord, 0, len(doc.Blocks)+1)
	for _, b := range doc.Blocks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		parser, ok := s.parsers[b.Kind]
		if !ok {
			continue
		}
		records, warnings := parser.Parse(b)
		parts = append(parts, records)
		res.Warnings = append(res.Warnings, warnings...)
		res.Blocks = append(res.Blocks, BlockSummary{Kind: b.Kind, Name: b.Name, Line: b.Start, Records: len(records)})
	}

	patient, warnings := ParsePatientInfo(doc.Head, doc.Delimiter)
	parts = append(parts, patient)
	res.Warnings = append(res.Warnings, warnings...)

	res.Series = Assemble(parts...)

	for _, w := range res.Warnings {
		logger.Log.WithFields(w.Fields()).Warn(w.Message)
	}
	logger.Log.WithFields(map[string]interface{}{
		"blocks":    len(res.Blocks),
		"records":   len(res.Series),
		"warnings":  len(res.Warnings),
		"delimiter": res.Delimiter,
	}).Info("export parsed")

	return res, nil
}
