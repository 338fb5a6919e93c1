// Package pipeline runs an export through parsing, aggregation,
// de-identification and hand-off.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mlife-core/platform/pkg/aggregation"
	"github.com/mlife-core/platform/pkg/canonical"
	"github.com/mlife-core/platform/pkg/common/logger"
	"github.com/mlife-core/platform/pkg/common/models"
	"github.com/mlife-core/platform/pkg/deid"
	"github.com/mlife-core/platform/pkg/ingestion"
	"github.com/mlife-core/platform/pkg/mapping"
	"github.com/mlife-core/platform/pkg/observability/metrics"
	"github.com/mlife-core/platform/pkg/storage"
)

const (
	EventRecordAggregated = "mlife.record.aggregated"
	EventSource           = "mlife-export"
)

type Publisher interface {
	PublishEvent(ctx context.Context, key, eventType, source string, data map[string]interface{}) error
}

type Stager interface {
	WriteRun(ctx context.Context, runID string, records []models.AggregatedRecord) error
}

type TokenVault interface {
	Save(ctx context.Context, tokens []deid.TokenRecord) error
}

type RunLog interface {
	Create(ctx context.Context, rec *RunRecord) error
	UpdateStatus(ctx context.Context, id, status, errMsg string) error
	RecordCounts(ctx context.Context, id string, records, rejected, warnings int) error
	Get(ctx context.Context, id string) (*RunRecord, error)
}

// Deps are the optional collaborators of a run. Nil members are skipped.
type Deps struct {
	Sink      storage.Sink
	Runs      storage.RunStore
	Publisher Publisher
	Stager    Stager
	Vault     TokenVault
	RunLog    RunLog
}

type Options struct {
	// Deid nil disables de-identification of artifacts.
	Deid *deid.RulesConfig
	Salt string
	// CanonicalExt is appended to the canonical artifact name, e.g. ".zst".
	CanonicalExt string
}

type Service struct {
	parser     *ingestion.Service
	aggregator *aggregation.Aggregator
	opts       Options
	deps       Deps
}

func NewService(parser *ingestion.Service, aggregator *aggregation.Aggregator, opts Options, deps Deps) *Service {
	return &Service{parser: parser, aggregator: aggregator, opts: opts, deps: deps}
}

// Run processes one export. Input and request errors are returned as is;
// a failing collaborator fails the run after its status is recorded.
func (s *Service) Run(ctx context.Context, raw []byte, req RunRequest) (*RunResult, error) {
	id := uuid.New().String()
	started := time.Now()
	log := logger.Log.WithFields(map[string]interface{}{
		"run_id":    id,
		"record_id": req.Aggregation.RecordID,
	})

	if s.deps.RunLog != nil {
		if err := s.deps.RunLog.Create(ctx, &RunRecord{ID: id, RecordID: req.Aggregation.RecordID, Status: StatusAccepted}); err != nil {
			return nil, fmt.Errorf("persisting run record: %w", err)
		}
	}

	res, err := s.run(ctx, id, raw, req)
	if err != nil {
		log.WithError(err).Error("run failed")
		s.updateStatus(id, StatusFailed, err.Error())
		metrics.ObserveRun(metrics.RunOutcome{Status: StatusFailed, Started: started})
		return nil, err
	}

	s.recordCounts(ctx, id, res)
	s.updateStatus(id, StatusCompleted, "")
	rejected := make([]models.AggregatedRecord, len(res.Rejected))
	for i, r := range res.Rejected {
		rejected[i] = r.Record
	}
	metrics.ObserveRun(metrics.RunOutcome{
		Status:       StatusCompleted,
		Started:      started,
		Observations: res.Observations,
		Records:      res.Records,
		Rejected:     rejected,
		Warnings:     res.Warnings,
	})

	log.WithFields(map[string]interface{}{
		"records":   len(res.Records),
		"rejected":  len(res.Rejected),
		"warnings":  len(res.Warnings),
		"artifacts": len(res.Artifacts),
	}).Info("run completed")
	return res, nil
}

func (s *Service) run(ctx context.Context, id string, raw []byte, req RunRequest) (*RunResult, error) {
	parsed, err := s.parser.Parse(ctx, raw)
	if err != nil {
		return nil, err
	}

	agg, err := s.aggregator.Run(ctx, parsed.Series, req.Aggregation)
	if err != nil {
		return nil, err
	}

	res := &RunResult{
		RunID:          id,
		RecordID:       req.Aggregation.RecordID,
		Status:         StatusCompleted,
		CreatedAt:      time.Now().UTC(),
		GrammarVersion: parsed.GrammarVersion,
		Delimiter:      parsed.Delimiter,
		Blocks:         parsed.Blocks,
		Observations:   len(parsed.Series),
		Records:        agg.Records,
		Rejected:       agg.Rejected,
		Warnings:       append(append([]models.Warning{}, parsed.Warnings...), agg.Report.Warnings...),
	}
	if res.Records == nil {
		res.Records = []models.AggregatedRecord{}
	}

	series := parsed.Series
	if s.opts.Deid != nil {
		terms := append(append([]string{}, req.Terms...), deid.IdentifierTerms(*s.opts.Deid, series)...)
		scrubber, err := deid.NewScrubber(*s.opts.Deid, s.opts.Salt, terms...)
		if err != nil {
			return nil, fmt.Errorf("de-identification: %w", err)
		}
		var summary deid.Summary
		series, summary = scrubber.Scrub(series)
		res.Deid = &summary
		if s.deps.Vault != nil {
			if err := s.deps.Vault.Save(ctx, summary.Tokens); err != nil {
				return nil, fmt.Errorf("saving pseudonyms: %w", err)
			}
		}
	}

	if s.deps.Sink != nil {
		keys, err := s.writeArtifacts(ctx, id, series, res)
		if err != nil {
			return nil, err
		}
		res.Artifacts = keys
	}

	if s.deps.Stager != nil {
		if err := s.deps.Stager.WriteRun(ctx, id, res.Records); err != nil {
			return nil, fmt.Errorf("staging records: %w", err)
		}
	}

	if err := s.publish(ctx, id, res.Records); err != nil {
		return nil, err
	}

	if s.deps.Runs != nil {
		payload, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("encoding run result: %w", err)
		}
		if err := s.deps.Runs.Save(ctx, id, payload); err != nil {
			return nil, err
		}
	}

	return res, nil
}

func (s *Service) writeArtifacts(ctx context.Context, id string, series models.Series, res *RunResult) ([]string, error) {
	var buf bytes.Buffer
	if err := canonical.Write(&buf, series); err != nil {
		return nil, fmt.Errorf("encoding canonical table: %w", err)
	}
	canonicalKey := fmt.Sprintf("runs/%s/canonical.csv%s", id, s.opts.CanonicalExt)
	if err := storage.WriteArtifact(ctx, s.deps.Sink, canonicalKey, buf.Bytes()); err != nil {
		return nil, err
	}

	records, err := json.MarshalIndent(res.Records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding records: %w", err)
	}
	recordsKey := fmt.Sprintf("runs/%s/records.json", id)
	if err := storage.WriteArtifact(ctx, s.deps.Sink, recordsKey, records); err != nil {
		return nil, err
	}
	return []string{canonicalKey, recordsKey}, nil
}

func (s *Service) publish(ctx context.Context, id string, records []models.AggregatedRecord) error {
	if s.deps.Publisher == nil {
		return nil
	}
	for i := range records {
		rec := &records[i]
		data := map[string]interface{}{
			"run_id":     id,
			"instrument": rec.Instrument,
			"day":        string(rec.Day),
			"record":     rec.Flat(),
		}
		if err := s.deps.Publisher.PublishEvent(ctx, rec.RecordID, EventRecordAggregated, EventSource, data); err != nil {
			return fmt.Errorf("publishing %s/%s: %w", rec.Instrument, rec.Day, err)
		}
	}
	return nil
}

// updateStatus is best effort and outlives a cancelled request context.
func (s *Service) updateStatus(id, status, errMsg string) {
	if s.deps.RunLog == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.RunLog.UpdateStatus(ctx, id, status, errMsg); err != nil {
		logger.Log.WithError(err).WithField("run_id", id).Warn("failed to update run status")
	}
}

func (s *Service) recordCounts(ctx context.Context, id string, res *RunResult) {
	if s.deps.RunLog == nil {
		return
	}
	if err := s.deps.RunLog.RecordCounts(ctx, id, len(res.Records), len(res.Rejected), len(res.Warnings)); err != nil {
		logger.Log.WithError(err).WithField("run_id", id).Warn("failed to record run counts")
	}
}

// Result returns a cached run result.
func (s *Service) Result(ctx context.Context, id string) (*RunResult, error) {
	if s.deps.Runs == nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrRunNotFound, id)
	}
	payload, err := s.deps.Runs.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	var res RunResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decoding run %s: %w", id, err)
	}
	return &res, nil
}

// Status returns the persisted status of a run, including failed runs that
// never produced a result.
func (s *Service) Status(ctx context.Context, id string) (*RunRecord, error) {
	if s.deps.RunLog == nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrRunNotFound, id)
	}
	return s.deps.RunLog.Get(ctx, id)
}

// IsInputError reports whether err is the caller's fault.
func IsInputError(err error) bool {
	return IsRequestError(err) ||
		ingestion.IsMalformedInput(err) ||
		errors.Is(err, models.ErrUnknownStrategy) ||
		errors.Is(err, aggregation.ErrTextStrategy) ||
		errors.Is(err, mapping.ErrUnknownInstrument)
}
