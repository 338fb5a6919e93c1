package aggregation

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/mlife-core/platform/pkg/common/logger"
	"github.com/mlife-core/platform/pkg/common/models"
	"github.com/mlife-core/platform/pkg/mapping"
)

// Request selects what to aggregate and how.
type Request struct {
	RecordID  string
	EventName string
	// Days limits the run; empty means every day in the series.
	Days []models.Day
	// Instruments limits the run; empty means all registered instruments.
	// Window instruments run once, at the start of their anchor device, and
	// ignore Days.
	Instruments []string
	// Strategy applies to fields without a strategy of their own. Default median.
	Strategy models.Strategy
	// FieldStrategies overrides per "instrument.field" or plain "field".
	FieldStrategies map[string]models.Strategy
	// NearestTime is the time of day nearest resolves against.
	NearestTime *time.Duration
	// ReferenceTimes sets the nearest reference per instrument, as time of day.
	ReferenceTimes map[string]time.Duration
	// AnchorDay is repeat instance 1. Default: the first aggregated day.
	AnchorDay models.Day
	Patient   *models.PatientContext
}

// Rejection is a record that failed validation, with every violation.
type Rejection struct {
	Record models.AggregatedRecord `json:"record"`
	Errors []*ValidationError      `json:"errors"`
}

type Result struct {
	Records  []models.AggregatedRecord `json:"records"`
	Rejected []Rejection               `json:"rejected,omitempty"`
	Report   models.Report             `json:"report"`
}

// Aggregator runs the (day, instrument) units of a request on a bounded
// worker pool. Units share the series and registry read-only.
type Aggregator struct {
	registry *mapping.Registry
	workers  int
}

func NewAggregator(registry *mapping.Registry, workers int) *Aggregator {
	if workers < 1 {
		workers = 1
	}
	return &Aggregator{registry: registry, workers: workers}
}

type unit struct {
	day        models.Day
	instrument *mapping.Instrument
	// start anchors a window instrument.
	start    time.Time
	record   models.AggregatedRecord
	warnings []models.Warning
}

// Run aggregates the series. Errors are returned only for a malformed
// request or cancellation; data problems end up in the report or in
// Result.Rejected.
func (a *Aggregator) Run(ctx context.Context, series models.Series, req Request) (*Result, error) {
	strategy := req.Strategy
	if strategy == "" {
		strategy = models.StrategyMedian
	}
	if _, err := models.ParseStrategy(string(strategy)); err != nil {
		return nil, err
	}
	for key, st := range req.FieldStrategies {
		if _, err := models.ParseStrategy(string(st)); err != nil {
			return nil, fmt.Errorf("strategy for %s: %w", key, err)
		}
		if err := a.checkTextStrategy(key, st); err != nil {
			return nil, err
		}
	}

	instruments, err := a.instruments(req.Instruments)
	if err != nil {
		return nil, err
	}

	days := selectDays(req.Days, series)
	if len(days) == 0 {
		return &Result{}, nil
	}
	anchor := req.AnchorDay
	if anchor == "" {
		anchor = days[0]
	}

	byDay := make(map[models.Day][]models.CanonicalRecord, len(days))
	for _, r := range series {
		d := r.Day()
		byDay[d] = append(byDay[d], r)
	}
	weight, hasWeight := EffectiveWeight(req.Patient, series)

	var daily, windowed []*mapping.Instrument
	for _, in := range instruments {
		if in.Windowed() {
			windowed = append(windowed, in)
			continue
		}
		daily = append(daily, in)
	}

	var skipped []models.Warning
	units := make([]unit, 0, len(days)*len(daily)+len(windowed))
	for _, d := range days {
		for _, in := range daily {
			units = append(units, unit{day: d, instrument: in})
		}
	}
	for _, in := range windowed {
		start, ok := req.Patient.DeviceStartFor(in.Window.Anchor)
		if !ok {
			// Only worth a warning when the caller asked for the form.
			if len(req.Instruments) > 0 {
				skipped = append(skipped, models.Warning{
					Kind:       models.WarnUnresolvedField,
					Instrument: in.Name,
					Message:    fmt.Sprintf("no %s start time, assessment skipped", in.Window.Anchor),
				})
			}
			continue
		}
		units = append(units, unit{day: models.DayOf(start), instrument: in, start: start})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i := range units {
		u := &units[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			b := builder{
				in:        u.instrument,
				day:       u.day,
				records:   byDay[u.day],
				req:       &req,
				strategy:  strategy,
				weight:    weight,
				hasWeight: hasWeight,
			}
			instance := u.day.DaysSince(anchor) + 1
			if u.instrument.Windowed() {
				b.records = series
				b.anchor = u.start
				b.strategy = models.StrategyNearest
				instance = 0
			}
			u.record, u.warnings = b.build(req.RecordID, instance)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{}
	res.Report.Add(skipped...)
	for _, u := range units {
		res.Report.Add(u.warnings...)
		if err := Validate(u.instrument, &u.record); err != nil {
			verrs := ValidationErrors(err)
			res.Rejected = append(res.Rejected, Rejection{Record: u.record, Errors: verrs})
			for _, v := range verrs {
				res.Report.Add(models.Warning{
					Kind:       models.WarnValidation,
					Day:        v.Day,
					Instrument: v.Instrument,
					Field:      v.Field,
					Message:    v.Reason,
				})
			}
			continue
		}
		res.Records = append(res.Records, u.record)
	}

	for _, w := range res.Report.Warnings {
		if w.Kind == models.WarnUnresolvedField {
			logger.Log.WithFields(w.Fields()).Debug(w.Message)
			continue
		}
		logger.Log.WithFields(w.Fields()).Warn(w.Message)
	}
	logger.Log.WithFields(map[string]interface{}{
		"record_id":   req.RecordID,
		"days":        len(days),
		"instruments": len(instruments),
		"windowed":    len(windowed),
		"records":     len(res.Records),
		"rejected":    len(res.Rejected),
	}).Info("aggregation finished")

	return res, nil
}

func (a *Aggregator) instruments(names []string) ([]*mapping.Instrument, error) {
	if len(names) == 0 {
		names = a.registry.Names()
	}
	out := make([]*mapping.Instrument, 0, len(names))
	for _, name := range names {
		in, err := a.registry.Instrument(name)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}

// checkTextStrategy rejects a numeric strategy override naming a field that
// resolves from text. Keys are "instrument.field" or a plain field name.
func (a *Aggregator) checkTextStrategy(key string, st models.Strategy) error {
	if !st.Numeric() {
		return nil
	}
	instrument, field := "", key
	if i := strings.IndexByte(key, '.'); i >= 0 {
		instrument, field = key[:i], key[i+1:]
	}
	for _, name := range a.registry.Names() {
		if instrument != "" && name != instrument {
			continue
		}
		in, err := a.registry.Instrument(name)
		if err != nil {
			return err
		}
		if rule, ok := in.Rule(field); ok && textual(rule) {
			return fmt.Errorf("strategy %s for %s: %w", st, key, ErrTextStrategy)
		}
	}
	return nil
}

func selectDays(requested []models.Day, series models.Series) []models.Day {
	if len(requested) == 0 {
		return series.Days()
	}
	seen := make(map[models.Day]struct{}, len(requested))
	days := make([]models.Day, 0, len(requested))
	for _, d := range requested {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		days = append(days, d)
	}
	models.SortDays(days)
	return days
}

// builder assembles one record from the records of its day, or for a
// window instrument from the whole series up to the anchor.
type builder struct {
	in        *mapping.Instrument
	day       models.Day
	records   []models.CanonicalRecord
	anchor    time.Time
	req       *Request
	strategy  models.Strategy
	weight    float64
	hasWeight bool

	// tiers records which look-back each resolved field came from.
	tiers    map[string]int
	warnings []models.Warning
}

func (b *builder) windowed() bool {
	return b.in.Window != nil
}

func (b *builder) build(recordID string, instance int) (models.AggregatedRecord, []models.Warning) {
	event := b.in.EventName
	if event == "" {
		event = b.req.EventName
	}
	rec := models.AggregatedRecord{
		RecordID:       recordID,
		EventName:      event,
		Instrument:     b.in.Name,
		RepeatInstance: instance,
		Day:            b.day,
	}

	for _, f := range b.in.DateFields {
		rec.Set(f, models.Text(string(b.day)).Ptr())
	}
	for _, f := range b.in.TimePointFields {
		rec.Set(f, models.Number(float64(instance)).Ptr())
	}
	if b.in.TimeField != "" {
		var v *models.Value
		if b.req.NearestTime != nil {
			v = models.Text(b.day.At(*b.req.NearestTime).Format("15:04")).Ptr()
		}
		rec.Set(b.in.TimeField, v)
	}
	for _, c := range b.in.Constants {
		rec.Set(c.Field, models.Number(c.Value).Ptr())
	}
	w := b.in.Window
	if w != nil {
		for _, f := range []string{w.DateField, w.TimeField} {
			if f != "" {
				rec.Set(f, nil)
			}
		}
	}

	ref := b.reference()
	b.tiers = make(map[string]int, len(b.in.Fields))
	var unresolved []string
	var assessed time.Time
	for i := range b.in.Fields {
		rule := &b.in.Fields[i]
		matches, tier := b.matches(rule)
		v := b.resolve(rule, matches, ref)
		rec.Set(rule.Field, v)
		if v == nil {
			unresolved = append(unresolved, rule.Field)
			continue
		}
		b.tiers[rule.Field] = tier
		if w != nil && contains(w.AssessFrom, rule.Field) {
			if t := latest(usable(rule, matches)); t.After(assessed) {
				assessed = t
			}
		}
	}
	if w != nil && !assessed.IsZero() {
		if w.DateField != "" {
			rec.Set(w.DateField, models.Text(string(models.DayOf(assessed))).Ptr())
		}
		if w.TimeField != "" {
			rec.Set(w.TimeField, models.Text(assessed.Format("15:04")).Ptr())
		}
	}
	for i := range b.in.Flags {
		flag := &b.in.Flags[i]
		rec.Set(flag.Field, b.flag(flag, &rec))
	}

	if len(unresolved) > 0 {
		b.warnings = append(b.warnings, models.Warning{
			Kind:       models.WarnUnresolvedField,
			Day:        b.day,
			Instrument: b.in.Name,
			Message:    fmt.Sprintf("%d fields without data: %s", len(unresolved), strings.Join(unresolved, ", ")),
		})
	}
	return rec, b.warnings
}

// reference is the nearest target: the anchor of a window instrument, else
// the instrument reference time, then the request time, then the device
// start time of day, then the earliest record of the instrument that day.
func (b *builder) reference() time.Time {
	if b.windowed() {
		return b.anchor
	}
	if off, ok := b.req.ReferenceTimes[b.in.Name]; ok {
		return b.day.At(off)
	}
	if b.req.NearestTime != nil {
		return b.day.At(*b.req.NearestTime)
	}
	if b.in.Device != "" {
		if start, ok := b.req.Patient.DeviceStartFor(b.in.Device); ok {
			return b.day.At(timeOfDay(start))
		}
	}
	var earliest time.Time
	for _, r := range b.records {
		if b.in.Matches(r) && (earliest.IsZero() || r.Timestamp.Before(earliest)) {
			earliest = r.Timestamp
		}
	}
	return earliest
}

func (b *builder) strategyFor(rule *mapping.FieldRule) models.Strategy {
	if st, ok := b.req.FieldStrategies[b.in.Name+"."+rule.Field]; ok {
		return st
	}
	if st, ok := b.req.FieldStrategies[rule.Field]; ok {
		return st
	}
	if rule.Strategy != "" {
		return rule.Strategy
	}
	return b.strategy
}

// matches selects the records feeding rule: the records of the day, or for
// a window instrument those of its look-back, widened to the fallback
// look-back when the first holds nothing usable. The tier is 1 for the first
// look-back and 2 for the fallback.
func (b *builder) matches(rule *mapping.FieldRule) ([]models.CanonicalRecord, int) {
	if !b.windowed() {
		return rule.Select(b.day, b.records), 1
	}
	from, to := mapping.Span(b.anchor, b.in.Window.HoursFor(rule))
	matches := rule.SelectBetween(from, to, b.records)
	if rule.FallbackHours <= 0 || len(usable(rule, matches)) > 0 {
		return matches, 1
	}
	from, to = mapping.Span(b.anchor, rule.FallbackHours)
	return rule.SelectBetween(from, to, b.records), 2
}

func (b *builder) resolve(rule *mapping.FieldRule, matches []models.CanonicalRecord, ref time.Time) *models.Value {
	strategy := b.strategyFor(rule)
	if textual(rule) && strategy.Numeric() {
		if len(nonEmpty(matches)) > 0 {
			b.convFailed(rule.Field, fmt.Errorf("%w: %s", ErrTextStrategy, strategy))
		}
		return nil
	}

	switch rule.Transform {
	case mapping.TransformCount:
		if len(matches) == 0 {
			return nil
		}
		return models.Number(float64(len(matches))).Ptr()

	case mapping.TransformPLevel:
		for _, r := range matches {
			if n, ok := PLevel(r.Value); ok {
				return models.Number(float64(n)).Ptr()
			}
		}
		if len(matches) > 0 {
			b.convFailed(rule.Field, errNoPLevel)
		}
		return nil

	case mapping.TransformVentMode:
		v := b.must(Resolve(strategy, nonEmpty(matches), ref))
		if v == nil {
			return nil
		}
		code, ok, err := VentMode(v.Text())
		if err != nil {
			b.convFailed(rule.Field, err)
			return nil
		}
		if !ok {
			return nil
		}
		return models.Number(float64(code)).Ptr()

	case mapping.TransformInfusionRate:
		return b.must(Resolve(strategy, rates(matches), ref))

	case mapping.TransformInfusionDose:
		return b.dose(rule, rates(matches), strategy, ref)
	}

	if rule.Kind != mapping.KindText {
		matches = numeric(matches)
	}
	v := b.must(Resolve(strategy, matches, ref))
	if v != nil && rule.Kind == mapping.KindInteger {
		if n, ok := v.Float(); ok {
			return models.Number(math.Round(n)).Ptr()
		}
	}
	return v
}

// dose converts every running rate with the concentration of its own record
// and resolves the strategy over the doses. Rates without a readable
// concentration are left out with a warning.
func (b *builder) dose(rule *mapping.FieldRule, fed []models.CanonicalRecord, strategy models.Strategy, ref time.Time) *models.Value {
	if len(fed) == 0 {
		return nil
	}
	if !b.hasWeight {
		b.convFailed(rule.Field, errNoWeight)
		return nil
	}
	doses := make([]models.CanonicalRecord, 0, len(fed))
	for _, r := range fed {
		conc, ok := concentration(r, rule.DilutionUgPerMl)
		if !ok {
			continue
		}
		rate, _ := r.Value.Float()
		d, err := InfusionDose(rate, conc, b.weight)
		if err != nil {
			b.convFailed(rule.Field, err)
			return nil
		}
		r.Value = models.Number(d)
		doses = append(doses, r)
	}
	switch missing := len(fed) - len(doses); {
	case len(doses) == 0:
		b.convFailed(rule.Field, errNoConcentration)
		return nil
	case missing > 0:
		b.convFailed(rule.Field, fmt.Errorf("%w on %d of %d rates", errNoConcentration, missing, len(fed)))
	}
	return b.must(Resolve(strategy, doses, ref))
}

// must drops the error of Resolve; strategies are checked before any unit runs.
func (b *builder) must(v *models.Value, err error) *models.Value {
	if err != nil {
		b.convFailed("", err)
		return nil
	}
	return v
}

func (b *builder) convFailed(field string, err error) {
	ce := conversionError(field, err)
	b.warnings = append(b.warnings, models.Warning{
		Kind:       models.WarnConversion,
		Day:        b.day,
		Instrument: b.in.Name,
		Field:      field,
		Message:    ce.Error(),
	})
}

func (b *builder) flag(f *mapping.FlagRule, rec *models.AggregatedRecord) *models.Value {
	switch f.Kind {
	case mapping.FlagCoOccurrence:
		records := b.flagRecords(f)
		for _, src := range f.Sources {
			if !hasSource(records, src) {
				return boolValue(false)
			}
		}
		return boolValue(true)

	case mapping.FlagAnyPresent:
		for _, name := range f.Fields {
			if v, _ := rec.Get(name); v != nil {
				return boolValue(true)
			}
		}
		return boolValue(false)

	case mapping.FlagAnyPositive:
		for _, name := range f.Fields {
			if positive(rec, name) {
				return boolValue(true)
			}
		}
		return boolValue(false)

	case mapping.FlagNoneOf:
		for _, name := range f.Fields {
			if positive(rec, name) {
				return boolValue(false)
			}
		}
		return boolValue(true)

	case mapping.FlagFieldChoice:
		for _, c := range f.Choices {
			if v, _ := rec.Get(c.Field); v != nil {
				return models.Number(float64(c.Code)).Ptr()
			}
		}
		return nil

	case mapping.FlagFallbackUsed:
		var tier int
		for _, name := range f.Fields {
			if t := b.tiers[name]; t > tier {
				tier = t
			}
		}
		if tier == 0 {
			return nil
		}
		return models.Number(float64(tier)).Ptr()

	case mapping.FlagRecordsPresent:
		for _, r := range b.flagRecords(f) {
			if f.Match.Matches(r) {
				return boolValue(true)
			}
		}
		return boolValue(false)

	case mapping.FlagChoice:
		var code *models.Value
		records := b.flagRecords(f)
		for _, c := range f.Choices {
			for _, r := range records {
				if f.Match.Matches(r) && c.Matches(r.Parameter) {
					code = models.Number(float64(c.Code)).Ptr()
					break
				}
			}
		}
		return code
	}
	return nil
}

// flagRecords are the records of the day, or the look-back of the flag for
// a window instrument.
func (b *builder) flagRecords(f *mapping.FlagRule) []models.CanonicalRecord {
	if !b.windowed() {
		return b.records
	}
	from, to := mapping.Span(b.anchor, b.in.Window.FlagHours(f))
	return mapping.Within(from, to, b.records)
}

func hasSource(records []models.CanonicalRecord, source string) bool {
	for _, r := range records {
		if mapping.MatchesSource(r.SourceType, source) {
			return true
		}
	}
	return false
}

func positive(rec *models.AggregatedRecord, name string) bool {
	v, _ := rec.Get(name)
	if v == nil {
		return false
	}
	n, ok := v.Float()
	return ok && n > 0
}

// textual reports whether a rule resolves from text values.
func textual(rule *mapping.FieldRule) bool {
	return rule.Kind == mapping.KindText || rule.Transform == mapping.TransformVentMode
}

// usable keeps the records a rule can resolve from.
func usable(rule *mapping.FieldRule, records []models.CanonicalRecord) []models.CanonicalRecord {
	switch {
	case rule.Transform == mapping.TransformInfusionDose, rule.Transform == mapping.TransformInfusionRate:
		return rates(records)
	case rule.Transform == mapping.TransformCount:
		return records
	case textual(rule), rule.Transform == mapping.TransformPLevel:
		return nonEmpty(records)
	}
	return numeric(records)
}

func latest(records []models.CanonicalRecord) time.Time {
	var t time.Time
	for _, r := range records {
		if r.Timestamp.After(t) {
			t = r.Timestamp
		}
	}
	return t
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func boolValue(ok bool) *models.Value {
	if ok {
		return models.Number(1).Ptr()
	}
	return models.Number(0).Ptr()
}

func numeric(records []models.CanonicalRecord) []models.CanonicalRecord {
	var out []models.CanonicalRecord
	for _, r := range records {
		if r.Value.IsNumber() {
			out = append(out, r)
		}
	}
	return out
}

func nonEmpty(records []models.CanonicalRecord) []models.CanonicalRecord {
	var out []models.CanonicalRecord
	for _, r := range records {
		if strings.TrimSpace(r.Value.Text()) != "" {
			out = append(out, r)
		}
	}
	return out
}

// rates turns medication records into running-rate observations in ml/h.
func rates(records []models.CanonicalRecord) []models.CanonicalRecord {
	var out []models.CanonicalRecord
	for _, r := range records {
		switch {
		case r.Rate != nil:
			r.Value = models.Number(*r.Rate)
		case r.Value.IsNumber():
		default:
			continue
		}
		out = append(out, r)
	}
	return out
}

// concentration reads the strength of one medication record, from its
// concentration column or else its label.
func concentration(r models.CanonicalRecord, dilution *float64) (decimal.Decimal, bool) {
	if c, ok := ConcentrationUgPerMl(r.Concentration, dilution); ok {
		return c, true
	}
	return ConcentrationUgPerMl(r.Parameter, dilution)
}

func timeOfDay(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second
}
