// Package violation scans the match set for competitor prices advertised
// below the internal reference price, tracks each violation's history, and
// auto-resolves violations once the price recovers.
package violation

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pricewatch/internal/config"
	"github.com/sells-group/pricewatch/internal/model"
	"github.com/sells-group/pricewatch/internal/store"
)

// priceEpsilon separates real price movement from float noise.
const priceEpsilon = 0.01

// Options control one detection scan.
type Options struct {
	// Brands restricts the scan to matches whose internal product belongs
	// to one of these vendors.
	Brands []string

	// SeverityFilter limits reporting to the given severities. History and
	// match updates still happen for every severity found.
	SeverityFilter []model.Severity

	// DryRun computes and reports without persisting anything.
	DryRun bool

	// RecordHistory controls history/alert persistence; reporting-only
	// callers set it to false together with a severity filter.
	RecordHistory bool
}

// Finding is one violation surfaced by a scan, after severity filtering.
type Finding struct {
	Match           model.ProductMatch
	ProductTitle    string
	CompetitorName  string
	ReferencePrice  float64
	CompetitorPrice float64
	Severity        model.Severity
	Percent         float64
	New             bool
}

// Result summarizes one scan.
type Result struct {
	Scanned       int
	Violations    int
	New           int
	PriceChanged  int
	AutoResolved  int
	MissingPrices int
	Findings      []Finding
	Errors        []string
}

// Detector evaluates every active match against the reference price.
type Detector struct {
	store   store.Store
	alerter *Alerter
	cfg     config.ViolationConfig
}

// New builds a Detector; alerter may be nil when alert delivery is not
// configured.
func New(st store.Store, alerter *Alerter, cfg config.ViolationConfig) *Detector {
	return &Detector{store: st, alerter: alerter, cfg: cfg}
}

// SeverityFor buckets a fractional shortfall. Zero means no violation.
func (d *Detector) SeverityFor(shortfall float64) model.Severity {
	severe, moderate, minor := d.cfg.SevereThreshold, d.cfg.ModerateThreshold, d.cfg.MinorThreshold
	if severe <= 0 {
		severe = 0.20
	}
	if moderate <= 0 {
		moderate = 0.10
	}
	if minor <= 0 {
		minor = 0.01
	}
	switch {
	case shortfall >= severe:
		return model.SeveritySevere
	case shortfall >= moderate:
		return model.SeverityModerate
	case shortfall >= minor:
		return model.SeverityMinor
	default:
		return ""
	}
}

// Scan walks every match once. Per-match failures are counted and the scan
// continues; alert delivery failures never block the remaining matches.
func (d *Detector) Scan(ctx context.Context, opts Options) (Result, error) {
	var res Result

	matches, err := d.store.ListMatches(ctx)
	if err != nil {
		return res, err
	}
	products, err := d.productsByID(ctx, opts.Brands)
	if err != nil {
		return res, err
	}
	competitorProducts, competitorNames, err := d.competitorProductsByID(ctx)
	if err != nil {
		return res, err
	}

	for _, m := range matches {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		p, ok := products[m.ProductID]
		if !ok {
			// Product missing or filtered out by brand.
			continue
		}
		cp, ok := competitorProducts[m.CompetitorProductID]
		if !ok {
			continue
		}
		res.Scanned++

		if p.Price <= 0 || cp.Price <= 0 {
			res.MissingPrices++
			continue
		}

		if err := d.scanOne(ctx, &res, opts, m, p, cp, competitorNames[cp.CompetitorID]); err != nil {
			res.Errors = append(res.Errors, err.Error())
			zap.L().Warn("match scan failed", zap.String("match", m.ID), zap.Error(err))
		}
	}

	zap.L().Info("violation scan finished",
		zap.Int("scanned", res.Scanned),
		zap.Int("violations", res.Violations),
		zap.Int("new", res.New),
		zap.Int("price_changed", res.PriceChanged),
		zap.Int("auto_resolved", res.AutoResolved),
		zap.Int("missing_prices", res.MissingPrices))
	return res, nil
}

func (d *Detector) scanOne(ctx context.Context, res *Result, opts Options, m model.ProductMatch, p model.InternalProduct, cp model.CompetitorProduct, competitorName string) error {
	shortfall := (p.Price - cp.Price) / p.Price
	severity := model.Severity("")
	if cp.Price < p.Price {
		severity = d.SeverityFor(shortfall)
	}

	if severity == "" {
		if m.IsViolation {
			return d.autoResolve(ctx, res, opts, m, p, cp)
		}
		return d.touch(ctx, opts, m)
	}

	res.Violations++
	isNew := !m.IsViolation

	last, err := d.store.LatestViolationHistory(ctx, m.ID)
	if err != nil {
		return err
	}
	priceChanged := last != nil && last.Type != model.ViolationAutoResolved &&
		math.Abs(last.CompetitorPrice-cp.Price) > priceEpsilon

	if isNew {
		res.New++
	} else if priceChanged {
		res.PriceChanged++
	}

	if severityWanted(opts.SeverityFilter, severity) {
		res.Findings = append(res.Findings, Finding{
			Match:           m,
			ProductTitle:    p.Title,
			CompetitorName:  competitorName,
			ReferencePrice:  p.Price,
			CompetitorPrice: cp.Price,
			Severity:        severity,
			Percent:         shortfall,
			New:             isNew,
		})
	}

	if opts.DryRun || !opts.RecordHistory {
		return nil
	}
	if !isNew && !priceChanged {
		// Unchanged ongoing violation: only the check timestamp moves.
		return d.updateMatch(ctx, m, true, p.Price-cp.Price, shortfall, m.FirstViolatedAt)
	}

	eventType := model.ViolationPriceChanged
	var previous float64
	if isNew {
		eventType = model.ViolationNew
	} else if last != nil {
		previous = last.CompetitorPrice
	}
	err = d.store.AddViolationHistory(ctx, model.ViolationHistory{
		MatchID:         m.ID,
		Type:            eventType,
		Severity:        severity,
		CompetitorPrice: cp.Price,
		ReferencePrice:  p.Price,
		Amount:          p.Price - cp.Price,
		Percent:         shortfall,
		PreviousPrice:   previous,
	})
	if err != nil {
		return err
	}

	first := m.FirstViolatedAt
	if first == nil {
		now := time.Now().UTC()
		first = &now
	}
	if err := d.updateMatch(ctx, m, true, p.Price-cp.Price, shortfall, first); err != nil {
		return err
	}

	if isNew && d.alerter != nil {
		// Alerts go out for new violations only; delivery failure is logged
		// by the alerter and does not fail the scan.
		d.alerter.Emit(ctx, AlertRequest{
			ProductMatchID:  m.ID,
			ProductTitle:    p.Title,
			CompetitorName:  competitorName,
			ReferencePrice:  p.Price,
			CompetitorPrice: cp.Price,
			Severity:        severity,
		})
	}
	return nil
}

// autoResolve clears a previously flagged match whose competitor price has
// recovered, appending exactly one auto-resolved entry.
func (d *Detector) autoResolve(ctx context.Context, res *Result, opts Options, m model.ProductMatch, p model.InternalProduct, cp model.CompetitorProduct) error {
	res.AutoResolved++
	if opts.DryRun || !opts.RecordHistory {
		return nil
	}

	var previous float64
	if last, err := d.store.LatestViolationHistory(ctx, m.ID); err == nil && last != nil {
		previous = last.CompetitorPrice
	}
	err := d.store.AddViolationHistory(ctx, model.ViolationHistory{
		MatchID:         m.ID,
		Type:            model.ViolationAutoResolved,
		CompetitorPrice: cp.Price,
		ReferencePrice:  p.Price,
		PreviousPrice:   previous,
	})
	if err != nil {
		return err
	}
	if err := d.updateMatch(ctx, m, false, 0, 0, nil); err != nil {
		return err
	}

	resolved, err := d.store.ResolveOpenAlerts(ctx, m.ID)
	if err != nil {
		return err
	}
	zap.L().Info("violation auto-resolved",
		zap.String("match", m.ID),
		zap.String("product", p.Title),
		zap.Float64("competitor_price", cp.Price),
		zap.Float64("reference_price", p.Price),
		zap.Int("alerts_closed", resolved))
	return nil
}

// touch records that a clean match was checked.
func (d *Detector) touch(ctx context.Context, opts Options, m model.ProductMatch) error {
	if opts.DryRun || !opts.RecordHistory {
		return nil
	}
	return d.updateMatch(ctx, m, false, 0, 0, nil)
}

func (d *Detector) updateMatch(ctx context.Context, m model.ProductMatch, violating bool, amount, percent float64, firstViolatedAt *time.Time) error {
	now := time.Now().UTC()
	m.IsViolation = violating
	m.ViolationAmount = amount
	m.ViolationPercent = percent
	m.FirstViolatedAt = firstViolatedAt
	m.LastCheckedAt = &now
	return eris.Wrapf(d.store.UpdateMatchViolation(ctx, m), "violation: update match %s", m.ID)
}

func (d *Detector) productsByID(ctx context.Context, brands []string) (map[string]model.InternalProduct, error) {
	products, err := d.store.ListProducts(ctx, brands)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.InternalProduct, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return byID, nil
}

func (d *Detector) competitorProductsByID(ctx context.Context) (map[string]model.CompetitorProduct, map[string]string, error) {
	cps, err := d.store.ListCompetitorProducts(ctx, "")
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[string]model.CompetitorProduct, len(cps))
	for _, cp := range cps {
		byID[cp.ID] = cp
	}

	competitors, err := d.store.ListCompetitors(ctx, false)
	if err != nil {
		return nil, nil, err
	}
	names := make(map[string]string, len(competitors))
	for _, c := range competitors {
		names[c.ID] = c.Name
	}
	return byID, names, nil
}

func severityWanted(filter []model.Severity, s model.Severity) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == s {
			return true
		}
	}
	return false
}
