// Package matcher maintains the product match set incrementally: each run
// scores internal products against persisted competitor products and creates
// only matches that do not already exist and are not blacklisted.
package matcher

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pricewatch/internal/config"
	"github.com/sells-group/pricewatch/internal/model"
	"github.com/sells-group/pricewatch/internal/similarity"
	"github.com/sells-group/pricewatch/internal/store"
)

// Options control one matching run.
type Options struct {
	// Brands restricts matching to internal products of these vendors.
	Brands []string

	// MinConfidence is the lowest tier persisted; empty uses the config
	// default.
	MinConfidence model.Confidence

	// DryRun computes and reports without persisting.
	DryRun bool

	// ForceRematch re-scores pairs that already have an automatic match,
	// updating them in place. Manual matches are still untouched.
	ForceRematch bool

	// BatchSize overrides the configured flush interval.
	BatchSize int
}

// Result counts one matching run.
type Result struct {
	ProductsScanned  int
	CandidatesScored int
	Created          int
	SkippedExisting  int
	// SkippedRejected counts candidate pairs excluded from scoring by the
	// rejection blacklist.
	SkippedRejected  int
	BelowConfidence  int
	Attempted        int
	Errors           []string
}

// Matcher scores internal products against competitor products.
type Matcher struct {
	store  store.Store
	scorer *similarity.Scorer
	cfg    config.MatchConfig
}

func New(st store.Store, scorer *similarity.Scorer, cfg config.MatchConfig) *Matcher {
	return &Matcher{store: st, scorer: scorer, cfg: cfg}
}

// Run performs one incremental matching pass. For each internal product the
// best-scoring competitor product is considered; pairs already matched (by
// any process) or rejected are skipped. Created matches are flushed every
// BatchSize so an interrupted run keeps its committed batches.
func (m *Matcher) Run(ctx context.Context, opts Options) (Result, error) {
	var res Result

	minConfidence := opts.MinConfidence
	if minConfidence == "" {
		minConfidence = model.Confidence(m.cfg.MinConfidence)
	}
	if !minConfidence.Valid() {
		return res, eris.Errorf("matcher: invalid min confidence %q", minConfidence)
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = m.cfg.BatchSize
	}
	if batchSize <= 0 {
		batchSize = 20
	}

	products, err := m.store.ListProducts(ctx, opts.Brands)
	if err != nil {
		return res, err
	}
	candidates, err := m.store.ListCompetitorProducts(ctx, "")
	if err != nil {
		return res, err
	}
	rejected, existing, err := m.loadPairSets(ctx)
	if err != nil {
		return res, err
	}

	zap.L().Info("matching run started",
		zap.Int("products", len(products)),
		zap.Int("candidates", len(candidates)),
		zap.Int("existing_pairs", len(existing)),
		zap.Int("rejected_pairs", len(rejected)),
		zap.String("min_confidence", string(minConfidence)),
		zap.Bool("dry_run", opts.DryRun))

	var batch []model.ProductMatch
	for _, p := range products {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.ProductsScanned++

		best, bestScore, ok := m.bestCandidate(p, candidates, rejected, &res)
		if !ok {
			continue
		}

		pair := model.Pair{ProductID: p.ID, CompetitorProductID: best.ID}
		if existing[pair] && !opts.ForceRematch {
			res.SkippedExisting++
			continue
		}
		if !bestScore.Confidence.AtLeast(minConfidence) {
			res.BelowConfidence++
			continue
		}

		res.Attempted++
		if opts.DryRun {
			res.Created++
			zap.L().Debug("would create match",
				zap.String("product", p.Title),
				zap.String("candidate", best.Title),
				zap.Float64("score", bestScore.Overall))
			continue
		}

		batch = append(batch, model.ProductMatch{
			ProductID:           p.ID,
			CompetitorProductID: best.ID,
			Score:               bestScore.Overall,
			Factors:             bestScore.Factors,
			Confidence:          bestScore.Confidence,
		})
		existing[pair] = true
		if len(batch) >= batchSize {
			m.flush(ctx, batch, &res)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		m.flush(ctx, batch, &res)
	}

	zap.L().Info("matching run finished",
		zap.Int("created", res.Created),
		zap.Int("skipped_existing", res.SkippedExisting),
		zap.Int("skipped_rejected", res.SkippedRejected),
		zap.Int("below_confidence", res.BelowConfidence),
		zap.Int("errors", len(res.Errors)))
	return res, nil
}

// bestCandidate scores p against every non-rejected candidate and returns
// the single best one. Rejected pairs are excluded before scoring and
// counted, so a blacklisted candidate can never win a product back.
func (m *Matcher) bestCandidate(p model.InternalProduct, candidates []model.CompetitorProduct, rejected map[model.Pair]bool, res *Result) (model.CompetitorProduct, similarity.Score, bool) {
	var best model.CompetitorProduct
	var bestScore similarity.Score
	found := false

	for _, cp := range candidates {
		if rejected[model.Pair{ProductID: p.ID, CompetitorProductID: cp.ID}] {
			res.SkippedRejected++
			continue
		}
		res.CandidatesScored++
		score := m.scorer.Compare(p, cp)
		if !found || score.Overall > bestScore.Overall {
			best, bestScore, found = cp, score, true
		}
	}
	return best, bestScore, found
}

// flush writes one batch. A failed batch is reported and dropped; earlier
// batches stay committed.
func (m *Matcher) flush(ctx context.Context, batch []model.ProductMatch, res *Result) {
	if err := m.store.UpsertMatches(ctx, batch); err != nil {
		res.Errors = append(res.Errors, err.Error())
		zap.L().Error("match batch failed", zap.Int("size", len(batch)), zap.Error(err))
		return
	}
	res.Created += len(batch)
}

func (m *Matcher) loadPairSets(ctx context.Context) (rejected, existing map[model.Pair]bool, err error) {
	rejectedPairs, err := m.store.ListRejectedPairs(ctx)
	if err != nil {
		return nil, nil, err
	}
	rejected = make(map[model.Pair]bool, len(rejectedPairs))
	for _, rp := range rejectedPairs {
		rejected[model.Pair{ProductID: rp.ProductID, CompetitorProductID: rp.CompetitorProductID}] = true
	}

	// Manual and automatic matches both block: the pair set is the union.
	matches, err := m.store.ListMatches(ctx)
	if err != nil {
		return nil, nil, err
	}
	existing = make(map[model.Pair]bool, len(matches))
	for _, pm := range matches {
		existing[pm.PairOf()] = true
	}
	return rejected, existing, nil
}

// CreateManual records a human-confirmed match directly, bypassing the
// scorer's confidence gate but keeping its factor breakdown.
func (m *Matcher) CreateManual(ctx context.Context, productID, competitorProductID string) (model.ProductMatch, error) {
	p, cp, err := m.lookupPair(ctx, productID, competitorProductID)
	if err != nil {
		return model.ProductMatch{}, err
	}
	score := m.scorer.Compare(p, cp)
	match := model.ProductMatch{
		ProductID:           productID,
		CompetitorProductID: competitorProductID,
		Score:               score.Overall,
		Factors:             score.Factors,
		Confidence:          score.Confidence,
		IsManual:            true,
	}
	if err := m.store.UpsertMatches(ctx, []model.ProductMatch{match}); err != nil {
		return model.ProductMatch{}, err
	}
	return match, nil
}

// CreatePerfect records a manual match with every factor forced to 1.0,
// for pairs a human has verified are the same product.
func (m *Matcher) CreatePerfect(ctx context.Context, productID, competitorProductID string) (model.ProductMatch, error) {
	if _, _, err := m.lookupPair(ctx, productID, competitorProductID); err != nil {
		return model.ProductMatch{}, err
	}
	match := model.ProductMatch{
		ProductID:           productID,
		CompetitorProductID: competitorProductID,
		Score:               1.0,
		Factors:             model.FactorScores{Title: 1, Vendor: 1, Price: 1, Type: 1, SKU: 1, Embedding: 1},
		Confidence:          model.ConfidenceHigh,
		IsManual:            true,
	}
	if err := m.store.UpsertMatches(ctx, []model.ProductMatch{match}); err != nil {
		return model.ProductMatch{}, err
	}
	return match, nil
}

// Verify promotes an automatic match to a confirmed manual one.
func (m *Matcher) Verify(ctx context.Context, matchID string) error {
	return m.store.VerifyMatch(ctx, matchID)
}

// Reject removes a match and blacklists its pair permanently.
func (m *Matcher) Reject(ctx context.Context, matchID, reason, rejectedBy string) error {
	return m.store.RejectMatch(ctx, matchID, reason, rejectedBy)
}

func (m *Matcher) lookupPair(ctx context.Context, productID, competitorProductID string) (model.InternalProduct, model.CompetitorProduct, error) {
	products, err := m.store.ListProducts(ctx, nil)
	if err != nil {
		return model.InternalProduct{}, model.CompetitorProduct{}, err
	}
	var p model.InternalProduct
	foundP := false
	for _, cand := range products {
		if cand.ID == productID {
			p, foundP = cand, true
			break
		}
	}
	if !foundP {
		return model.InternalProduct{}, model.CompetitorProduct{}, eris.Wrapf(store.ErrNotFound, "matcher: product %s", productID)
	}

	cps, err := m.store.ListCompetitorProducts(ctx, "")
	if err != nil {
		return model.InternalProduct{}, model.CompetitorProduct{}, err
	}
	for _, cp := range cps {
		if cp.ID == competitorProductID {
			return p, cp, nil
		}
	}
	return model.InternalProduct{}, model.CompetitorProduct{}, eris.Wrapf(store.ErrNotFound, "matcher: competitor product %s", competitorProductID)
}
