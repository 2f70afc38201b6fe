package grid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/beewatch/beewatch/internal/classify"
	"github.com/beewatch/beewatch/internal/feature"
	"github.com/beewatch/beewatch/internal/hexgrid"
)

// AssemblerConfig holds configuration for the Assembler.
type AssemblerConfig struct {
	// Workers bounds concurrent cell fetches.
	// Default: 8
	Workers int

	// CellTimeout bounds fetch and classification of one cell.
	// Default: 20 seconds
	CellTimeout time.Duration

	Logger  zerolog.Logger
	Metrics *Metrics
}

// Assembler turns a cell set into records through a bounded worker pool.
type Assembler struct {
	workers     int
	cellTimeout time.Duration
	logger      zerolog.Logger
	metrics     *Metrics
}

// NewAssembler creates an Assembler.
func NewAssembler(cfg AssemblerConfig) *Assembler {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.CellTimeout <= 0 {
		cfg.CellTimeout = 20 * time.Second
	}
	return &Assembler{
		workers:     cfg.Workers,
		cellTimeout: cfg.CellTimeout,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}
}

type outcome int

const (
	outcomeAssembled outcome = iota
	outcomeIncomplete
	outcomeFailed
	outcomeUnavailable
)

func (o outcome) String() string {
	switch o {
	case outcomeAssembled:
		return "assembled"
	case outcomeIncomplete:
		return "incomplete"
	case outcomeUnavailable:
		return "unavailable"
	default:
		return "failed"
	}
}

type cellResult struct {
	record  CellRecord
	outcome outcome
}

// Assemble fetches, normalizes and classifies every cell and returns records in input order.
// Per-cell fetch and classification failures are counted and dropped. A classifier
// reporting classify.ErrSchemaMismatch is misconfigured for every cell, so it stops
// the remaining cells and fails the call. Cancellation stops scheduling and returns ctx.Err().
func (a *Assembler) Assemble(
	ctx context.Context,
	cells []hexgrid.CellID,
	window feature.TimeWindow,
	provider feature.Provider,
	classifier classify.Classifier,
	policy Policy,
) ([]CellRecord, Summary, error) {
	summary := Summary{Requested: len(cells)}
	results := make([]cellResult, len(cells))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)

	for i, cell := range cells {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			var err error
			results[i], err = a.assembleCell(gctx, cell, window, provider, classifier)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		a.logger.Error().
			Err(err).
			Str("provider", provider.Name()).
			Str("classifier", classifier.Name()).
			Msg("grid assembly aborted")
		return nil, summary, err
	}

	if err := ctx.Err(); err != nil {
		return nil, summary, err
	}

	records := make([]CellRecord, 0, len(cells))
	for _, r := range results {
		switch r.outcome {
		case outcomeAssembled:
			summary.Assembled++
			records = append(records, r.record)
		case outcomeIncomplete:
			summary.Incomplete++
			if policy == PolicyDataset {
				records = append(records, r.record)
			}
		case outcomeUnavailable:
			summary.Unavailable++
		default:
			summary.Failed++
		}
		a.metrics.recordCell(ctx, provider.Name(), r.outcome)
	}

	a.logger.Debug().
		Str("provider", provider.Name()).
		Str("policy", policy.String()).
		Int("requested", summary.Requested).
		Int("assembled", summary.Assembled).
		Int("incomplete", summary.Incomplete).
		Int("failed", summary.Failed).
		Int("unavailable", summary.Unavailable).
		Msg("grid assembled")

	return records, summary, nil
}

func (a *Assembler) assembleCell(
	ctx context.Context,
	cell hexgrid.CellID,
	window feature.TimeWindow,
	provider feature.Provider,
	classifier classify.Classifier,
) (res cellResult, err error) {
	res.record.CellID = cell
	res.outcome = outcomeFailed

	defer func() {
		if rec := recover(); rec != nil {
			a.logger.Error().
				Str("cell", cell.String()).
				Interface("panic", rec).
				Msg("cell assembly panicked")
			res.outcome = outcomeFailed
			err = nil
		}
	}()

	cellCtx, cancel := context.WithTimeout(ctx, a.cellTimeout)
	defer cancel()

	footprint, ferr := hexgrid.Boundary(cell)
	if ferr != nil {
		a.warn(cell, provider, ferr, "invalid cell")
		return res, nil
	}

	raw, ferr := provider.Fetch(cellCtx, cell, footprint, window)
	if ferr != nil {
		if errors.Is(ferr, feature.ErrProviderUnavailable) {
			res.outcome = outcomeUnavailable
		}
		a.warn(cell, provider, ferr, "fetch features")
		return res, nil
	}

	res.record.Features = feature.Scale(raw)
	vec, nerr := feature.Normalize(raw)
	if nerr != nil {
		res.outcome = outcomeIncomplete
		a.logger.Debug().
			Err(nerr).
			Str("cell", cell.String()).
			Msg("cell features incomplete")
		return res, nil
	}

	category, cerr := classifier.Classify(cellCtx, vec)
	if cerr != nil {
		cerr = fmt.Errorf("%s: %w", classifier.Name(), cerr)
		switch {
		case errors.Is(cerr, classify.ErrSchemaMismatch):
			return res, cerr
		case errors.Is(cerr, classify.ErrPredictorUnavailable):
			res.outcome = outcomeUnavailable
		}
		a.warn(cell, provider, cerr, "classify cell")
		return res, nil
	}

	res.record.Category = &category
	res.record.Color = category.Color()
	res.outcome = outcomeAssembled
	return res, nil
}

func (a *Assembler) warn(cell hexgrid.CellID, provider feature.Provider, err error, msg string) {
	a.logger.Warn().
		Err(err).
		Str("cell", cell.String()).
		Str("provider", provider.Name()).
		Msg(msg)
}
