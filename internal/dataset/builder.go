package dataset

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/beewatch/beewatch/internal/classify"
	"github.com/beewatch/beewatch/internal/feature"
	"github.com/beewatch/beewatch/internal/grid"
	"github.com/beewatch/beewatch/internal/hexgrid"
)

// LatticeStep is the lattice spacing of offset-lattice extraction areas, in degrees.
const LatticeStep = 0.08

// Job describes one extraction: an area, a cell resolution and the windows to sample.
type Job struct {
	Center     hexgrid.Coordinate
	Resolution int

	// Radius is in rings for ring areas and in lattice steps for lattice areas.
	Radius int

	// Bounds selects a bounding-box area and takes precedence over Center.
	Bounds *hexgrid.BoundingBox

	// Lattice covers the box of Radius lattice steps around Center instead of a ring disk.
	Lattice bool

	// Year samples the twelve monthly windows of a year.
	Year int

	// Window samples a single explicit window and takes precedence over Year.
	Window *feature.TimeWindow
}

// Cells returns the cell set of the job area.
func (j Job) Cells() ([]hexgrid.CellID, error) {
	lattice := hexgrid.NewLatticeTiler(hexgrid.LatticeConfig{Step: LatticeStep})
	switch {
	case j.Bounds != nil:
		return lattice.TileBounds(*j.Bounds, j.Resolution)
	case j.Lattice:
		return lattice.Tile(j.Center, j.Resolution, j.Radius)
	default:
		return hexgrid.NewRingTiler().Tile(j.Center, j.Resolution, j.Radius)
	}
}

// Windows returns the time windows of the job.
func (j Job) Windows() ([]feature.TimeWindow, error) {
	switch {
	case j.Window != nil:
		return []feature.TimeWindow{*j.Window}, nil
	case j.Year >= 1970 && j.Year <= 9999:
		return feature.MonthlyWindows(j.Year), nil
	default:
		return nil, fmt.Errorf("%w: job needs a window or a year, got year %d", hexgrid.ErrInvalidParameter, j.Year)
	}
}

// Stats summarizes a build.
type Stats struct {
	Windows   int
	Cells     int
	Rows      int
	Unlabeled int
	Dropped   int
	Failed    int
}

// BuilderConfig holds configuration for the dataset Builder.
type BuilderConfig struct {
	Provider feature.Provider

	// Thresholds label complete rows.
	// Default: soil moisture thresholds
	Thresholds classify.Thresholds

	Assembler *grid.Assembler
	Sink      Sink

	// Pause waits between windows to stay within provider quotas.
	Pause time.Duration

	Logger zerolog.Logger
}

// Builder extracts, normalizes and rule-labels every cell of every window into a sink.
type Builder struct {
	provider   feature.Provider
	classifier classify.Classifier
	assembler  *grid.Assembler
	sink       Sink
	pause      time.Duration
	logger     zerolog.Logger
}

// NewBuilder creates a new dataset Builder.
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if cfg.Provider == nil {
		return nil, errors.New("dataset builder needs a provider")
	}
	if cfg.Sink == nil {
		return nil, errors.New("dataset builder needs a sink")
	}
	if cfg.Assembler == nil {
		cfg.Assembler = grid.NewAssembler(grid.AssemblerConfig{Logger: cfg.Logger})
	}
	return &Builder{
		provider:   cfg.Provider,
		classifier: classify.NewRuleBased(cfg.Thresholds),
		assembler:  cfg.Assembler,
		sink:       cfg.Sink,
		pause:      cfg.Pause,
		logger:     cfg.Logger,
	}, nil
}

// Run builds the dataset of job. Rows without any feature are dropped and rows with
// some absent features are kept unlabeled. A window where the provider was unavailable
// for every cell aborts the run with grid.ErrUpstreamData.
func (b *Builder) Run(ctx context.Context, job Job) (Stats, error) {
	cells, err := job.Cells()
	if err != nil {
		return Stats{}, err
	}
	windows, err := job.Windows()
	if err != nil {
		return Stats{}, err
	}
	return b.Build(ctx, cells, windows)
}

// Build writes the rows of every cell in every window.
func (b *Builder) Build(ctx context.Context, cells []hexgrid.CellID, windows []feature.TimeWindow) (Stats, error) {
	stats := Stats{Cells: len(cells)}

	for i, window := range windows {
		if i > 0 && b.pause > 0 {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			case <-time.After(b.pause):
			}
		}

		records, summary, err := b.assembler.Assemble(ctx, cells, window, b.provider, b.classifier, grid.PolicyDataset)
		if err != nil {
			return stats, err
		}
		if summary.Requested > 0 && summary.Unavailable == summary.Requested {
			return stats, fmt.Errorf("%w: window %s", grid.ErrUpstreamData, window)
		}

		rows := make([]Row, 0, len(records))
		for _, rec := range records {
			if rec.Features.IsEmpty() {
				stats.Dropped++
				continue
			}
			row := RowFromRecord(rec, window)
			if row.Label == nil {
				stats.Unlabeled++
			}
			rows = append(rows, row)
		}

		if err := b.sink.Write(ctx, rows); err != nil {
			return stats, fmt.Errorf("write window %s: %w", window, err)
		}

		stats.Windows++
		stats.Rows += len(rows)
		stats.Failed += summary.Failed + summary.Unavailable

		b.logger.Info().
			Str("window", window.String()).
			Int("cells", len(cells)).
			Int("rows", len(rows)).
			Int("failed", summary.Failed+summary.Unavailable).
			Msg("dataset window written")
	}

	return stats, nil
}
