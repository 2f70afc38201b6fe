package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/beewatch/beewatch/internal/classify"
	"github.com/beewatch/beewatch/internal/dataset"
	"github.com/beewatch/beewatch/internal/feature"
	"github.com/beewatch/beewatch/internal/grid"
	"github.com/beewatch/beewatch/internal/hexgrid"
)

// SinkFactory opens the sink receiving the rows of one extraction.
type SinkFactory func(ctx context.Context, job dataset.Job) (dataset.Sink, error)

// ExtractJob builds labeled datasets for survey sites.
type ExtractJob struct {
	config     ExtractConfig
	logger     zerolog.Logger
	provider   feature.Provider
	thresholds classify.Thresholds
	assembler  *grid.Assembler
	newSink    SinkFactory
	pause      time.Duration
	now        func() time.Time

	metrics *ExtractMetrics
}

// ExtractMetrics tracks extraction job statistics.
type ExtractMetrics struct {
	mu sync.RWMutex

	// Counters
	TotalJobs      int64
	SuccessfulJobs int64
	FailedJobs     int64
	RowsWritten    int64
	UnlabeledRows  int64
	HealthChecks   int64

	// Timings
	LastJobAt       time.Time
	LastJobDuration time.Duration
	TotalDuration   time.Duration
}

// ExtractJobConfig holds configuration for creating an ExtractJob.
type ExtractJobConfig struct {
	Config   ExtractConfig
	Logger   zerolog.Logger
	Provider feature.Provider

	// Thresholds label complete rows.
	// Default: soil moisture thresholds
	Thresholds classify.Thresholds

	Assembler *grid.Assembler
	NewSink   SinkFactory

	// Pause waits between windows of one extraction.
	Pause time.Duration

	Now func() time.Time
}

// NewExtractJob creates a new extraction job processor.
func NewExtractJob(cfg ExtractJobConfig) (*ExtractJob, error) {
	if cfg.Provider == nil {
		return nil, errors.New("extract job needs a provider")
	}
	if cfg.NewSink == nil {
		return nil, errors.New("extract job needs a sink factory")
	}

	config := cfg.Config
	if len(config.Sites) == 0 {
		config.Sites = DefaultSites()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultExtractConfig().Timeout
	}
	if cfg.Thresholds.Name == "" {
		cfg.Thresholds = classify.SoilMoistureRules()
	}
	if cfg.Assembler == nil {
		cfg.Assembler = grid.NewAssembler(grid.AssemblerConfig{Logger: cfg.Logger})
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &ExtractJob{
		config:     config,
		logger:     cfg.Logger,
		provider:   cfg.Provider,
		thresholds: cfg.Thresholds,
		assembler:  cfg.Assembler,
		newSink:    cfg.NewSink,
		pause:      cfg.Pause,
		now:        cfg.Now,
		metrics:    &ExtractMetrics{},
	}, nil
}

// Config returns the extraction configuration in effect.
func (j *ExtractJob) Config() ExtractConfig {
	return j.config
}

// ExtractResult contains the result of one extraction.
type ExtractResult struct {
	Site      string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Stats     dataset.Stats
	Error     string
}

// Run executes one extraction into a freshly opened sink.
func (j *ExtractJob) Run(ctx context.Context, site string, job dataset.Job) (*ExtractResult, error) {
	startTime := time.Now()
	result := &ExtractResult{Site: site, StartTime: startTime}

	stats, err := j.run(ctx, job)
	result.Stats = stats
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(startTime)
	if err != nil {
		result.Error = err.Error()
	}

	j.updateMetrics(result, err == nil)

	logger := j.logger.With().
		Str("site", site).
		Int("resolution", job.Resolution).
		Logger()
	if err != nil {
		logger.Error().Err(err).Dur("duration", result.Duration).Msg("dataset extraction failed")
		return result, err
	}

	logger.Info().
		Dur("duration", result.Duration).
		Int("windows", stats.Windows).
		Int("cells", stats.Cells).
		Int("rows", stats.Rows).
		Int("unlabeled", stats.Unlabeled).
		Int("dropped", stats.Dropped).
		Msg("dataset extraction completed")

	return result, nil
}

func (j *ExtractJob) run(ctx context.Context, job dataset.Job) (stats dataset.Stats, err error) {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	sink, err := j.newSink(ctx, job)
	if err != nil {
		return dataset.Stats{}, fmt.Errorf("open dataset sink: %w", err)
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close dataset sink: %w", cerr)
		}
	}()

	builder, err := dataset.NewBuilder(dataset.BuilderConfig{
		Provider:   j.provider,
		Thresholds: j.thresholds,
		Assembler:  j.assembler,
		Sink:       sink,
		Pause:      j.pause,
		Logger:     j.logger,
	})
	if err != nil {
		return dataset.Stats{}, err
	}
	return builder.Run(ctx, job)
}

// RunSites extracts every configured site for year in priority order.
// A failing site does not stop the remaining ones.
func (j *ExtractJob) RunSites(ctx context.Context, year int) []*ExtractResult {
	sites := make([]Site, len(j.config.Sites))
	copy(sites, j.config.Sites)
	sort.SliceStable(sites, func(a, b int) bool {
		return sites[a].Priority < sites[b].Priority
	})

	j.logger.Info().
		Int("sites", len(sites)).
		Int("year", year).
		Msg("starting site extraction")

	results := make([]*ExtractResult, 0, len(sites))
	for _, site := range sites {
		if ctx.Err() != nil {
			break
		}
		result, _ := j.Run(ctx, site.Name, site.Job(year))
		results = append(results, result)
	}
	return results
}

// HealthCheck fetches the features of a single cell to verify provider connectivity.
func (j *ExtractJob) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	j.metrics.mu.Lock()
	j.metrics.HealthChecks++
	j.metrics.mu.Unlock()

	point := j.config.healthCheckPoint()
	cell, err := hexgrid.CellAt(point.coordinate(), hexgrid.DefaultResolution)
	if err != nil {
		return err
	}
	footprint, err := hexgrid.Boundary(cell)
	if err != nil {
		return err
	}

	window := feature.CandidateWindows(j.now())[0]
	if finder, ok := j.provider.(feature.WindowFinder); ok {
		w, err := finder.DiscoverWindow(ctx, j.now())
		switch {
		case err == nil:
			window = w
		case errors.Is(err, feature.ErrNoDataAvailable):
			// The provider answered, the latest window is probed regardless.
		default:
			return fmt.Errorf("health check window discovery: %w", err)
		}
	}

	if _, err := j.provider.Fetch(ctx, cell, footprint, window); err != nil {
		return fmt.Errorf("health check fetch %s: %w", cell, err)
	}

	j.logger.Debug().
		Str("cell", cell.String()).
		Str("provider", j.provider.Name()).
		Msg("health check passed")
	return nil
}

func (j *ExtractJob) updateMetrics(result *ExtractResult, success bool) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.TotalJobs++
	if success {
		j.metrics.SuccessfulJobs++
	} else {
		j.metrics.FailedJobs++
	}
	j.metrics.RowsWritten += int64(result.Stats.Rows)
	j.metrics.UnlabeledRows += int64(result.Stats.Unlabeled)
	j.metrics.LastJobAt = result.EndTime
	j.metrics.LastJobDuration = result.Duration
	j.metrics.TotalDuration += result.Duration
}

// GetMetrics returns a copy of the current metrics.
func (j *ExtractJob) GetMetrics() ExtractMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return ExtractMetrics{
		TotalJobs:       j.metrics.TotalJobs,
		SuccessfulJobs:  j.metrics.SuccessfulJobs,
		FailedJobs:      j.metrics.FailedJobs,
		RowsWritten:     j.metrics.RowsWritten,
		UnlabeledRows:   j.metrics.UnlabeledRows,
		HealthChecks:    j.metrics.HealthChecks,
		LastJobAt:       j.metrics.LastJobAt,
		LastJobDuration: j.metrics.LastJobDuration,
		TotalDuration:   j.metrics.TotalDuration,
	}
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (j *ExtractJob) MetricsSnapshot() map[string]interface{} {
	m := j.GetMetrics()
	return map[string]interface{}{
		"total_jobs":        m.TotalJobs,
		"successful_jobs":   m.SuccessfulJobs,
		"failed_jobs":       m.FailedJobs,
		"rows_written":      m.RowsWritten,
		"unlabeled_rows":    m.UnlabeledRows,
		"health_checks":     m.HealthChecks,
		"last_job_at":       m.LastJobAt,
		"last_job_duration": m.LastJobDuration.String(),
		"total_duration":    m.TotalDuration.String(),
	}
}
