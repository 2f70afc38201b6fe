// Package pipeline assembles providers, classifiers and the grid service from configuration.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/beewatch/beewatch/internal/classify"
	"github.com/beewatch/beewatch/internal/config"
	"github.com/beewatch/beewatch/internal/database"
	"github.com/beewatch/beewatch/internal/dataset"
	"github.com/beewatch/beewatch/internal/feature"
	"github.com/beewatch/beewatch/internal/feature/earthengine"
	"github.com/beewatch/beewatch/internal/feature/simulated"
	"github.com/beewatch/beewatch/internal/grid"
	"github.com/beewatch/beewatch/internal/hexgrid"
	"github.com/beewatch/beewatch/internal/provider/resilience"
	"github.com/beewatch/beewatch/internal/telemetry"
	"github.com/beewatch/beewatch/internal/worker"
)

// Options carries the shared collaborators of a pipeline.
type Options struct {
	Logger   zerolog.Logger
	Registry *resilience.Registry

	// Flags are consulted per grid request. Optional.
	Flags grid.Flags

	// Metrics records cell outcomes. Optional.
	Metrics *grid.Metrics
}

// Pipeline is the configured feature and classification stack.
type Pipeline struct {
	Provider   feature.Provider
	Classifier classify.Classifier
	Thresholds classify.Thresholds
	Assembler  *grid.Assembler
	Grid       *grid.Service
}

// Build wires the pipeline described by cfg.
func Build(cfg *config.Config, opts Options) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("pipeline needs a configuration")
	}

	thresholds := Thresholds(cfg.Model.Thresholds)
	assembler := grid.NewAssembler(grid.AssemblerConfig{
		Workers:     cfg.Grid.Workers,
		CellTimeout: cfg.Grid.CellTimeout,
		Logger:      opts.Logger,
		Metrics:     opts.Metrics,
	})

	sim := grid.Backend{
		Provider:   simulated.NewProvider(cfg.Grid.Seed),
		Classifier: simulated.NewClassifier(cfg.Grid.Seed),
	}
	primary := sim

	if cfg.Grid.Mode == config.ModeLive {
		provider, err := NewLiveProvider(cfg.EarthEngine, Layers(cfg.Model.Thresholds), opts.Registry, opts.Logger)
		if err != nil {
			return nil, err
		}
		classifier, err := NewClassifier(cfg.Model, opts.Registry)
		if err != nil {
			return nil, err
		}
		primary = grid.Backend{Provider: provider, Classifier: classifier}
	}

	service, err := grid.NewService(grid.ServiceConfig{
		Tiler:     hexgrid.NewRingTiler(),
		Primary:   primary,
		Simulated: &sim,
		Rules:     classify.NewRuleBased(thresholds),
		Flags:     opts.Flags,
		Assembler: assembler,
		MaxRadius: cfg.Grid.MaxRadius,
		Logger:    opts.Logger,
		Metrics:   opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("create grid service: %w", err)
	}

	return &Pipeline{
		Provider:   primary.Provider,
		Classifier: primary.Classifier,
		Thresholds: thresholds,
		Assembler:  assembler,
		Grid:       service,
	}, nil
}

// Thresholds returns the rule table selected by name.
func Thresholds(name string) classify.Thresholds {
	if name == config.ThresholdsET {
		return classify.ETRules()
	}
	return classify.SoilMoistureRules()
}

// Layers returns the Earth Engine layers whose moisture slot matches the rule table selected by name.
func Layers(name string) earthengine.Layers {
	if name == config.ThresholdsET {
		return earthengine.ETLayers()
	}
	return earthengine.DefaultLayers()
}

// NewLiveProvider creates the Earth Engine provider. A key file takes precedence over a static token.
func NewLiveProvider(cfg config.EarthEngineConfig, layers earthengine.Layers, registry *resilience.Registry, logger zerolog.Logger) (*earthengine.Provider, error) {
	var tokens earthengine.TokenSource = earthengine.StaticToken(cfg.Token)
	if cfg.KeyFile != "" {
		key, err := earthengine.LoadServiceAccountKey(cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		source, err := earthengine.NewServiceAccountTokenSource(earthengine.ServiceAccountConfig{
			Key:      key,
			Registry: registry,
		})
		if err != nil {
			return nil, err
		}
		tokens = source
	}

	client, err := earthengine.NewClient(earthengine.ClientConfig{
		BaseURL:           cfg.BaseURL,
		Project:           cfg.Project,
		Tokens:            tokens,
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		Registry:          registry,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create earth engine client: %w", err)
	}

	return earthengine.NewProvider(earthengine.ProviderConfig{Client: client, Layers: &layers, Logger: logger}), nil
}

// NewClassifier creates the classifier named by cfg.Classifier.
func NewClassifier(cfg config.ModelConfig, registry *resilience.Registry) (classify.Classifier, error) {
	switch cfg.Classifier {
	case config.ClassifierMLP:
		mlp, err := classify.LoadMLP(cfg.WeightsPath)
		if err != nil {
			return nil, err
		}
		return newModel(mlp, cfg.ScalerPath)
	case config.ClassifierHTTP:
		predictor := classify.NewHTTPPredictor(classify.HTTPPredictorConfig{
			Endpoint: cfg.Endpoint,
			Timeout:  cfg.Timeout,
			Registry: registry,
		})
		return newModel(predictor, cfg.ScalerPath)
	default:
		return classify.NewRuleBased(Thresholds(cfg.Thresholds)), nil
	}
}

func newModel(predictor classify.Predictor, scalerPath string) (classify.Classifier, error) {
	scaler, err := classify.LoadScaler(scalerPath)
	if err != nil {
		return nil, err
	}
	return classify.NewModelClassifier(predictor, scaler)
}

// SinkFactory returns a factory writing each job to a CSV file under cfg.OutputDir.
// Rows are also upserted into Postgres when db is not nil.
func SinkFactory(cfg config.DatasetConfig, schema dataset.Schema, db dataset.DB) worker.SinkFactory {
	return func(_ context.Context, job dataset.Job) (dataset.Sink, error) {
		csv, err := dataset.CreateCSVFile(filepath.Join(cfg.OutputDir, FileName(job, time.Now())), schema)
		if err != nil {
			return nil, err
		}
		if db == nil {
			return csv, nil
		}
		return dataset.NewMultiSink(csv, dataset.NewStore(dataset.StoreConfig{DB: db, Schema: schema})), nil
	}
}

// FileName names the CSV file of job.
func FileName(job dataset.Job, now time.Time) string {
	period := strconv.Itoa(job.Year)
	if job.Window != nil {
		period = job.Window.Start.Format("20060102") + "_" + job.Window.End.Format("20060102")
	}
	center := job.Center
	if job.Bounds != nil {
		center = hexgrid.Coordinate{
			Lat: (job.Bounds.MinLat + job.Bounds.MaxLat) / 2,
			Lon: (job.Bounds.MinLon + job.Bounds.MaxLon) / 2,
		}
	}
	return fmt.Sprintf("bee_health_%.4f_%.4f_r%d_%s_%s.csv",
		center.Lat, center.Lon, job.Resolution, period, now.UTC().Format("20060102T150405"))
}

// Database converts the database section into connection settings.
func Database(cfg config.DatabaseConfig) database.Config {
	return database.Config{
		URL:             cfg.URL,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Name,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}
}

// Telemetry converts the telemetry section for the service named service.
// The grid mode is attached as a resource attribute.
func Telemetry(cfg *config.Config, service, version string) telemetry.Config {
	return telemetry.Config{
		ServiceName:    service,
		ServiceVersion: version,
		Environment:    cfg.Environment,
		Enabled:        cfg.Telemetry.Enabled,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRatio:    cfg.Telemetry.SampleRatio,
		MetricInterval: cfg.Telemetry.MetricInterval,
		Attributes:     []attribute.KeyValue{attribute.String("beewatch.grid.mode", cfg.Grid.Mode)},
	}
}
