package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/beewatch/beewatch/internal/classify"
	"github.com/beewatch/beewatch/internal/dataset"
	"github.com/beewatch/beewatch/internal/feature"
	"github.com/beewatch/beewatch/internal/hexgrid"
)

// Job types carried in JobMessage.JobType.
const (
	JobTypeDatasetExtract = "dataset_extract"
	JobTypeHealthCheck    = "health_check"
)

// Predefined errors for message dispatch.
var (
	// ErrUnknownJobType is returned for messages with an unsupported job_type.
	ErrUnknownJobType = errors.New("unknown job type")

	// ErrMalformedMessage is returned for message payloads that are not valid JSON.
	ErrMalformedMessage = errors.New("malformed message")
)

// JobMessage represents a worker job message.
type JobMessage struct {
	JobType string `json:"job_type"`

	// Site selects one configured site by name. Without a site, center or
	// bounds every configured site is extracted.
	Site string `json:"site,omitempty"`

	Lat        *float64             `json:"lat,omitempty"`
	Lon        *float64             `json:"lon,omitempty"`
	Bounds     *hexgrid.BoundingBox `json:"bounds,omitempty"`
	Resolution int                  `json:"resolution,omitempty"`
	Radius     int                  `json:"radius,omitempty"`
	Lattice    bool                 `json:"lattice,omitempty"`

	// Year defaults to the previous calendar year when no window is given.
	Year  int    `json:"year,omitempty"`
	Start string `json:"start_date,omitempty"`
	End   string `json:"end_date,omitempty"`
}

// namedJob is an extraction job with the site it belongs to.
type namedJob struct {
	site string
	job  dataset.Job
}

// jobs resolves the extraction jobs of an extract message.
func (m JobMessage) jobs(cfg ExtractConfig, now time.Time) ([]namedJob, error) {
	var window *feature.TimeWindow
	if m.Start != "" || m.End != "" {
		if m.Start == "" || m.End == "" {
			return nil, fmt.Errorf("%w: start_date and end_date must be given together", hexgrid.ErrInvalidParameter)
		}
		w, err := feature.ParseTimeWindow(m.Start, m.End)
		if err != nil {
			return nil, err
		}
		window = &w
	}
	year := m.Year
	if year == 0 && window == nil {
		year = now.Year() - 1
	}

	resolution := m.Resolution
	if resolution == 0 {
		resolution = hexgrid.DefaultResolution
	}

	withTime := func(j dataset.Job) dataset.Job {
		j.Year = year
		j.Window = window
		return j
	}

	switch {
	case m.Bounds != nil:
		if err := m.Bounds.Validate(); err != nil {
			return nil, err
		}
		return []namedJob{{site: "bounds", job: withTime(dataset.Job{Bounds: m.Bounds, Resolution: resolution})}}, nil

	case m.Lat != nil || m.Lon != nil:
		if m.Lat == nil || m.Lon == nil {
			return nil, fmt.Errorf("%w: lat and lon must be given together", hexgrid.ErrInvalidParameter)
		}
		center := hexgrid.Coordinate{Lat: *m.Lat, Lon: *m.Lon}
		if err := center.Validate(); err != nil {
			return nil, err
		}
		return []namedJob{{site: "custom", job: withTime(dataset.Job{
			Center:     center,
			Resolution: resolution,
			Radius:     m.Radius,
			Lattice:    m.Lattice,
		})}}, nil

	case m.Site != "":
		site, ok := cfg.SiteByName(m.Site)
		if !ok {
			return nil, fmt.Errorf("%w: unknown site %q", hexgrid.ErrInvalidParameter, m.Site)
		}
		return []namedJob{{site: site.Name, job: withTime(site.Job(year))}}, nil

	default:
		jobs := make([]namedJob, 0, len(cfg.Sites))
		for _, site := range cfg.Sites {
			jobs = append(jobs, namedJob{site: site.Name, job: withTime(site.Job(year))})
		}
		return jobs, nil
	}
}

// Dispatcher routes job messages to the extraction job.
type Dispatcher struct {
	job    *ExtractJob
	logger zerolog.Logger
	now    func() time.Time
}

// NewDispatcher creates a new message dispatcher.
func NewDispatcher(job *ExtractJob, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{job: job, logger: logger, now: job.now}
}

// Dispatch decodes data and runs the job it describes.
func (d *Dispatcher) Dispatch(ctx context.Context, data []byte) error {
	var msg JobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch msg.JobType {
	case JobTypeDatasetExtract:
		return d.handleExtract(ctx, msg)
	case JobTypeHealthCheck:
		return d.job.HealthCheck(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJobType, msg.JobType)
	}
}

func (d *Dispatcher) handleExtract(ctx context.Context, msg JobMessage) error {
	jobs, err := msg.jobs(d.job.Config(), d.now())
	if err != nil {
		return err
	}

	d.logger.Info().
		Int("jobs", len(jobs)).
		Str("site", msg.Site).
		Msg("starting dataset extraction")

	failed := 0
	var firstErr error
	for _, nj := range jobs {
		if _, err := d.job.Run(ctx, nj.site, nj.job); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d/%d extractions failed: %w", failed, len(jobs), firstErr)
	}
	return nil
}

// permanent reports whether redelivering a message that failed with err cannot succeed.
func permanent(err error) bool {
	return errors.Is(err, ErrMalformedMessage) ||
		errors.Is(err, ErrUnknownJobType) ||
		errors.Is(err, hexgrid.ErrInvalidParameter) ||
		errors.Is(err, classify.ErrSchemaMismatch)
}

// PubSubHandler handles Pub/Sub messages for the worker.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	dispatcher       *Dispatcher
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	ExtractJob       *ExtractJob
	Logger           zerolog.Logger
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	if cfg.ExtractJob == nil {
		return nil, errors.New("pubsub handler needs an extract job")
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// Extractions are long running, keep few in flight.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 2
	subscriber.ReceiveSettings.MaxExtension = 2 * time.Hour

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		dispatcher:       NewDispatcher(cfg.ExtractJob, cfg.Logger),
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing Pub/Sub messages.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		h.handleMessage(ctx, msg)
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(ctx context.Context, msg *pubsub.Message) {
	startTime := time.Now()

	logger := h.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	logger.Debug().Msg("received pubsub message")

	if err := h.dispatcher.Dispatch(ctx, msg.Data); err != nil {
		if permanent(err) {
			logger.Warn().Err(err).Msg("dropping message")
			msg.Ack() // Ack permanent failures to prevent redelivery
			return
		}
		logger.Error().Err(err).Msg("job failed")
		msg.Nack()
		return
	}

	logger.Info().
		Dur("duration", time.Since(startTime)).
		Msg("job completed successfully")

	msg.Ack()
}
