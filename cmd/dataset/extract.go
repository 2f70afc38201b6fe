package main

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/beewatch/beewatch/internal/database"
	"github.com/beewatch/beewatch/internal/dataset"
	"github.com/beewatch/beewatch/internal/feature"
	"github.com/beewatch/beewatch/internal/hexgrid"
	"github.com/beewatch/beewatch/internal/pipeline"
	"github.com/beewatch/beewatch/internal/provider/resilience"
	"github.com/beewatch/beewatch/internal/worker"
)

// extractOptions are the area and period flags of the extract command.
type extractOptions struct {
	site       string
	lat, lon   float64
	center     bool
	bbox       string
	radius     int
	resolution int
	lattice    bool
	year       int
	start, end string
	out        string
	store      bool
}

var extractOpts extractOptions

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract a labeled dataset for an area",
	Long: "Fetches the features of every cell of a site, a ring or lattice around a center, or a bounding box, " +
		"for the monthly windows of a year or one explicit window, and writes rule-labeled rows to CSV and optionally Postgres.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		extractOpts.center = cmd.Flags().Changed("lat") && cmd.Flags().Changed("lon")

		extractCfg := worker.DefaultExtractConfig()
		extractCfg.Timeout = cfg.Dataset.Timeout

		name, job, err := extractOpts.job(extractCfg, time.Now())
		if err != nil {
			return err
		}

		p, err := pipeline.Build(cfg, pipeline.Options{Logger: log, Registry: resilience.NewRegistry()})
		if err != nil {
			return eris.Wrap(err, "extract: build pipeline")
		}
		schema := dataset.SchemaFor(p.Thresholds)

		var db dataset.DB
		if extractOpts.store || cfg.Dataset.Store {
			pool, err := database.Connect(ctx, pipeline.Database(cfg.Database))
			if err != nil {
				return eris.Wrap(err, "extract: connect database")
			}
			defer pool.Close()
			if err := dataset.NewStore(dataset.StoreConfig{DB: pool, Schema: schema}).EnsureSchema(ctx); err != nil {
				return eris.Wrap(err, "extract: ensure schema")
			}
			db = pool
		}

		newSink := pipeline.SinkFactory(cfg.Dataset, schema, db)
		if extractOpts.out != "" {
			newSink = fileSink(extractOpts.out, schema, db)
		}

		extract, err := worker.NewExtractJob(worker.ExtractJobConfig{
			Config:     extractCfg,
			Logger:     log,
			Provider:   p.Provider,
			Thresholds: p.Thresholds,
			Assembler:  p.Assembler,
			NewSink:    newSink,
			Pause:      cfg.Dataset.Pause,
		})
		if err != nil {
			return err
		}

		result, err := extract.Run(ctx, name, job)
		if err != nil {
			return eris.Wrapf(err, "extract: %s", name)
		}

		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rows (%d unlabeled, %d dropped) from %d cells over %d windows in %s\n",
			name, result.Stats.Rows, result.Stats.Unlabeled, result.Stats.Dropped,
			result.Stats.Cells, result.Stats.Windows, result.Duration.Round(time.Second))
		return err
	},
}

func init() {
	f := extractCmd.Flags()
	f.StringVar(&extractOpts.site, "site", "", "named survey site (Madre de Dios, Cusco, Lima)")
	f.Float64Var(&extractOpts.lat, "lat", 0, "center latitude")
	f.Float64Var(&extractOpts.lon, "lon", 0, "center longitude")
	f.StringVar(&extractOpts.bbox, "bbox", "", "bounding box as min_lat,min_lon,max_lat,max_lon")
	f.IntVar(&extractOpts.radius, "radius", 10, "radius in rings, or lattice steps with --lattice")
	f.IntVar(&extractOpts.resolution, "resolution", hexgrid.DefaultResolution, "H3 resolution")
	f.BoolVar(&extractOpts.lattice, "lattice", false, "cover an offset lattice instead of a ring disk")
	f.IntVar(&extractOpts.year, "year", 0, "sample the monthly windows of a year (default: last year)")
	f.StringVar(&extractOpts.start, "start", "", "start date of a single window (YYYY-MM-DD)")
	f.StringVar(&extractOpts.end, "end", "", "end date of a single window (YYYY-MM-DD)")
	f.StringVar(&extractOpts.out, "out", "", "CSV output path (default: a generated name in dataset.output_dir)")
	f.BoolVar(&extractOpts.store, "store", false, "also upsert rows into Postgres")
	rootCmd.AddCommand(extractCmd)
}

// job resolves the flags into a named extraction job.
func (o extractOptions) job(cfg worker.ExtractConfig, now time.Time) (string, dataset.Job, error) {
	areas := 0
	for _, set := range []bool{o.site != "", o.center, o.bbox != ""} {
		if set {
			areas++
		}
	}
	if areas != 1 {
		return "", dataset.Job{}, eris.New("specify exactly one of --site, --lat/--lon or --bbox")
	}

	year := o.year
	if year == 0 {
		year = now.Year() - 1
	}

	var (
		name string
		job  dataset.Job
	)
	switch {
	case o.site != "":
		site, ok := cfg.SiteByName(o.site)
		if !ok {
			return "", dataset.Job{}, eris.Errorf("unknown site %q", o.site)
		}
		name, job = site.Name, site.Job(year)
	case o.bbox != "":
		box, err := parseBBox(o.bbox)
		if err != nil {
			return "", dataset.Job{}, err
		}
		name = "bbox " + o.bbox
		job = dataset.Job{Bounds: &box, Resolution: o.resolution, Year: year}
	default:
		name = fmt.Sprintf("%.4f,%.4f", o.lat, o.lon)
		job = dataset.Job{
			Center:     hexgrid.Coordinate{Lat: o.lat, Lon: o.lon},
			Resolution: o.resolution,
			Radius:     o.radius,
			Lattice:    o.lattice,
			Year:       year,
		}
	}

	if o.start != "" || o.end != "" {
		if o.start == "" || o.end == "" {
			return "", dataset.Job{}, eris.New("--start and --end must be given together")
		}
		w, err := feature.ParseTimeWindow(o.start, o.end)
		if err != nil {
			return "", dataset.Job{}, err
		}
		job.Window = &w
	}

	return name, job, nil
}

func parseBBox(s string) (hexgrid.BoundingBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return hexgrid.BoundingBox{}, eris.Errorf("bbox %q needs four comma separated values", s)
	}
	v := make([]float64, 4)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return hexgrid.BoundingBox{}, eris.Wrapf(err, "bbox value %q", p)
		}
		v[i] = f
	}
	return hexgrid.BoundingBox{MinLat: v[0], MinLon: v[1], MaxLat: v[2], MaxLon: v[3]}, nil
}

func fileSink(path string, schema dataset.Schema, db dataset.DB) worker.SinkFactory {
	return func(_ context.Context, _ dataset.Job) (dataset.Sink, error) {
		csv, err := dataset.CreateCSVFile(path, schema)
		if err != nil {
			return nil, err
		}
		if db == nil {
			return csv, nil
		}
		return dataset.NewMultiSink(csv, dataset.NewStore(dataset.StoreConfig{DB: db, Schema: schema})), nil
	}
}
