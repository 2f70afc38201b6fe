// Package worker provides background job processing for BeeWatch.
package worker

import (
	"time"

	"github.com/beewatch/beewatch/internal/dataset"
	"github.com/beewatch/beewatch/internal/hexgrid"
)

// Site is a named survey area extracted on a schedule.
type Site struct {
	// Name is the human-readable name of the site.
	Name string

	Center     Point
	Resolution int

	// Radius is in rings, or in lattice steps when Lattice is set.
	Radius  int
	Lattice bool

	// Priority determines extraction order (lower = higher priority).
	Priority int
}

// Point represents a geographic coordinate.
type Point struct {
	Lat float64
	Lon float64
}

func (p Point) coordinate() hexgrid.Coordinate {
	return hexgrid.Coordinate{Lat: p.Lat, Lon: p.Lon}
}

// Job returns the extraction job of the site for year.
func (s Site) Job(year int) dataset.Job {
	return dataset.Job{
		Center:     s.Center.coordinate(),
		Resolution: s.Resolution,
		Radius:     s.Radius,
		Lattice:    s.Lattice,
		Year:       year,
	}
}

// ExtractConfig holds configuration for the dataset extraction job.
type ExtractConfig struct {
	// Sites are the survey areas of scheduled extractions.
	// If empty, uses DefaultSites.
	Sites []Site

	// Timeout bounds one extraction.
	// Default: 2 hours
	Timeout time.Duration

	// HealthCheckPoint is fetched by health_check jobs.
	// Default: the first site center
	HealthCheckPoint *Point
}

// DefaultExtractConfig returns the default extraction configuration.
func DefaultExtractConfig() ExtractConfig {
	return ExtractConfig{
		Sites:   DefaultSites(),
		Timeout: 2 * time.Hour,
	}
}

// DefaultSites returns the default survey areas in Peru.
func DefaultSites() []Site {
	return []Site{
		{
			Name:       "Madre de Dios",
			Center:     Point{Lat: -12.6, Lon: -69.2},
			Resolution: 6,
			Radius:     3,
			Lattice:    true,
			Priority:   1,
		},
		{
			Name:       "Cusco",
			Center:     Point{Lat: -13.4, Lon: -71.75},
			Resolution: 8,
			Radius:     10,
			Priority:   2,
		},
		{
			Name:       "Lima",
			Center:     Point{Lat: -12.0464, Lon: -77.0428},
			Resolution: 8,
			Radius:     10,
			Priority:   3,
		},
	}
}

// SiteByName returns the configured site called name.
func (c ExtractConfig) SiteByName(name string) (Site, bool) {
	for _, s := range c.Sites {
		if s.Name == name {
			return s, true
		}
	}
	return Site{}, false
}

// healthCheckPoint returns the point probed by health checks.
func (c ExtractConfig) healthCheckPoint() Point {
	if c.HealthCheckPoint != nil {
		return *c.HealthCheckPoint
	}
	if len(c.Sites) > 0 {
		return c.Sites[0].Center
	}
	return DefaultSites()[0].Center
}
