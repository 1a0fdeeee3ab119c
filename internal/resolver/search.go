// internal/resolver/search.go
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/labcore/internal/config"
	"github.com/xkilldash9x/labcore/internal/extract"
)

const (
	DefaultMinScore   = 70.0
	DefaultPerPatient = 2
	DefaultMaxResults = 10
)

// Options bound a search.
type Options struct {
	MinScore float64
	// PerPatient keeps the most recent 1 or 2 orders of each matched patient.
	PerPatient int
	MaxResults int
}

// OptionsFromConfig reads search defaults from the application config.
func OptionsFromConfig(cfg config.ResolverConfig) Options {
	return Options{MinScore: cfg.MinScore, PerPatient: cfg.PerPatient, MaxResults: cfg.MaxResults}
}

func (o Options) withDefaults() Options {
	if o.MinScore <= 0 {
		o.MinScore = DefaultMinScore
	}
	if o.PerPatient < 1 || o.PerPatient > 2 {
		o.PerPatient = DefaultPerPatient
	}
	if o.MaxResults <= 0 {
		o.MaxResults = DefaultMaxResults
	}
	return o
}

// Match is a cached order whose patient name resembled the query.
type Match struct {
	Record
	Score float64 `json:"score"`
}

// Source yields the cached order rows.
type Source interface {
	Records(ctx context.Context) ([]Record, error)
}

// Resolver answers approximate patient-name queries from the cache. It never
// touches the browser.
type Resolver struct {
	source Source
	opts   Options
	logger *zap.Logger
}

// New creates a Resolver with default bounds taken from opts.
func New(source Source, opts Options, logger *zap.Logger) *Resolver {
	return &Resolver{source: source, opts: opts.withDefaults(), logger: logger.Named("resolver")}
}

// Defaults returns the bounds applied when a search leaves them unset.
func (r *Resolver) Defaults() Options { return r.opts }

type patientGroup struct {
	name    string
	score   float64
	records []Record
}

// Search scores the query against every distinct patient name. Orders of one
// patient collapse into a group that keeps only its most recent PerPatient
// orders; groups are ranked by score, then by recency, and the flattened
// list is cut at MaxResults. Zero fields of opts fall back to the
// resolver's defaults.
func (r *Resolver) Search(ctx context.Context, query string, opts Options) ([]Match, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query must not be empty")
	}
	opts = r.merge(opts)

	records, err := r.source.Records(ctx)
	if err != nil {
		return nil, fmt.Errorf("fuzzy search unavailable: %w", err)
	}

	groups := make(map[string]*patientGroup)
	for _, rec := range records {
		key := extract.Fold(rec.PatientName)
		g, ok := groups[key]
		if !ok {
			g = &patientGroup{name: key, score: TokenSetRatio(query, rec.PatientName)}
			groups[key] = g
		}
		if g.score >= opts.MinScore {
			g.records = append(g.records, rec)
		}
	}

	var ranked []*patientGroup
	for _, g := range groups {
		if len(g.records) == 0 {
			continue
		}
		sort.SliceStable(g.records, func(i, j int) bool { return newerThan(g.records[i], g.records[j]) })
		if len(g.records) > opts.PerPatient {
			g.records = g.records[:opts.PerPatient]
		}
		ranked = append(ranked, g)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if newerThan(a.records[0], b.records[0]) != newerThan(b.records[0], a.records[0]) {
			return newerThan(a.records[0], b.records[0])
		}
		return a.name < b.name
	})

	var out []Match
	for _, g := range ranked {
		for _, rec := range g.records {
			if len(out) == opts.MaxResults {
				break
			}
			out = append(out, Match{Record: rec, Score: round1(g.score)})
		}
	}
	r.logger.Debug("Fuzzy search done.", zap.String("query", query), zap.Int("patients", len(ranked)), zap.Int("matches", len(out)))
	return out, nil
}

func (r *Resolver) merge(o Options) Options {
	if o.MinScore <= 0 || o.MinScore > 100 {
		o.MinScore = r.opts.MinScore
	}
	if o.PerPatient < 1 || o.PerPatient > 2 {
		o.PerPatient = r.opts.PerPatient
	}
	if o.MaxResults <= 0 {
		o.MaxResults = r.opts.MaxResults
	}
	return o
}

func round1(f float64) float64 {
	return float64(int(f*10+0.5)) / 10
}
