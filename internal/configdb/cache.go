package configdb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"cadence_scheduler/internal/logger"
)

var ErrInstrumentNotFound = errors.New("active instrument not found")

// AllSites matches every site in queries.
const AllSites = "all"

// SiteFetcher loads the sites document.
type SiteFetcher interface {
	Sites(ctx context.Context) ([]Site, error)
}

// Cache owns the last good sites document. It is refreshed explicitly by
// its owner; a failed refresh keeps serving the previous snapshot.
type Cache struct {
	fetcher SiteFetcher
	ttl     time.Duration
	now     func() time.Time
	log     *logger.Logger

	mu        sync.RWMutex
	sites     []Site
	fetchedAt time.Time
}

func NewCache(fetcher SiteFetcher, ttl time.Duration, log *logger.Logger) *Cache {
	return &Cache{
		fetcher: fetcher,
		ttl:     ttl,
		now:     time.Now,
		log:     logger.OrNop(log),
	}
}

// WithClock replaces the clock used for TTL checks.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Refresh reloads the sites document.
func (c *Cache) Refresh(ctx context.Context) error {
	sites, err := c.fetcher.Sites(ctx)
	if err != nil {
		c.log.Warnw("configdb_refresh_failed", "err", err, "serving_since", c.LoadedAt())
		return fmt.Errorf("refresh configdb: %w", err)
	}

	c.mu.Lock()
	c.sites = sites
	c.fetchedAt = c.now()
	c.mu.Unlock()

	c.log.Infow("configdb_refreshed", "sites", len(sites))
	return nil
}

// Stale reports whether the snapshot is missing or older than the TTL.
func (c *Cache) Stale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.fetchedAt.IsZero() {
		return true
	}
	return c.ttl > 0 && c.now().Sub(c.fetchedAt) >= c.ttl
}

// RefreshIfStale refreshes only when Stale.
func (c *Cache) RefreshIfStale(ctx context.Context) error {
	if !c.Stale() {
		return nil
	}
	return c.Refresh(ctx)
}

// LoadedAt is the time of the last successful refresh, zero if none.
func (c *Cache) LoadedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt
}

// Sites returns the cached document.
func (c *Cache) Sites() []Site {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sites
}

// ActiveInstruments lists instruments at site (or AllSites) whose state is
// included per ShouldInclude, optionally restricted to one instrument type.
func (c *Cache) ActiveInstruments(site, instrumentType string, commissioning, everything bool) []Instrument {
	var out []Instrument
	for _, s := range c.Sites() {
		if !siteMatches(site, s.Code) {
			continue
		}
		for _, enc := range s.Enclosures {
			for _, tel := range enc.Telescopes {
				for _, rec := range tel.Instruments {
					if instrumentType != "" && !strings.EqualFold(rec.InstrumentType.Code, instrumentType) {
						continue
					}
					if !ShouldInclude(ParseState(rec.State), everything, commissioning) {
						continue
					}
					out = append(out, flatten(s, enc, tel, rec))
				}
			}
		}
	}
	return out
}

// Query narrows MatchingInstrument. Empty fields match anything.
type Query struct {
	Site              string
	Enclosure         string
	Telescope         string
	InstrumentType    string
	InstrumentCode    string
	IncludeEverything bool
}

// MatchingInstrument returns the first active instrument satisfying q.
func (c *Cache) MatchingInstrument(q Query) (Instrument, error) {
	for _, inst := range c.ActiveInstruments(q.Site, "", true, q.IncludeEverything) {
		if q.Enclosure != "" && !strings.EqualFold(q.Enclosure, inst.Enclosure) {
			continue
		}
		if q.Telescope != "" && !strings.EqualFold(q.Telescope, inst.Telescope) {
			continue
		}
		if q.InstrumentType != "" && !strings.EqualFold(q.InstrumentType, inst.Type) {
			continue
		}
		if q.InstrumentCode != "" && !strings.EqualFold(q.InstrumentCode, inst.Code) {
			continue
		}
		return inst, nil
	}
	site := q.Site
	if site == "" {
		site = AllSites
	}
	return Instrument{}, fmt.Errorf("%w: %s - %s on %s.%s.%s",
		ErrInstrumentNotFound, q.InstrumentCode, q.InstrumentType, site, q.Enclosure, q.Telescope)
}

// InstrumentTypes lists the distinct instrument types at site, sorted by code.
func (c *Cache) InstrumentTypes(site string) []InstrumentType {
	seen := map[string]InstrumentType{}
	for _, s := range c.Sites() {
		if !siteMatches(site, s.Code) {
			continue
		}
		for _, enc := range s.Enclosures {
			for _, tel := range enc.Telescopes {
				for _, rec := range tel.Instruments {
					seen[rec.InstrumentType.Code] = InstrumentType{Code: rec.InstrumentType.Code, Name: rec.InstrumentType.Name}
				}
			}
		}
	}
	out := make([]InstrumentType, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Imagers lists the active non-spectrograph instruments at site.
func (c *Cache) Imagers(site string) []Instrument {
	var out []Instrument
	for _, inst := range c.ActiveInstruments(site, "", true, false) {
		if !IsSpectrograph(inst.Type) {
			out = append(out, inst)
		}
	}
	return out
}

func siteMatches(query, code string) bool {
	return query == "" || query == AllSites || strings.EqualFold(query, code)
}
