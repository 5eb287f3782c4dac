// Package catalog imports the instrument, filter and target catalog from YAML.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"cadence_scheduler/internal/logger"
	"cadence_scheduler/internal/models"
)

// File is the on-disk catalog layout.
type File struct {
	Filters     []models.Filter `yaml:"filters"`
	Instruments []Instrument    `yaml:"instruments"`
	Targets     []Target        `yaml:"targets"`
}

type Instrument struct {
	Code       string      `yaml:"code"`
	Site       string      `yaml:"site"`
	Enclosure  string      `yaml:"enclosure"`
	Telescope  string      `yaml:"telescope"`
	Type       string      `yaml:"type"`
	Filters    []FilterRef `yaml:"filters"`
	FilterSets []SetRef    `yaml:"filter_sets"`
}

type FilterRef struct {
	Name   string `yaml:"name"`
	MaxAge int    `yaml:"max_age"`
}

type SetRef struct {
	Filters []string `yaml:"filters"`
	MaxAge  int      `yaml:"max_age"`
}

type Target struct {
	Name          string            `yaml:"name"`
	Type          string            `yaml:"type"`
	RA            *float64          `yaml:"ra"`
	Dec           *float64          `yaml:"dec"`
	HourAngle     *float64          `yaml:"hour_angle"`
	SeasonalStart *int              `yaml:"seasonal_start"`
	SeasonalEnd   *int              `yaml:"seasonal_end"`
	Extras        map[string]string `yaml:"extras"`
}

// Parse decodes and validates a catalog payload.
func Parse(data []byte) (File, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return File{}, errors.New("catalog: payload is empty")
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("catalog: decode: %w", err)
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// Load reads the catalog at path. A missing file yields an empty catalog.
func Load(path string) (File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return File{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return File{}, nil
		}
		return File{}, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return File{}, fmt.Errorf("catalog: %s: %w", path, err)
	}
	return f, nil
}

// Validate checks that every referenced filter is declared and that max ages
// are positive.
func (f File) Validate() error {
	declared := make(map[string]bool, len(f.Filters))
	for _, flt := range f.Filters {
		if strings.TrimSpace(flt.Name) == "" {
			return errors.New("catalog: filter without a name")
		}
		declared[flt.Name] = true
	}
	for _, inst := range f.Instruments {
		if strings.TrimSpace(inst.Code) == "" {
			return errors.New("catalog: instrument without a code")
		}
		for _, ref := range inst.Filters {
			if !declared[ref.Name] {
				return fmt.Errorf("catalog: instrument %s: undeclared filter %q", inst.Code, ref.Name)
			}
			if ref.MaxAge <= 0 {
				return fmt.Errorf("catalog: instrument %s: filter %s: max_age must be positive", inst.Code, ref.Name)
			}
		}
		for _, set := range inst.FilterSets {
			if len(set.Filters) == 0 {
				return fmt.Errorf("catalog: instrument %s: empty filter set", inst.Code)
			}
			for _, name := range set.Filters {
				if !declared[name] {
					return fmt.Errorf("catalog: instrument %s: undeclared filter %q in set", inst.Code, name)
				}
			}
			if set.MaxAge <= 0 {
				return fmt.Errorf("catalog: instrument %s: filter set %v: max_age must be positive", inst.Code, set.Filters)
			}
		}
	}
	for _, t := range f.Targets {
		if strings.TrimSpace(t.Name) == "" {
			return errors.New("catalog: target without a name")
		}
	}
	return nil
}

// InstrumentStore receives the imported instruments and filters.
type InstrumentStore interface {
	UpsertInstrument(ctx context.Context, inst models.Instrument) error
	UpsertFilter(ctx context.Context, f models.Filter) error
	AttachFilter(ctx context.Context, instrumentCode, filterName string, maxAge int) error
	AttachFilterSet(ctx context.Context, instrumentCode string, filterNames []string, maxAge int) error
}

// TargetStore receives the imported targets.
type TargetStore interface {
	Create(ctx context.Context, t models.Target) (int64, error)
	List(ctx context.Context) ([]models.Target, error)
}

// Summary counts what an import wrote.
type Summary struct {
	Filters     int `json:"filters"`
	Instruments int `json:"instruments"`
	Targets     int `json:"targets"`
}

// Importer writes a catalog into the stores. Instruments and filters are
// upserted; targets are created once by name.
type Importer struct {
	instruments InstrumentStore
	targets     TargetStore
	log         *logger.Logger
}

func NewImporter(instruments InstrumentStore, targets TargetStore, log *logger.Logger) *Importer {
	return &Importer{instruments: instruments, targets: targets, log: logger.OrNop(log)}
}

func (im *Importer) Import(ctx context.Context, f File) (Summary, error) {
	var sum Summary
	for _, flt := range f.Filters {
		if err := im.instruments.UpsertFilter(ctx, flt); err != nil {
			return sum, err
		}
		sum.Filters++
	}

	for _, inst := range f.Instruments {
		err := im.instruments.UpsertInstrument(ctx, models.Instrument{
			Code:      inst.Code,
			Site:      inst.Site,
			Enclosure: inst.Enclosure,
			Telescope: inst.Telescope,
			Type:      inst.Type,
		})
		if err != nil {
			return sum, err
		}
		for _, ref := range inst.Filters {
			if err := im.instruments.AttachFilter(ctx, inst.Code, ref.Name, ref.MaxAge); err != nil {
				return sum, err
			}
		}
		for _, set := range inst.FilterSets {
			if err := im.instruments.AttachFilterSet(ctx, inst.Code, set.Filters, set.MaxAge); err != nil {
				return sum, err
			}
		}
		sum.Instruments++
	}

	existing, err := im.targets.List(ctx)
	if err != nil {
		return sum, err
	}
	known := make(map[string]bool, len(existing))
	for _, t := range existing {
		known[t.Name] = true
	}
	for _, t := range f.Targets {
		if known[t.Name] {
			continue
		}
		typ := strings.ToUpper(strings.TrimSpace(t.Type))
		if typ == "" {
			typ = models.TargetSidereal
		}
		_, err := im.targets.Create(ctx, models.Target{
			Name:          t.Name,
			Type:          typ,
			RA:            t.RA,
			Dec:           t.Dec,
			HourAngle:     t.HourAngle,
			SeasonalStart: t.SeasonalStart,
			SeasonalEnd:   t.SeasonalEnd,
			Extras:        t.Extras,
		})
		if err != nil {
			return sum, err
		}
		known[t.Name] = true
		sum.Targets++
	}

	im.log.Infow("catalog_imported", "filters", sum.Filters, "instruments", sum.Instruments, "targets", sum.Targets)
	return sum, nil
}
