package facility

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"cadence_scheduler/internal/models"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBaseURL = "https://cadence.schemas.local/"

// Observation types with a local schema.
const (
	TypeImager               = "IMAGER"
	TypeNRES                 = "NRES"
	TypePhotometricStandards = "PHOTOMETRIC_STANDARDS"
	TypeBias                 = "BIAS"
)

// Schemas holds the compiled payload schema of every observation type.
type Schemas struct {
	byType map[string]*jsonschema.Schema
}

// LoadSchemas compiles the embedded schemas.
func LoadSchemas() (*Schemas, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("read schemas: %w", err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	for _, e := range entries {
		raw, err := schemaFS.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", e.Name(), err)
		}
		if err := c.AddResource(schemaBaseURL+e.Name(), bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("load schema %s: %w", e.Name(), err)
		}
	}

	s := &Schemas{byType: make(map[string]*jsonschema.Schema)}
	for _, obsType := range []string{TypeImager, TypeNRES, TypePhotometricStandards, TypeBias} {
		name := strings.ToLower(obsType) + ".json"
		compiled, err := c.Compile(schemaBaseURL + name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		s.byType[obsType] = compiled
	}
	return s, nil
}

// Types lists the observation types with a schema.
func (s *Schemas) Types() []string {
	out := make([]string, 0, len(s.byType))
	for t := range s.byType {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Validate checks p against the schema of observationType and the rules a
// schema cannot express. Problems are returned as FieldErrors.
func (s *Schemas) Validate(observationType string, p models.Payload) error {
	schema, ok := s.byType[strings.ToUpper(observationType)]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownObservationType, observationType)
	}

	doc, err := normalize(p)
	if err != nil {
		return err
	}

	fe := FieldErrors{}
	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			return fmt.Errorf("validate payload: %w", err)
		}
		collectSchemaErrors(ve, fe)
	}
	fe.merge(checkPayload(strings.ToUpper(observationType), p))

	if len(fe) > 0 {
		return fe
	}
	return nil
}

// normalize converts p to the generic JSON shape the validator expects.
func normalize(p models.Payload) (any, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return doc, nil
}

// collectSchemaErrors flattens the leaf causes of ve into fe.
func collectSchemaErrors(ve *jsonschema.ValidationError, fe FieldErrors) {
	if len(ve.Causes) == 0 {
		field := strings.TrimPrefix(ve.InstanceLocation, "/")
		fe.add(field, ve.Message)
		return
	}
	for _, cause := range ve.Causes {
		collectSchemaErrors(cause, fe)
	}
}

// checkPayload covers the cross-field rules: an ordered window and, for
// filter-based requests, at least one fully described selected filter.
func checkPayload(observationType string, p models.Payload) FieldErrors {
	fe := FieldErrors{}

	start, errStart := p.Time("start")
	end, errEnd := p.Time("end")
	switch {
	case errStart != nil && p["start"] != nil:
		fe.add("start", errStart.Error())
	case errEnd != nil && p["end"] != nil:
		fe.add("end", errEnd.Error())
	case errStart == nil && errEnd == nil && !end.After(start):
		fe.add("end", "window end must be after its start")
	}

	if observationType != TypeImager && observationType != TypePhotometricStandards {
		return fe
	}
	selected := SelectedFilters(p)
	if len(selected) == 0 {
		fe.add("filters", "at least one filter must be selected")
	}
	for _, f := range selected {
		if _, ok := p.Int(models.ExposureCountKey(f)); !ok {
			fe.add(models.ExposureCountKey(f), "required for a selected filter")
		}
		if _, ok := p.Float(models.ExposureTimeKey(f)); !ok {
			fe.add(models.ExposureTimeKey(f), "required for a selected filter")
		}
	}
	return fe
}

// SelectedFilters returns the names of the filters toggled on in p, sorted.
func SelectedFilters(p models.Payload) []string {
	var out []string
	for k, v := range p {
		name, ok := strings.CutSuffix(k, "_selected")
		if !ok || name == "" {
			continue
		}
		if b, _ := v.(bool); b {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
