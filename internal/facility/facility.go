// Package facility talks to the telescope observation portals that accept,
// validate and track calibration requests.
package facility

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"cadence_scheduler/internal/models"
)

// Facility is one named submission target of an observation portal.
type Facility interface {
	Name() string
	// StartEndKeywords are the payload keys holding the request window.
	StartEndKeywords() (start, end string)
	Vocabulary() models.StatusVocabulary
	// Validate checks p without submitting it. Field problems are reported as FieldErrors.
	Validate(ctx context.Context, observationType string, p models.Payload) error
	// Submit sends p exactly once and returns the facility's observation ids.
	Submit(ctx context.Context, p models.Payload) ([]string, error)
	Status(ctx context.Context, observationID string) (models.ObservationStatus, error)
}

var ErrUnknownObservationType = errors.New("unknown observation type")

// FieldErrors maps payload fields to the problems found with them.
type FieldErrors map[string][]string

func (e FieldErrors) Error() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(e[k], "; ")))
	}
	return "invalid payload: " + strings.Join(parts, ", ")
}

func (e FieldErrors) add(field, msg string) {
	if field == "" {
		field = "payload"
	}
	e[field] = append(e[field], msg)
}

func (e FieldErrors) merge(other FieldErrors) {
	for k, msgs := range other {
		e[k] = append(e[k], msgs...)
	}
}

// Registry resolves facilities by name.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Facility
}

func NewRegistry(facilities ...Facility) *Registry {
	r := &Registry{byName: make(map[string]Facility, len(facilities))}
	for _, f := range facilities {
		r.Register(f)
	}
	return r
}

// Register adds f, replacing any facility with the same name.
func (r *Registry) Register(f Facility) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[f.Name()] = f
}

func (r *Registry) Get(name string) (Facility, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.byName[name]
	return f, ok
}

// Names lists registered facilities in alphabetical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
