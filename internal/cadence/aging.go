package cadence

import (
	"slices"
	"time"

	"cadence_scheduler/internal/models"
)

// Candidate is a filter, or a set of filters calibrated together, that can be
// selected for the next request of an instrument.
type Candidate struct {
	Name    string
	Filters []string
	MaxAge  int
}

// FilterCandidate wraps a single instrument filter.
func FilterCandidate(f models.InstrumentFilter) Candidate {
	return Candidate{Name: f.Filter.Name, Filters: []string{f.Filter.Name}, MaxAge: f.MaxAge}
}

// FilterSetCandidate wraps an instrument filter set.
func FilterSetCandidate(s models.InstrumentFilterSet) Candidate {
	return Candidate{Name: s.Label(), Filters: s.Names(), MaxAge: s.MaxAge}
}

// FilterAge pairs a candidate with its age in days. A nil Age means the
// candidate was never calibrated and counts as older than any finite age.
type FilterAge struct {
	Candidate Candidate
	Age       *int
}

// Overdue reports whether the candidate is uncalibrated or older than its MaxAge.
func (a FilterAge) Overdue() bool {
	return a.Age == nil || (a.Candidate.MaxAge > 0 && *a.Age > a.Candidate.MaxAge)
}

// AgingPolicy ranks filters by time since their last successful calibration.
type AgingPolicy struct {
	now   Clock
	vocab models.StatusVocabulary
}

func NewAgingPolicy(now Clock, vocab models.StatusVocabulary) AgingPolicy {
	if len(vocab.Successful) == 0 {
		vocab = models.DefaultVocabulary
	}
	return AgingPolicy{now: now.orDefault(), vocab: vocab}
}

// AgeOf returns the whole days since the most recent successful record of
// instrumentCode that selected filter. It returns nil when there is no such
// record or when that record has no scheduled end.
func (p AgingPolicy) AgeOf(filter, instrumentCode string, history []models.ObservationRecord) *int {
	var latest *models.ObservationRecord
	for i := range history {
		r := &history[i]
		if !p.vocab.IsSuccessful(r.Status) {
			continue
		}
		if r.Parameters.String(models.PayloadInstrument) != instrumentCode || !r.Parameters.Selected(filter) {
			continue
		}
		if latest == nil || newer(r, latest) {
			latest = r
		}
	}
	if latest == nil || latest.ScheduledEnd == nil {
		return nil
	}
	days := int(p.now.orDefault()().Sub(*latest.ScheduledEnd) / (24 * time.Hour))
	if days < 0 {
		days = 0
	}
	return &days
}

// AgeOfSet is the worst-case age of a filter set: the maximum of its member
// ages. A member that was never calibrated makes the whole set uncalibrated.
func (p AgingPolicy) AgeOfSet(filters []string, instrumentCode string, history []models.ObservationRecord) *int {
	if len(filters) == 0 {
		return nil
	}
	var oldest *int
	for _, f := range filters {
		age := p.AgeOf(f, instrumentCode, history)
		if age == nil {
			return nil
		}
		if oldest == nil || *age > *oldest {
			oldest = age
		}
	}
	return oldest
}

// Ages computes the age of every candidate in input order.
func (p AgingPolicy) Ages(candidates []Candidate, instrumentCode string, history []models.ObservationRecord) []FilterAge {
	out := make([]FilterAge, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, FilterAge{Candidate: c, Age: p.AgeOfSet(c.Filters, instrumentCode, history)})
	}
	return out
}

// SelectNext returns the count most overdue candidates, oldest first.
// Uncalibrated candidates come before any calibrated one; equal ages keep
// the input order.
func (p AgingPolicy) SelectNext(candidates []Candidate, instrumentCode string, history []models.ObservationRecord, count int) []Candidate {
	if count <= 0 || len(candidates) == 0 {
		return nil
	}
	ages := p.Ages(candidates, instrumentCode, history)
	slices.SortStableFunc(ages, func(a, b FilterAge) int {
		return compareAgeDesc(a.Age, b.Age)
	})
	if count > len(ages) {
		count = len(ages)
	}
	out := make([]Candidate, 0, count)
	for _, a := range ages[:count] {
		out = append(out, a.Candidate)
	}
	return out
}

// compareAgeDesc orders nil first, then larger ages first.
func compareAgeDesc(a, b *int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	case *a > *b:
		return -1
	case *a < *b:
		return 1
	default:
		return 0
	}
}

// ApplySelection deselects every filter of all, then selects every filter of chosen.
func ApplySelection(payload models.Payload, all, chosen []Candidate) {
	for _, c := range all {
		for _, f := range c.Filters {
			payload[models.SelectedKey(f)] = false
		}
	}
	for _, c := range chosen {
		for _, f := range c.Filters {
			payload[models.SelectedKey(f)] = true
		}
	}
}

func newer(a, b *models.ObservationRecord) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
