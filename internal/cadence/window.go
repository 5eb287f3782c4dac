package cadence

import (
	"fmt"
	"time"

	"cadence_scheduler/internal/models"
)

// Clock returns the current time. Tests replace it with a fixed instant.
type Clock func() time.Time

func (c Clock) orDefault() Clock {
	if c == nil {
		return time.Now
	}
	return c
}

// Window is the observable interval of one request.
type Window struct {
	Start time.Time
	End   time.Time
}

// Length is End - Start.
func (w Window) Length() time.Duration { return w.End.Sub(w.Start) }

// Stamp writes the window into p under the facility's start/end keywords.
func (w Window) Stamp(p models.Payload, startKey, endKey string) {
	p[startKey] = models.FormatTimestamp(w.Start)
	p[endKey] = models.FormatTimestamp(w.End)
}

// WindowPolicy computes the window of the next request of a cadence.
type WindowPolicy struct {
	now Clock
}

func NewWindowPolicy(now Clock) WindowPolicy {
	return WindowPolicy{now: now.orDefault()}
}

// Advance shifts the whole window forward by exactly frequencyHours, keeping
// its length. Absolute cadence timing is preserved even when the tick runs late.
func (p WindowPolicy) Advance(prev Window, frequencyHours int) (Window, error) {
	if frequencyHours <= 0 {
		return prev, &ConfigurationError{
			Reason: fmt.Sprintf("cadence_frequency must be a positive number of hours, got %d", frequencyHours),
		}
	}
	shift := time.Duration(frequencyHours) * time.Hour
	return Window{Start: prev.Start.Add(shift), End: prev.End.Add(shift)}, nil
}

// ResubmitImmediately starts a window of the same length now.
func (p WindowPolicy) ResubmitImmediately(prev Window) Window {
	now := p.now.orDefault()().UTC()
	return Window{Start: now, End: now.Add(prev.Length())}
}

// Starting returns a window of the given length beginning now.
func (p WindowPolicy) Starting(length time.Duration) Window {
	now := p.now.orDefault()().UTC()
	return Window{Start: now, End: now.Add(length)}
}

// WindowFromPayload reads the window stored under startKey and endKey.
func WindowFromPayload(p models.Payload, startKey, endKey string) (Window, error) {
	start, err := p.Time(startKey)
	if err != nil {
		return Window{}, err
	}
	end, err := p.Time(endKey)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: start, End: end}, nil
}
