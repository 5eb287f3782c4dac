package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cadence_scheduler/internal/models"
	"cadence_scheduler/internal/repository"
)

// fakeEventRepo is a minimal stub that satisfies the repository.EventRepo interface.
type fakeEventRepo struct {
	mu sync.Mutex

	// captured inputs
	gotQuery repository.EventQuery
	appended []models.CadenceEvent

	// configured outputs
	events    []models.CadenceEvent
	err       error
	appendErr error

	calls int
}

func (f *fakeEventRepo) List(ctx context.Context, q repository.EventQuery) ([]models.CadenceEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.gotQuery = q
	return f.events, f.err
}

func (f *fakeEventRepo) Append(ctx context.Context, e models.CadenceEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, e)
	return f.appendErr
}

func fixedZone(name string, offsetSec int) *time.Location {
	return time.FixedZone(name, offsetSec)
}

func mustTimeIn(loc *time.Location, y int, m time.Month, d, hh, mm, ss int) time.Time {
	return time.Date(y, m, d, hh, mm, ss, 0, loc)
}

// normalizeToUTC

func Test_normalizeToUTC(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   time.Time
		want func(time.Time) bool
	}{
		{
			name: "zero time remains zero",
			in:   time.Time{},
			want: func(out time.Time) bool { return out.IsZero() },
		},
		{
			name: "non-UTC converted to UTC preserving instant",
			in:   mustTimeIn(fixedZone("UTC+3", 3*3600), 2025, time.August, 1, 12, 34, 56),
			want: func(out time.Time) bool {
				exp := time.Date(2025, time.August, 1, 9, 34, 56, 0, time.UTC) // 12:34:56+03 == 09:34:56Z
				return out.Location() == time.UTC && out.Equal(exp)
			},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := normalizeToUTC(tc.in)
			if !tc.want(got) {
				t.Fatalf("unexpected normalizeToUTC result: %v (loc=%v)", got, got.Location())
			}
		})
	}
}

func Test_normalizeEventType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		exp  string
	}{
		{name: "empty stays empty", in: "", exp: ""},
		{name: "trim spaces", in: "  IDLE ", exp: "IDLE"},
		{name: "uppercase", in: "submitted", exp: "SUBMITTED"},
		{name: "underscores preserved", in: " config_error ", exp: "CONFIG_ERROR"},
	}

	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			got := normalizeEventType(c.in)
			if got != c.exp {
				t.Fatalf("normalizeEventType(%q) = %q; want %q", c.in, got, c.exp)
			}
		})
	}
}

func Test_normalizeAndValidateFilter(t *testing.T) {
	t.Parallel()

	fromLocal := mustTimeIn(fixedZone("UTC+2", 2*3600), 2025, time.September, 10, 10, 0, 0)
	toUTC := time.Date(2025, time.September, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		in      LogFilter
		want    repository.EventQuery
		wantErr error
	}{
		{
			name: "all zero/empty ok",
			in:   LogFilter{},
		},
		{
			name: "from after to -> error",
			in: LogFilter{
				From: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
				To:   time.Date(2025, 1, 1, 23, 0, 0, 0, time.UTC),
			},
			wantErr: errInvalidTimeRange,
		},
		{
			name: "normalize tz, type and keep cadence",
			in: LogFilter{
				From:      fromLocal,
				To:        toUTC,
				Type:      " skipped ",
				CadenceID: 4,
			},
			want: repository.EventQuery{
				From:      time.Date(2025, time.September, 10, 8, 0, 0, 0, time.UTC), // 10:00 +02 -> 08:00Z
				To:        toUTC,
				Type:      "SKIPPED",
				CadenceID: 4,
			},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := normalizeAndValidateFilter(tc.in)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v; got %v", tc.wantErr, err)
			}
			if !got.From.Equal(tc.want.From) || !got.To.Equal(tc.want.To) || got.Type != tc.want.Type || got.CadenceID != tc.want.CadenceID {
				t.Fatalf("got %+v; want %+v", got, tc.want)
			}
		})
	}
}

func TestEventLogService_ListEvents_DelegatesNormalizedQuery(t *testing.T) {
	t.Parallel()

	frepo := &fakeEventRepo{events: []models.CadenceEvent{{EventID: "1"}}}
	svc := NewEventLogService(frepo)

	out, err := svc.ListEvents(context.Background(), LogFilter{
		From: mustTimeIn(fixedZone("UTC+5", 5*3600), 2025, time.October, 1, 10, 0, 0),
		Type: "  error ",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || frepo.calls != 1 {
		t.Fatalf("unexpected events %+v after %d calls", out, frepo.calls)
	}
	if want := time.Date(2025, time.October, 1, 5, 0, 0, 0, time.UTC); !frepo.gotQuery.From.Equal(want) {
		t.Fatalf("repo got from=%v; want %v", frepo.gotQuery.From, want)
	}
	if frepo.gotQuery.Type != "ERROR" {
		t.Fatalf("repo got type=%q; want ERROR", frepo.gotQuery.Type)
	}
}

func TestEventLogService_ListEvents_ValidationError(t *testing.T) {
	t.Parallel()

	frepo := &fakeEventRepo{}
	svc := NewEventLogService(frepo)

	_, err := svc.ListEvents(context.Background(), LogFilter{
		From: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2025, 1, 1, 23, 0, 0, 0, time.UTC),
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput; got %v", err)
	}
	if frepo.calls != 0 {
		t.Fatalf("repo should not be called on validation error, calls=%d", frepo.calls)
	}
}

func TestEventLogService_ListEvents_RepoErrorPropagation(t *testing.T) {
	t.Parallel()

	frepo := &fakeEventRepo{err: errors.New("db down")}
	svc := NewEventLogService(frepo)

	if _, err := svc.ListEvents(context.Background(), LogFilter{}); !errors.Is(err, frepo.err) {
		t.Fatalf("expected repo error to propagate; got %v", err)
	}
}
