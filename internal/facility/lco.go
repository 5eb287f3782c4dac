package facility

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"cadence_scheduler/internal/logger"
	"cadence_scheduler/internal/models"
)

// Facility names served by the LCO observation portal.
const (
	LCOCalibrations      = "LCO Calibrations"
	ImagerCalibrations   = "Imager Calibrations"
	PhotometricStandards = "Photometric Standards"
	BiasCalibrations     = "Bias Calibrations"
)

// PortalConfig configures the connection to an observation portal.
type PortalConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// Retries bounds additional attempts of status polls and remote validation.
	Retries int
	RPS     float64
	Burst   int
}

// HTTPError is a non-2xx portal response.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// retryable reports whether a later attempt could succeed.
func (e *HTTPError) retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// TargetLookup resolves the target a payload refers to.
type TargetLookup interface {
	TargetByID(ctx context.Context, id int64) (models.Target, error)
}

// Portal is the rate-limited HTTP transport shared by every facility of one portal.
type Portal struct {
	base       string
	token      string
	http       *http.Client
	limiter    *rate.Limiter
	retries    int
	newBackOff func() backoff.BackOff
	log        *logger.Logger
}

func NewPortal(cfg PortalConfig, log *logger.Logger) *Portal {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Portal{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		retries: max(cfg.Retries, 0),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
		log: logger.OrNop(log),
	}
}

// WithBackOff replaces the retry schedule; tests use a zero delay.
func (p *Portal) WithBackOff(newBackOff func() backoff.BackOff) *Portal {
	p.newBackOff = newBackOff
	return p
}

// do performs one rate-limited request. out may be nil.
func (p *Portal) do(ctx context.Context, method, path string, body, out any) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Token "+p.token)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// retry runs op with backoff. Client errors other than 429 are not retried.
func (p *Portal) retry(ctx context.Context, op func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		var he *HTTPError
		if errors.As(err, &he) && !he.retryable() {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(p.newBackOff()), backoff.WithMaxTries(uint(p.retries+1)))
	return err
}

// Client is one named facility of an LCO-style portal.
type Client struct {
	name    string
	portal  *Portal
	schemas *Schemas
	targets TargetLookup
	vocab   models.StatusVocabulary
}

// New creates the facility called name on portal.
func New(name string, portal *Portal, schemas *Schemas, targets TargetLookup) *Client {
	return &Client{
		name:    name,
		portal:  portal,
		schemas: schemas,
		targets: targets,
		vocab:   models.DefaultVocabulary,
	}
}

var _ Facility = (*Client)(nil)

func (c *Client) Name() string { return c.name }

func (c *Client) StartEndKeywords() (string, string) { return "start", "end" }

func (c *Client) Vocabulary() models.StatusVocabulary { return c.vocab }

// Validate checks p against the local schema, then asks the portal to
// validate the request group it would submit.
func (c *Client) Validate(ctx context.Context, observationType string, p models.Payload) error {
	if err := c.schemas.Validate(observationType, p); err != nil {
		return err
	}
	group, err := c.requestGroup(ctx, p)
	if err != nil {
		return err
	}

	var resp struct {
		Errors json.RawMessage `json:"errors"`
	}
	err = c.portal.retry(ctx, func() error {
		return c.portal.do(ctx, http.MethodPost, "/api/requestgroups/validate/", group, &resp)
	})
	if err != nil {
		return fmt.Errorf("validate at %s: %w", c.name, err)
	}
	if fe := portalErrors(resp.Errors); len(fe) > 0 {
		return fe
	}
	return nil
}

// Submit posts the request group once. It is never retried so a timed out
// submission cannot create a duplicate observation.
func (c *Client) Submit(ctx context.Context, p models.Payload) ([]string, error) {
	group, err := c.requestGroup(ctx, p)
	if err != nil {
		return nil, err
	}

	var resp struct {
		ID       int64 `json:"id"`
		Requests []struct {
			ID int64 `json:"id"`
		} `json:"requests"`
	}
	if err := c.portal.do(ctx, http.MethodPost, "/api/requestgroups/", group, &resp); err != nil {
		var he *HTTPError
		if errors.As(err, &he) && he.StatusCode == http.StatusBadRequest {
			if fe := portalErrors(json.RawMessage(he.Body)); len(fe) > 0 {
				return nil, fe
			}
		}
		return nil, fmt.Errorf("submit to %s: %w", c.name, err)
	}

	ids := make([]string, 0, len(resp.Requests))
	for _, r := range resp.Requests {
		ids = append(ids, fmt.Sprint(r.ID))
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("submit to %s: request group %d returned no requests", c.name, resp.ID)
	}
	c.portal.log.Infow("facility_request_submitted", "facility", c.name, "request_group_id", resp.ID, "observation_ids", ids)
	return ids, nil
}

type portalObservation struct {
	State string `json:"state"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// Status reads the request state and the schedule of its latest observation.
func (c *Client) Status(ctx context.Context, observationID string) (models.ObservationStatus, error) {
	id := url.PathEscape(observationID)
	var st models.ObservationStatus

	err := c.portal.retry(ctx, func() error {
		var req struct {
			State string `json:"state"`
		}
		if err := c.portal.do(ctx, http.MethodGet, "/api/requests/"+id+"/", nil, &req); err != nil {
			return err
		}
		var observations []portalObservation
		if err := c.portal.do(ctx, http.MethodGet, "/api/requests/"+id+"/observations/", nil, &observations); err != nil {
			return err
		}
		st = models.ObservationStatus{State: strings.ToUpper(req.State)}
		st.ScheduledStart, st.ScheduledEnd = latestSchedule(observations)
		return nil
	})
	if err != nil {
		return models.ObservationStatus{}, fmt.Errorf("status of %s at %s: %w", observationID, c.name, err)
	}
	return st, nil
}

func (c *Client) requestGroup(ctx context.Context, p models.Payload) (RequestGroup, error) {
	target, err := c.target(ctx, p)
	if err != nil {
		return RequestGroup{}, err
	}
	return BuildRequestGroup(p, target)
}

func (c *Client) target(ctx context.Context, p models.Payload) (models.Target, error) {
	if strings.EqualFold(p.String(models.PayloadObservationType), TypeBias) {
		return models.BiasTarget(), nil
	}
	id, ok := p.Int(models.PayloadTargetID)
	if !ok || id <= 0 {
		return models.Target{}, FieldErrors{models.PayloadTargetID: {"a target is required"}}
	}
	if c.targets == nil {
		return models.Target{}, fmt.Errorf("facility %s has no target lookup", c.name)
	}
	t, err := c.targets.TargetByID(ctx, int64(id))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.Target{}, FieldErrors{models.PayloadTargetID: {fmt.Sprintf("target %d does not exist", id)}}
		}
		return models.Target{}, fmt.Errorf("load target %d: %w", id, err)
	}
	return t, nil
}

// latestSchedule picks the window of the most recently starting observation.
func latestSchedule(observations []portalObservation) (*time.Time, *time.Time) {
	var start, end *time.Time
	for _, o := range observations {
		s, err := models.ParseTimestamp(o.Start)
		if err != nil {
			continue
		}
		if start != nil && !s.After(*start) {
			continue
		}
		start = &s
		end = nil
		if e, err := models.ParseTimestamp(o.End); err == nil {
			end = &e
		}
	}
	return start, end
}

// portalErrors flattens the portal's nested error document into FieldErrors.
func portalErrors(raw json.RawMessage) FieldErrors {
	fe := FieldErrors{}
	if len(raw) == 0 {
		return fe
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fe
	}
	flattenPortalErrors("", doc, fe)
	return fe
}

func flattenPortalErrors(prefix string, v any, fe FieldErrors) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			name := k
			if prefix != "" && k != "non_field_errors" {
				name = prefix + "." + k
			} else if k == "non_field_errors" {
				name = prefix
			}
			flattenPortalErrors(name, t[k], fe)
		}
	case []any:
		for i, item := range t {
			switch item.(type) {
			case string:
				flattenPortalErrors(prefix, item, fe)
			default:
				flattenPortalErrors(fmt.Sprintf("%s[%d]", prefix, i), item, fe)
			}
		}
	case string:
		if t != "" {
			fe.add(prefix, t)
		}
	}
}
