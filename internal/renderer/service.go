// Package renderer forwards render requests to the Browserless provider and
// decodes its responses.
package renderer

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"

	apperrors "serenity/internal/pkg/errors"
	"serenity/internal/pkg/logger"
)

const (
	ContentTypeHTML = "text/html; charset=utf-8"
	ContentTypeJSON = "application/json"
)

// Result is a decoded provider response.
type Result struct {
	Type        Type
	ContentType string
	Body        []byte
}

// Size returns the payload length in bytes.
func (r *Result) Size() int {
	return len(r.Body)
}

// Recorder receives render metrics.
type Recorder interface {
	ObserveRender(typ string, outcome string, elapsed time.Duration)
	ObserveUpstream(endpoint string, status int)
	IncRetry(endpoint string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveRender(string, string, time.Duration) {}
func (nopRecorder) ObserveUpstream(string, int)                 {}
func (nopRecorder) IncRetry(string)                             {}

// Options configures a Service.
type Options struct {
	APIKey string
	// RetryDelay is the pause before the single scrape retry.
	RetryDelay time.Duration
	// MinWaitForTimeout is the waitForTimeout floor (ms) for the retry.
	MinWaitForTimeout int
	Logger            *logger.Logger
	Metrics           Recorder
}

// Service is the render proxy. It holds no per-request state and is safe
// for concurrent use.
type Service struct {
	client            Client
	apiKey            string
	retryDelay        time.Duration
	minWaitForTimeout int
	log               *logger.Logger
	metrics           Recorder
}

// NewService creates a Service.
func NewService(client Client, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopRecorder{}
	}
	return &Service{
		client:            client,
		apiKey:            opts.APIKey,
		retryDelay:        opts.RetryDelay,
		minWaitForTimeout: opts.MinWaitForTimeout,
		log:               opts.Logger.WithComponent("renderer"),
		metrics:           opts.Metrics,
	}
}

// Validate runs the request checks Render runs, without calling the
// provider.
func (s *Service) Validate(req Request) error {
	_, err := buildCall(req, s.apiKey)
	return err
}

// Render validates req, calls the provider and decodes the response.
func (s *Service) Render(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res, err := s.render(ctx, req)
	kind := string(req.Kind())
	if kind == "" {
		kind = "invalid"
	}
	s.metrics.ObserveRender(kind, outcome(err), time.Since(start))
	return res, err
}

func (s *Service) render(ctx context.Context, req Request) (*Result, error) {
	c, err := buildCall(req, s.apiKey)
	if err != nil {
		return nil, err
	}
	log := s.log.FromContext(ctx)

	resp, err := s.do(ctx, log, c, req.URL)
	if err != nil {
		return nil, err
	}

	if c.typ == TypeScrape && retryable(resp.Status) {
		s.metrics.IncRetry(string(c.endpoint))
		c.scrape.WaitForTimeout = max(c.scrape.WaitForTimeout, s.minWaitForTimeout)
		log.Warn("retrying scrape",
			"status", resp.Status,
			"wait_for_timeout", c.scrape.WaitForTimeout,
			"delay", s.retryDelay.String(),
		)
		if err := sleep(ctx, s.retryDelay); err != nil {
			return nil, apperrors.Wrap(err, "renderer.Render", "render cancelled before retry")
		}
		resp, err = s.do(ctx, log, c, req.URL)
		if err != nil {
			return nil, err
		}
	}

	if resp.Status < 200 || resp.Status >= 300 {
		details := string(resp.Body)
		log.Error("provider request failed",
			"endpoint", string(c.endpoint),
			"status", resp.Status,
			"details", details,
		)
		return nil, apperrors.Upstream(resp.Status, details).WithOp("renderer.Render")
	}

	return decode(c.typ, resp)
}

func (s *Service) do(ctx context.Context, log *logger.Logger, c *call, target string) (*Response, error) {
	log.Info("making provider request", "endpoint", string(c.endpoint), "url", target)

	resp, err := s.client.Post(ctx, c.endpoint, s.apiKey, c.body)
	if err != nil {
		log.WithError(err).Error("provider request error", "endpoint", string(c.endpoint))
		return nil, apperrors.Wrap(err, "renderer.Render", "provider request failed: "+err.Error())
	}
	s.metrics.ObserveUpstream(string(c.endpoint), resp.Status)
	return resp, nil
}

func decode(typ Type, resp *Response) (*Result, error) {
	switch typ {
	case TypeContent:
		return &Result{Type: typ, ContentType: ContentTypeHTML, Body: resp.Body}, nil
	case TypeScrape:
		if !json.Valid(resp.Body) {
			return nil, apperrors.New(apperrors.CodeInternal, "provider returned invalid JSON").
				WithOp("renderer.Render")
		}
		return &Result{Type: typ, ContentType: ContentTypeJSON, Body: resp.Body}, nil
	default:
		ct := resp.Header.Get("Content-Type")
		if ct == "" {
			ct = mimetype.Detect(resp.Body).String()
		}
		return &Result{Type: typ, ContentType: ct, Body: resp.Body}, nil
	}
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusRequestTimeout
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	switch apperrors.GetCode(err) {
	case apperrors.CodeValidation:
		return "invalid"
	case apperrors.CodeUpstream:
		return "upstream_error"
	case apperrors.CodeConfig:
		return "config_error"
	default:
		return "error"
	}
}
