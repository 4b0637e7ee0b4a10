package renderer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"serenity/internal/contracts/browserless"
)

// Response is a raw provider response. Non-2xx statuses are responses, not
// errors.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Client posts a JSON body to a provider endpoint.
type Client interface {
	Post(ctx context.Context, endpoint browserless.Endpoint, token string, body any) (*Response, error)
}

// HTTPClient is the resty-backed Client.
type HTTPClient struct {
	baseURL string
	resty   *resty.Client
}

// NewHTTPClient creates a client for the provider at baseURL. Retries are
// left to the caller.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	rc := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Cache-Control", "no-cache")

	return &HTTPClient{
		baseURL: baseURL,
		resty:   rc,
	}
}

// Post sends body to endpoint with the API key as the token query param.
func (c *HTTPClient) Post(ctx context.Context, endpoint browserless.Endpoint, token string, body any) (*Response, error) {
	resp, err := c.resty.R().
		SetContext(ctx).
		SetQueryParam("token", token).
		SetBody(body).
		Post(c.baseURL + string(endpoint))
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", endpoint, stripURL(err))
	}

	return &Response{
		Status: resp.StatusCode(),
		Header: resp.Header(),
		Body:   resp.Body(),
	}, nil
}

// stripURL drops the request URL from transport errors; it carries the
// token.
func stripURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}
