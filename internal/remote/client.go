package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/propagation"

	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/httpclient"
	"github.com/utafrali/storefront/pkg/logger"
	"github.com/utafrali/storefront/pkg/tracing"
)

// maxBodyBytes caps how much of a success response is read.
const maxBodyBytes = 4 << 20

// serviceName labels upstream errors.
const serviceName = "commerce-api"

// HTTPDoer is the interface for executing HTTP requests.
// Both httpclient.Client and httpclient.CircuitBreakerClient satisfy this.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Credentials attach identity to outbound requests and perform the global
// teardown when the upstream API answers 401. *session.Auth satisfies it.
type Credentials interface {
	Apply(req *http.Request)
	Expire()
}

// anonymous is used for catalog reads that carry no identity.
type anonymous struct{}

func (anonymous) Apply(*http.Request) {}
func (anonymous) Expire()             {}

// Client issues JSON requests against the commerce API and maps every
// failure into the storefront error taxonomy.
type Client struct {
	http    HTTPDoer
	baseURL string
	creds   Credentials
	logger  *slog.Logger
}

// NewClient creates a client for baseURL, which already includes the API
// prefix (e.g. https://shop.example.com/api). creds may be nil for
// anonymous use.
func NewClient(doer HTTPDoer, baseURL string, creds Credentials, logger *slog.Logger) *Client {
	if creds == nil {
		creds = anonymous{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:    doer,
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		logger:  logger,
	}
}

// WithCredentials returns a copy of c that authenticates as creds.
func (c *Client) WithCredentials(creds Credentials) *Client {
	cpy := *c
	cpy.creds = creds
	return &cpy
}

// do sends one request and returns the raw success body.
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader = http.NoBody
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, apperrors.Internal(fmt.Errorf("marshal %s %s request: %w", method, path, err))
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("build %s %s request: %w", method, path, err))
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		req.Header.Set("X-Correlation-ID", id)
	}
	c.creds.Apply(req)
	tracing.InjectHeaders(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, c.transportError(ctx, method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := httpclient.ParseResponseError(resp, serviceName)
		if errors.Is(err, apperrors.ErrSessionExpired) {
			c.logger.InfoContext(ctx, "upstream rejected credentials, tearing session down",
				slog.String("method", method),
				slog.String("path", path),
			)
			c.creds.Expire()
		}
		return nil, err
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, apperrors.NetworkFailure(fmt.Errorf("read %s %s response: %w", method, path, err))
	}
	return raw, nil
}

// transportError classifies a failure that produced no usable response.
func (c *Client) transportError(ctx context.Context, method, path string, err error) error {
	var appErr *apperrors.AppError
	var statusErr *httpclient.StatusError
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.As(err, &statusErr):
		return httpclient.FromStatusError(statusErr, serviceName)
	case errors.Is(err, httpclient.ErrCircuitOpen):
		return apperrors.ServiceUnavailable("the store is temporarily unavailable, please try again shortly")
	default:
		c.logger.WarnContext(ctx, "upstream request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return apperrors.NetworkFailure(fmt.Errorf("%s %s: %w", method, path, err))
	}
}

// unwrapData returns the payload of a {"data": ...} envelope, or raw itself
// when the body is not enveloped. isEnvelope decides which from the decoded
// top-level object.
func unwrapData(raw []byte, isEnvelope func(map[string]json.RawMessage) bool) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, errors.New("empty body")
	}
	if trimmed[0] != '{' {
		return trimmed, nil
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &top); err != nil {
		return nil, err
	}
	if data, ok := top["data"]; ok && isEnvelope(top) {
		return data, nil
	}
	return trimmed, nil
}

// decodeStrict decodes raw into dst rejecting trailing data.
func decodeStrict(raw []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON value")
	}
	return nil
}
