package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"marketplace-client/internal/config"
	"marketplace-client/internal/logging"
)

const maxResponseBytes = 1 << 20

type Client struct {
	http      *http.Client
	endpoints config.APIEndpoints
	logger    *logging.Logger
}

// New returns a client for the marketplace HTTP API. The refresh endpoint
// authenticates with a cookie, so httpClient should carry a cookie jar.
func New(httpClient *http.Client, endpoints config.APIEndpoints, logger *logging.Logger) *Client {
	if logger == nil {
		panic("api.New: logger must not be nil")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient, endpoints: endpoints, logger: logger.With(logging.Field("component", "api"))}
}

func (c *Client) Endpoints() config.APIEndpoints {
	return c.endpoints
}

type request struct {
	method      string
	url         string
	bearerToken string
	body        any
	op          string
}

// do performs one JSON round trip and returns the response body. Failures are
// always *Error so callers can branch on Kind.
func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	var reader io.Reader
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return nil, &Error{Kind: KindValidation, Message: "invalid request payload", Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.url, reader)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Message: "invalid request", Err: err}
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := strings.TrimSpace(r.bearerToken); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn(r.op+" request failed",
			logging.Field("url", r.url),
			logging.Field("request_id", requestID),
			logging.Field("error", err),
		)
		return nil, &Error{Kind: KindTransport, Message: "network error", Err: err}
	}
	defer resp.Body.Close()
	c.logger.Debugf("%s %s -> %s", r.method, r.url, resp.Status)

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode >= http.StatusBadRequest {
		c.logger.Warn(r.op+" rejected",
			logging.Field("status", resp.Status),
			logging.Field("request_id", requestID),
			logging.Field("response", logging.FormatHTTPPayload(data)),
		)
		return data, &Error{
			Kind:    kindForStatus(resp.StatusCode),
			Status:  resp.StatusCode,
			Message: messageFromBody(data, resp.Status),
		}
	}
	return data, nil
}

func decodeJSON(op string, data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Kind: KindTransport, Message: "invalid " + op + " response", Err: err}
	}
	return nil
}

func messageFromBody(data []byte, fallback string) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if msg := strings.TrimSpace(body.Message); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(body.Error); msg != "" {
			return msg
		}
	}
	var text string
	if err := json.Unmarshal(data, &text); err == nil && strings.TrimSpace(text) != "" {
		return strings.TrimSpace(text)
	}
	return fallback
}

// withMessage replaces the user-facing message of a classified error while
// keeping its kind and status.
func withMessage(err error, message string, cause error) error {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return err
	}
	out := *apiErr
	out.Message = message
	if cause != nil {
		out.Err = cause
	}
	return &out
}
