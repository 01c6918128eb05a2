// Package socialhttp holds the HTTP plumbing shared by the platform adapters:
// a bounded client, form encoding and classification of failures into
// model.ErrorKind.
package socialhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"smm-publisher/domain/model"

	"github.com/google/go-querystring/query"
)

const DefaultTimeout = 30 * time.Second

// maxBody caps how much of a response body is read.
const maxBody = 32 << 20

func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
}

func (r *Response) Decode(out interface{}) error {
	return json.Unmarshal(r.Body, out)
}

// Encode turns a struct tagged with `url:"..."` into form values.
func Encode(params interface{}) (url.Values, error) {
	if v, ok := params.(url.Values); ok {
		return v, nil
	}
	return query.Values(params)
}

// PostForm sends params as application/x-www-form-urlencoded.
func PostForm(ctx context.Context, client *http.Client, platform model.Platform, endpoint string, params interface{}) (*Response, error) {
	values, err := Encode(params)
	if err != nil {
		return nil, model.NewPublishError(platform, model.ErrorKindUnknown, "encode form", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, model.NewPublishError(platform, model.ErrorKindUnknown, "build request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return Do(client, platform, req)
}

// PostJSON sends body encoded as JSON.
func PostJSON(ctx context.Context, client *http.Client, platform model.Platform, endpoint string, body interface{}) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, model.NewPublishError(platform, model.ErrorKindUnknown, "encode body", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, model.NewPublishError(platform, model.ErrorKindUnknown, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return Do(client, platform, req)
}

// PostMultipart uploads data as a single file field.
func PostMultipart(ctx context.Context, client *http.Client, platform model.Platform, endpoint, field, filename string, data []byte) (*Response, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		return nil, model.NewPublishError(platform, model.ErrorKindUnknown, "build multipart body", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, model.NewPublishError(platform, model.ErrorKindUnknown, "build multipart body", err)
	}
	if err := w.Close(); err != nil {
		return nil, model.NewPublishError(platform, model.ErrorKindUnknown, "build multipart body", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, model.NewPublishError(platform, model.ErrorKindUnknown, "build request", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return Do(client, platform, req)
}

// Get issues a GET with params appended to the query string.
func Get(ctx context.Context, client *http.Client, platform model.Platform, endpoint string, params interface{}) (*Response, error) {
	if params != nil {
		values, err := Encode(params)
		if err != nil {
			return nil, model.NewPublishError(platform, model.ErrorKindUnknown, "encode query", err)
		}
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint += sep + values.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, model.NewPublishError(platform, model.ErrorKindUnknown, "build request", err)
	}
	return Do(client, platform, req)
}

// Do executes req and reads the body. Transport failures and timeouts are
// transientNetwork; HTTP status codes are left for the caller to classify.
func Do(client *http.Client, platform model.Platform, req *http.Request) (*Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, TransportError(platform, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, TransportError(platform, err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

// TransportError classifies an error returned by http.Client.Do.
func TransportError(platform model.Platform, err error) *model.PublishError {
	// the request URL may carry a token (Telegram puts it in the path)
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return model.NewPublishError(platform, model.ErrorKindTransientNetwork, "request timed out", err)
	case errors.Is(err, context.Canceled):
		return model.NewPublishError(platform, model.ErrorKindTransientNetwork, "request canceled", err)
	case errors.As(err, &netErr):
		return model.NewPublishError(platform, model.ErrorKindTransientNetwork, "network error", err)
	}
	return model.NewPublishError(platform, model.ErrorKindTransientNetwork, "request failed", err)
}

// StatusKind maps an HTTP status code to an ErrorKind.
func StatusKind(code int) model.ErrorKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return model.ErrorKindAuth
	case code == http.StatusTooManyRequests:
		return model.ErrorKindRateLimited
	case code == http.StatusRequestTimeout:
		return model.ErrorKindTransientNetwork
	case code >= 500:
		return model.ErrorKindTransientNetwork
	case code >= 400:
		return model.ErrorKindContentRejected
	}
	return model.ErrorKindUnknown
}

// StatusError builds the error for a non-2xx response.
func StatusError(platform model.Platform, code int, msg string) *model.PublishError {
	if msg == "" {
		msg = http.StatusText(code)
	}
	return model.NewPublishError(platform, StatusKind(code), fmt.Sprintf("HTTP %d: %s", code, msg), nil)
}

// Truncate shortens a response body for logging.
func Truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
