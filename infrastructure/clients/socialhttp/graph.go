package socialhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"smm-publisher/domain/model"
	"smm-publisher/infrastructure/logger"
)

// GraphError is the error object returned by the Facebook Graph API, which
// Instagram shares.
type GraphError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	Subcode   int    `json:"error_subcode"`
	FBTraceID string `json:"fbtrace_id"`
}

// GraphErrorKind maps a Graph API error code.
func GraphErrorKind(code int) model.ErrorKind {
	switch {
	case code == 190 || code == 102 || code == 10 || (code >= 200 && code < 300):
		return model.ErrorKindAuth
	case code == 4 || code == 17 || code == 32 || code == 613:
		return model.ErrorKindRateLimited
	case code == 1 || code == 2:
		return model.ErrorKindTransientNetwork
	case code == 100 || code == 324 || code == 9004 || (code >= 36000 && code <= 36003):
		return model.ErrorKindContentRejected
	}
	return model.ErrorKindUnknown
}

// GraphPost posts params as a form and decodes a successful body into out.
func GraphPost(ctx context.Context, client *http.Client, platform model.Platform, endpoint string, params interface{}, out interface{}) error {
	resp, err := PostForm(ctx, client, platform, endpoint, params)
	if err != nil {
		return err
	}
	return decodeGraph(platform, endpoint, resp, out)
}

// GraphGet queries endpoint with params and decodes a successful body into out.
func GraphGet(ctx context.Context, client *http.Client, platform model.Platform, endpoint string, params interface{}, out interface{}) error {
	resp, err := Get(ctx, client, platform, endpoint, params)
	if err != nil {
		return err
	}
	return decodeGraph(platform, endpoint, resp, out)
}

func decodeGraph(platform model.Platform, endpoint string, resp *Response, out interface{}) error {
	var envelope struct {
		Error *GraphError `json:"error"`
	}
	_ = json.Unmarshal(resp.Body, &envelope)
	if envelope.Error != nil {
		ge := envelope.Error
		logger.GetLogger().WithField("platform", platform).WithField("code", ge.Code).WithField("subcode", ge.Subcode).
			WithField("fbtrace_id", ge.FBTraceID).WithField("message", ge.Message).Warn("Graph API call failed")
		kind := GraphErrorKind(ge.Code)
		if kind == model.ErrorKindUnknown && resp.StatusCode >= 400 {
			kind = StatusKind(resp.StatusCode)
		}
		return model.NewPublishError(platform, kind, fmt.Sprintf("graph error %d: %s", ge.Code, ge.Message), nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return StatusError(platform, resp.StatusCode, Truncate(resp.Body, 200))
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return model.NewPublishError(platform, model.ErrorKindUnknown, "malformed graph response", err)
	}
	return nil
}
