package directus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"smm-publisher/domain/model"
	"smm-publisher/domain/repository"
	"smm-publisher/infrastructure/logger"

	"golang.org/x/oauth2"
)

const DefaultCollection = "campaign_content"

type Config struct {
	URL         string
	StaticToken string
	Email       string
	Password    string
	Collection  string
	Timeout     time.Duration
}

// Client is the campaign_content repository backed by the Directus REST API.
type Client struct {
	baseURL    string
	collection string
	tokens     *TokenCache
	http       *http.Client
}

var _ repository.IContent = (*Client)(nil)

func NewClient(cfg Config, base http.RoundTripper) *Client {
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if base == nil {
		base = http.DefaultTransport
	}
	baseURL := strings.TrimRight(cfg.URL, "/")
	tokens := NewTokenCache(baseURL, cfg.StaticToken, cfg.Email, cfg.Password, &http.Client{Timeout: cfg.Timeout, Transport: base})
	return &Client{
		baseURL:    baseURL,
		collection: cfg.Collection,
		tokens:     tokens,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &oauth2.Transport{Source: tokens, Base: base},
		},
	}
}

type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("directus %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// do sends one request and retries it once with a fresh login token on 401.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	var payload []byte
	if raw, ok := body.(json.RawMessage); ok {
		payload = raw
	} else if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = b
	}
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("directus %s %s: %w", method, path, err)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("directus %s %s: read body: %w", method, path, err)
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 && c.tokens.Refreshable() {
			logger.GetLogger().WithField("path", path).Warn("Directus rejected token, logging in again")
			c.tokens.Invalidate()
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			msg := string(data)
			if len(msg) > 300 {
				msg = msg[:300]
			}
			se := &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: msg}
			if resp.StatusCode == http.StatusUnauthorized {
				return model.NewPublishError("", model.ErrorKindAuth, "", se)
			}
			return se
		}
		if out == nil || len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("directus %s %s: decode: %w", method, path, err)
		}
		return nil
	}
}

func (c *Client) itemPath(id string) string {
	return "/items/" + c.collection + "/" + url.PathEscape(id)
}

// contentRecord is the wire shape of a campaign_content item. Several fields
// have been stored both as JSON values and as JSON-encoded strings.
type contentRecord struct {
	ID                    model.FlexibleID `json:"id"`
	CampaignID            model.FlexibleID `json:"campaign_id"`
	Title                 *string          `json:"title"`
	Content               *string          `json:"content"`
	ContentType           *string          `json:"content_type"`
	ImageURL              *string          `json:"image_url"`
	AdditionalImages      json.RawMessage  `json:"additional_images"`
	VideoURL              *string          `json:"video_url"`
	Hashtags              json.RawMessage  `json:"hashtags"`
	Status                *string          `json:"status"`
	ScheduledAt           *string          `json:"scheduled_at"`
	CreatedAt             *string          `json:"created_at"`
	DateCreated           *string          `json:"date_created"`
	SocialPlatforms       json.RawMessage  `json:"social_platforms"`
	SocialPlatformsLegacy json.RawMessage  `json:"socialPlatforms"`
}

func (r *contentRecord) toModel() *model.ContentItem {
	item := &model.ContentItem{
		ID:               string(r.ID),
		CampaignID:       string(r.CampaignID),
		Title:            deref(r.Title),
		Body:             deref(r.Content),
		ContentType:      model.ContentType(deref(r.ContentType)),
		PrimaryImageURL:  strings.TrimSpace(deref(r.ImageURL)),
		AdditionalImages: decodeStringList(r.AdditionalImages, false),
		VideoURL:         strings.TrimSpace(deref(r.VideoURL)),
		Hashtags:         decodeStringList(r.Hashtags, true),
		Status:           deref(r.Status),
		ScheduledAt:      parseTime(deref(r.ScheduledAt)),
	}
	if t := parseTime(deref(r.CreatedAt)); t != nil {
		item.CreatedAt = *t
	} else if t := parseTime(deref(r.DateCreated)); t != nil {
		item.CreatedAt = *t
	}

	blob := r.SocialPlatforms
	if len(blob) == 0 || string(blob) == "null" {
		blob = r.SocialPlatformsLegacy
	}
	states, err := model.ParsePlatformStates(blob)
	if err != nil {
		logger.GetLogger().WithField("content_id", item.ID).WithField("error", err).Error("social_platforms is malformed, treating it as empty")
	}
	item.SocialPlatforms = states
	return item
}

func (c *Client) GetContent(ctx context.Context, contentID string) (*model.ContentItem, error) {
	var resp struct {
		Data *contentRecord `json:"data"`
	}
	err := c.do(ctx, http.MethodGet, c.itemPath(contentID), nil, nil, &resp)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && (se.StatusCode == http.StatusNotFound || se.StatusCode == http.StatusForbidden) {
			// Directus answers 403 for ids that do not exist as well.
			return nil, fmt.Errorf("%w: %s", model.ErrContentNotFound, contentID)
		}
		return nil, err
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("%w: %s", model.ErrContentNotFound, contentID)
	}
	return resp.Data.toModel(), nil
}

func (c *Client) UpdateSocialPlatforms(ctx context.Context, contentID string, states *model.PlatformStates) error {
	if states == nil {
		states = model.NewPlatformStates()
	}
	// sibling entries are sent byte-for-byte as they were read
	body := append(append([]byte(`{"social_platforms":`), states.Bytes()...), '}')
	return c.do(ctx, http.MethodPatch, c.itemPath(contentID), nil, json.RawMessage(body), nil)
}

func (c *Client) UpdateStatus(ctx context.Context, contentID string, status string) error {
	return c.do(ctx, http.MethodPatch, c.itemPath(contentID), nil, map[string]string{"status": status}, nil)
}

func (c *Client) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*model.ContentItem, error) {
	if limit <= 0 {
		limit = 20
	}
	q := url.Values{}
	q.Set("filter[status][_eq]", "scheduled")
	q.Set("filter[scheduled_at][_lte]", now.UTC().Format(time.RFC3339))
	q.Set("sort", "scheduled_at")
	q.Set("limit", strconv.Itoa(limit))

	var resp struct {
		Data []*contentRecord `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/items/"+c.collection, q, nil, &resp); err != nil {
		return nil, err
	}
	items := make([]*model.ContentItem, 0, len(resp.Data))
	for _, r := range resp.Data {
		if r == nil {
			continue
		}
		items = append(items, r.toModel())
	}
	return items, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// decodeStringList accepts a JSON array of strings, a JSON string holding
// such an array, or a plain string. Plain strings are split on commas and
// whitespace when split is set, otherwise taken as a single value.
func decodeStringList(raw json.RawMessage, split bool) []string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		s = strings.TrimSpace(s)
		if strings.HasPrefix(s, "[") {
			return decodeStringList(json.RawMessage(s), split)
		}
		if s == "" {
			return nil
		}
		if !split {
			return []string{s}
		}
		return strings.FieldsFunc(s, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\n' || r == '\t'
		})
	}
	var items []interface{}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		switch v := it.(type) {
		case string:
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		case map[string]interface{}:
			// [{"url": "..."}] has been seen for images
			if u, ok := v["url"].(string); ok && u != "" {
				out = append(out, u)
			}
		}
	}
	return out
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"}

func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
