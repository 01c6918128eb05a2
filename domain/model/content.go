package model

import (
	"time"
)

type ContentType string

const (
	ContentTypeText          ContentType = "text"
	ContentTypeTextWithImage ContentType = "text_with_image"
	ContentTypeVideo         ContentType = "video"
	ContentTypeStories       ContentType = "stories"
)

// campaign_content.status values the scheduler reads and writes.
const (
	ContentStatusScheduled          = "scheduled"
	ContentStatusPublished          = "published"
	ContentStatusPartiallyPublished = "partially_published"
	ContentStatusFailed             = "failed"
)

// ContentItem is a campaign_content record. The publish core only ever
// writes SocialPlatforms (and Status once a scheduled item is done).
type ContentItem struct {
	ID               string          `json:"id"`
	CampaignID       string          `json:"campaign_id"`
	Title            string          `json:"title"`
	Body             string          `json:"content"`
	ContentType      ContentType     `json:"content_type"`
	PrimaryImageURL  string          `json:"image_url,omitempty"`
	AdditionalImages []string        `json:"additional_images,omitempty"`
	VideoURL         string          `json:"video_url,omitempty"`
	Hashtags         []string        `json:"hashtags,omitempty"`
	Status           string          `json:"status,omitempty"`
	ScheduledAt      *time.Time      `json:"scheduled_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	SocialPlatforms  *PlatformStates `json:"social_platforms"`
}

// Images returns the primary image followed by the additional ones, without blanks or duplicates.
func (c *ContentItem) Images() []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, 1+len(c.AdditionalImages))
	for _, u := range append([]string{c.PrimaryImageURL}, c.AdditionalImages...) {
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// NormalizedContent is what a platform adapter receives: text already in the
// platform's dialect, media resolved.
type NormalizedContent struct {
	ContentID   string
	Platform    Platform
	ContentType ContentType
	Text        string
	ImageURLs   []string
	VideoURL    string
}

// PlatformCredentials carries whatever one platform needs to authenticate a publish.
type PlatformCredentials struct {
	Token     string
	ChatID    string
	GroupID   string
	AccountID string
	PageID    string
}

// AdapterResult is the canonical outcome of a successful adapter call.
type AdapterResult struct {
	RemotePostID    string
	RemoteMessageID string
	PostURL         string
}
