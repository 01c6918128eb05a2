package dto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"smm-publisher/domain/model"
)

// PublishRequestDto is the body of POST /api/publish/:contentId.
type PublishRequestDto struct {
	Platforms PlatformSelection `json:"platforms"`
	Force     bool              `json:"force"`
	// Immediate defaults to true; false only records the platforms as pending.
	Immediate *bool `json:"immediate"`
	// UserID is used as requester when the token carries no user.
	UserID string `json:"userId"`
}

// PlatformSelection accepts either ["telegram","vk"] or {"telegram":true,"vk":false}.
// Object keys come out in the order of model.KnownPlatforms, unknown names last.
type PlatformSelection []string

func (p *PlatformSelection) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*p = nil
		return nil
	}
	if b[0] == '[' {
		var list []string
		if err := json.Unmarshal(b, &list); err != nil {
			return err
		}
		*p = list
		return nil
	}
	var flags map[string]bool
	if err := json.Unmarshal(b, &flags); err != nil {
		return fmt.Errorf("platforms must be a list or an object of booleans: %w", err)
	}
	out := make([]string, 0, len(flags))
	for _, known := range model.KnownPlatforms {
		if flags[string(known)] {
			out = append(out, string(known))
			delete(flags, string(known))
		}
	}
	var rest []string
	for name, on := range flags {
		if on {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	*p = append(out, rest...)
	return nil
}

type PlatformStatusDto struct {
	Platform     model.Platform          `json:"platform"`
	Status       model.PublicationStatus `json:"status"`
	PostURL      string                  `json:"postUrl,omitempty"`
	PublishedAt  *time.Time              `json:"publishedAt,omitempty"`
	Error        string                  `json:"error,omitempty"`
	AttemptCount int                     `json:"attemptCount"`
}

type PublicationStatusDto struct {
	ContentID string              `json:"contentId"`
	Platforms []PlatformStatusDto `json:"platforms"`
}

func ToPlatformStatusDto(st model.PlatformPublicationState) PlatformStatusDto {
	return PlatformStatusDto{
		Platform:     st.Platform,
		Status:       st.Status,
		PostURL:      st.PostURL,
		PublishedAt:  st.PublishedAt,
		Error:        st.LastError,
		AttemptCount: st.AttemptCount,
	}
}
