package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

type Platform string

const (
	PlatformTelegram  Platform = "telegram"
	PlatformVK        Platform = "vk"
	PlatformInstagram Platform = "instagram"
	PlatformFacebook  Platform = "facebook"
)

// KnownPlatforms lists every platform an adapter exists for, in display order.
var KnownPlatforms = []Platform{PlatformTelegram, PlatformVK, PlatformInstagram, PlatformFacebook}

func ParsePlatform(s string) (Platform, bool) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	for _, k := range KnownPlatforms {
		if k == p {
			return p, true
		}
	}
	return p, false
}

type PublicationStatus string

const (
	StatusPending    PublicationStatus = "pending"
	StatusPublishing PublicationStatus = "publishing"
	StatusPublished  PublicationStatus = "published"
	StatusFailed     PublicationStatus = "failed"
	// StatusScheduled is written by the authoring flow; treated like pending.
	StatusScheduled PublicationStatus = "scheduled"
)

// FlexibleID accepts both JSON numbers and strings (Telegram message ids
// were historically stored as numbers).
type FlexibleID string

func (f *FlexibleID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*f = FlexibleID(n.String())
	return nil
}

// PlatformPublicationState is the latest known state of one platform for one content item.
type PlatformPublicationState struct {
	Platform     Platform          `json:"platform"`
	Status       PublicationStatus `json:"status"`
	PostID       FlexibleID        `json:"postId,omitempty"`
	MessageID    FlexibleID        `json:"messageId,omitempty"`
	PostURL      string            `json:"postUrl,omitempty"`
	PublishedAt  *time.Time        `json:"publishedAt,omitempty"`
	LastError    string            `json:"error,omitempty"`
	AttemptCount int               `json:"attemptCount"`
	UpdatedAt    *time.Time        `json:"updatedAt,omitempty"`
}

// IsPublished reports an authoritative published state: status published with a URL.
func (s PlatformPublicationState) IsPublished() bool {
	return s.Status == StatusPublished && s.PostURL != ""
}

func (s PlatformPublicationState) IsPending() bool {
	return s.Status == StatusPending || s.Status == StatusScheduled
}

// IsStale reports a publishing state that has not been touched for longer
// than after, which happens when its publisher died mid-attempt. A
// publishing state without updatedAt is stale.
func (s PlatformPublicationState) IsStale(now time.Time, after time.Duration) bool {
	if s.Status != StatusPublishing {
		return false
	}
	return s.UpdatedAt == nil || now.Sub(*s.UpdatedAt) >= after
}

// Validate enforces: postUrl present iff published, and published carries a remote id.
func (s PlatformPublicationState) Validate() error {
	if s.AttemptCount < 0 {
		return fmt.Errorf("%w: negative attempt count", ErrInvalidState)
	}
	if s.Status == StatusPublished {
		if s.PostURL == "" {
			return fmt.Errorf("%w: published %s state without postUrl", ErrInvalidState, s.Platform)
		}
		if s.PostID == "" && s.MessageID == "" {
			return fmt.Errorf("%w: published %s state without remote id", ErrInvalidState, s.Platform)
		}
		return nil
	}
	if s.PostURL != "" {
		return fmt.Errorf("%w: %s state %q carries a postUrl", ErrInvalidState, s.Platform, s.Status)
	}
	return nil
}

// MergePlatformState is the single merge rule used by every writer of the
// social_platforms blob. It returns the state to store and whether the
// stored value changes.
func MergePlatformState(existing *PlatformPublicationState, next PlatformPublicationState, force bool) (PlatformPublicationState, bool, error) {
	if next.Status != StatusPublished {
		next.PostURL = ""
		next.PublishedAt = nil
	}
	if err := next.Validate(); err != nil {
		return next, false, err
	}
	if existing == nil {
		return next, true, nil
	}
	if existing.IsPublished() && !next.IsPublished() && !force {
		return *existing, false, nil
	}
	if next.AttemptCount < existing.AttemptCount {
		next.AttemptCount = existing.AttemptCount
	}
	return next, true, nil
}

// PlatformStates is the social_platforms blob. Entries are kept as the raw
// JSON they were read as, so writing one platform never rewrites another.
type PlatformStates struct {
	entries map[string]json.RawMessage
}

func NewPlatformStates() *PlatformStates {
	return &PlatformStates{entries: map[string]json.RawMessage{}}
}

// ParsePlatformStates accepts the blob as a JSON object or as a JSON string
// holding an object. Anything else yields an empty map and ErrMalformedState.
func ParsePlatformStates(raw []byte) (*PlatformStates, error) {
	states := NewPlatformStates()
	raw = bytes.TrimSpace(raw)
	// string-encoded blobs have been seen double encoded
	for i := 0; i < 3 && len(raw) > 0 && raw[0] == '"'; i++ {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return states, fmt.Errorf("%w: %v", ErrMalformedState, err)
		}
		raw = bytes.TrimSpace([]byte(s))
	}
	if len(raw) == 0 || string(raw) == "null" {
		return states, nil
	}
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return states, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	for k, v := range entries {
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			return NewPlatformStates(), fmt.Errorf("%w: entry %q: %v", ErrMalformedState, k, err)
		}
		states.entries[k] = buf.Bytes()
	}
	return states, nil
}

func (s *PlatformStates) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Raw returns the stored bytes of one entry.
func (s *PlatformStates) Raw(key string) (json.RawMessage, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.entries[key]
	return v, ok
}

func (s *PlatformStates) Keys() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get decodes one platform entry. Entries that are not objects (legacy
// selection flags such as `"vk": true`) are reported as absent.
func (s *PlatformStates) Get(p Platform) (PlatformPublicationState, bool) {
	if s == nil {
		return PlatformPublicationState{}, false
	}
	raw, ok := s.entries[string(p)]
	if !ok || len(raw) == 0 || raw[0] != '{' {
		return PlatformPublicationState{}, false
	}
	var st PlatformPublicationState
	if err := json.Unmarshal(raw, &st); err != nil {
		return PlatformPublicationState{}, false
	}
	if st.Platform == "" {
		st.Platform = p
	}
	return st, true
}

// Selected reports a legacy selection flag (`"vk": true`) for p.
func (s *PlatformStates) Selected(p Platform) bool {
	raw, ok := s.Raw(string(p))
	return ok && string(raw) == "true"
}

// All decodes every recognizable platform entry.
func (s *PlatformStates) All() map[Platform]PlatformPublicationState {
	if s == nil {
		return map[Platform]PlatformPublicationState{}
	}
	out := make(map[Platform]PlatformPublicationState, len(s.entries))
	for k := range s.entries {
		if st, ok := s.Get(Platform(k)); ok {
			out[Platform(k)] = st
		}
	}
	return out
}

var stateFields = []string{"platform", "status", "postId", "messageId", "postUrl", "publishedAt", "error", "attemptCount", "updatedAt"}

// Set replaces the known fields of one platform entry, keeping any extra
// fields that entry already had.
func (s *PlatformStates) Set(p Platform, st PlatformPublicationState) error {
	if s.entries == nil {
		s.entries = map[string]json.RawMessage{}
	}
	st.Platform = p
	fresh, err := marshalNoEscape(st)
	if err != nil {
		return err
	}
	var freshFields map[string]json.RawMessage
	if err := json.Unmarshal(fresh, &freshFields); err != nil {
		return err
	}
	base := map[string]json.RawMessage{}
	if raw, ok := s.entries[string(p)]; ok && len(raw) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, &base); err != nil {
			base = map[string]json.RawMessage{}
		}
	}
	for _, f := range stateFields {
		delete(base, f)
	}
	for k, v := range freshFields {
		base[k] = v
	}
	s.entries[string(p)] = encodeObject(base)
	return nil
}

// Bytes encodes the blob with sorted keys and without HTML escaping.
func (s *PlatformStates) Bytes() []byte {
	if s == nil {
		return []byte("{}")
	}
	return encodeObject(s.entries)
}

func (s *PlatformStates) MarshalJSON() ([]byte, error) {
	return s.Bytes(), nil
}

func (s *PlatformStates) UnmarshalJSON(b []byte) error {
	parsed, err := ParsePlatformStates(b)
	s.entries = parsed.entries
	return err
}

func encodeObject(m map[string]json.RawMessage) []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := marshalNoEscape(k)
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(m[k])
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

func marshalNoEscape(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
