package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func publishedState(p Platform, url string, attempts int) PlatformPublicationState {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return PlatformPublicationState{Platform: p, Status: StatusPublished, PostID: "42", PostURL: url, PublishedAt: &at, AttemptCount: attempts}
}

func TestParsePlatform(t *testing.T) {
	p, ok := ParsePlatform(" VK ")
	require.True(t, ok)
	require.Equal(t, PlatformVK, p)

	p, ok = ParsePlatform("myspace")
	require.False(t, ok)
	require.Equal(t, Platform("myspace"), p)
}

func TestFlexibleID(t *testing.T) {
	var st PlatformPublicationState
	require.NoError(t, json.Unmarshal([]byte(`{"status":"published","messageId":1234567890123,"postId":"abc"}`), &st))
	assert.Equal(t, FlexibleID("1234567890123"), st.MessageID)
	assert.Equal(t, FlexibleID("abc"), st.PostID)

	require.NoError(t, json.Unmarshal([]byte(`{"postId":null}`), &st))
	assert.Equal(t, FlexibleID(""), st.PostID)

	require.Error(t, json.Unmarshal([]byte(`{"postId":{"x":1}}`), &st))
}

func TestPlatformPublicationState_Validate(t *testing.T) {
	tests := []struct {
		name  string
		state PlatformPublicationState
		ok    bool
	}{
		{"published", publishedState(PlatformVK, "https://vk.com/wall-1_42", 1), true},
		{"published without url", PlatformPublicationState{Status: StatusPublished, PostID: "1"}, false},
		{"published without id", PlatformPublicationState{Status: StatusPublished, PostURL: "https://x"}, false},
		{"failed with url", PlatformPublicationState{Status: StatusFailed, PostURL: "https://x"}, false},
		{"negative attempts", PlatformPublicationState{Status: StatusFailed, AttemptCount: -1}, false},
		{"pending", PlatformPublicationState{Status: StatusPending}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.state.Validate()
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidState)
		})
	}
}

func TestMergePlatformState(t *testing.T) {
	published := publishedState(PlatformTelegram, "https://t.me/chan/42", 2)

	t.Run("published is sticky", func(t *testing.T) {
		got, changed, err := MergePlatformState(&published, PlatformPublicationState{Status: StatusFailed, LastError: "boom", AttemptCount: 1}, false)
		require.NoError(t, err)
		require.False(t, changed)
		require.Equal(t, published, got)
	})

	t.Run("force overrides published", func(t *testing.T) {
		got, changed, err := MergePlatformState(&published, PlatformPublicationState{Status: StatusPublishing, AttemptCount: 3}, true)
		require.NoError(t, err)
		require.True(t, changed)
		require.Equal(t, StatusPublishing, got.Status)
		require.Empty(t, got.PostURL)
	})

	t.Run("attempt count never decreases", func(t *testing.T) {
		failed := PlatformPublicationState{Status: StatusFailed, AttemptCount: 3}
		got, _, err := MergePlatformState(&failed, PlatformPublicationState{Status: StatusPending}, false)
		require.NoError(t, err)
		require.Equal(t, 3, got.AttemptCount)
	})

	t.Run("non published state drops url", func(t *testing.T) {
		got, changed, err := MergePlatformState(nil, PlatformPublicationState{Status: StatusFailed, PostURL: "https://stale"}, false)
		require.NoError(t, err)
		require.True(t, changed)
		require.Empty(t, got.PostURL)
	})

	t.Run("invalid next state", func(t *testing.T) {
		_, _, err := MergePlatformState(nil, PlatformPublicationState{Status: StatusPublished}, false)
		require.ErrorIs(t, err, ErrInvalidState)
	})
}

func TestParsePlatformStates(t *testing.T) {
	t.Run("object", func(t *testing.T) {
		s, err := ParsePlatformStates([]byte(`{"vk": {"status": "failed", "attemptCount": 3}, "telegram": true}`))
		require.NoError(t, err)
		require.Equal(t, 2, s.Len())
		require.Equal(t, []string{"telegram", "vk"}, s.Keys())

		st, ok := s.Get(PlatformVK)
		require.True(t, ok)
		require.Equal(t, PlatformVK, st.Platform)
		require.Equal(t, 3, st.AttemptCount)

		_, ok = s.Get(PlatformTelegram)
		require.False(t, ok, "legacy flags are not states")
		require.Len(t, s.All(), 1)
	})

	t.Run("string encoded", func(t *testing.T) {
		s, err := ParsePlatformStates([]byte(`"{\"vk\":{\"status\":\"pending\"}}"`))
		require.NoError(t, err)
		st, ok := s.Get(PlatformVK)
		require.True(t, ok)
		require.True(t, st.IsPending())
	})

	t.Run("empty and null", func(t *testing.T) {
		for _, raw := range []string{``, `null`, `""`} {
			s, err := ParsePlatformStates([]byte(raw))
			require.NoError(t, err, raw)
			require.Zero(t, s.Len())
		}
	})

	t.Run("malformed", func(t *testing.T) {
		s, err := ParsePlatformStates([]byte(`[1,2]`))
		require.True(t, errors.Is(err, ErrMalformedState))
		require.Zero(t, s.Len())
	})
}

func TestPlatformStates_SetKeepsSiblingsAndExtraFields(t *testing.T) {
	raw := `{"facebook":{"status":"published","postUrl":"https://fb.com/1_2","postId":"1_2","pageName":"Shop & Co"},"vk":{"status":"failed","attemptCount":1,"note":"manual"}}`
	s, err := ParsePlatformStates([]byte(raw))
	require.NoError(t, err)
	fbBefore, _ := s.Raw("facebook")

	require.NoError(t, s.Set(PlatformVK, PlatformPublicationState{Status: StatusPending, AttemptCount: 1}))

	fbAfter, _ := s.Raw("facebook")
	require.Equal(t, string(fbBefore), string(fbAfter))
	vk, _ := s.Raw("vk")
	require.JSONEq(t, `{"platform":"vk","status":"pending","attemptCount":1,"note":"manual"}`, string(vk))
	require.Contains(t, string(s.Bytes()), "Shop & Co", "no HTML escaping")
}

func TestPlatformStates_NilReceiver(t *testing.T) {
	var s *PlatformStates
	require.Zero(t, s.Len())
	require.Empty(t, s.All())
	require.Nil(t, s.Keys())
	require.Equal(t, "{}", string(s.Bytes()))
	_, ok := s.Get(PlatformVK)
	require.False(t, ok)
}

func TestPlatformPublicationState_IsStale(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-time.Minute)
	old := now.Add(-10 * time.Minute)

	assert.True(t, PlatformPublicationState{Status: StatusPublishing}.IsStale(now, 5*time.Minute))
	assert.True(t, PlatformPublicationState{Status: StatusPublishing, UpdatedAt: &old}.IsStale(now, 5*time.Minute))
	assert.False(t, PlatformPublicationState{Status: StatusPublishing, UpdatedAt: &recent}.IsStale(now, 5*time.Minute))
	assert.False(t, PlatformPublicationState{Status: StatusFailed, UpdatedAt: &old}.IsStale(now, 5*time.Minute))
}

func TestPlatformStates_Selected(t *testing.T) {
	states, err := ParsePlatformStates([]byte(`{"vk":true,"telegram":false,"facebook":{"status":"pending"}}`))
	require.NoError(t, err)
	assert.True(t, states.Selected(PlatformVK))
	assert.False(t, states.Selected(PlatformTelegram))
	assert.False(t, states.Selected(PlatformFacebook))
	assert.False(t, states.Selected(PlatformInstagram))

	var none *PlatformStates
	assert.False(t, none.Selected(PlatformVK))
}

func TestContentItem_Images(t *testing.T) {
	c := ContentItem{PrimaryImageURL: "a.jpg", AdditionalImages: []string{"", "b.jpg", "a.jpg"}}
	require.Equal(t, []string{"a.jpg", "b.jpg"}, c.Images())
}
