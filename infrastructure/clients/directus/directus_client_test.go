package directus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"smm-publisher/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetContentToleratesEncodings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/items/campaign_content/c1", r.URL.Path)
		assert.Equal(t, "Bearer static", r.Header.Get("Authorization"))
		w.Write([]byte(`{"data":{
			"id":"c1","campaign_id":7,"title":"T","content":"<p>Hi</p>","content_type":"text_with_image",
			"image_url":"https://img/1.jpg",
			"additional_images":"[\"https://img/2.jpg\",\"https://img/1.jpg\"]",
			"hashtags":"#a, #b",
			"scheduled_at":"2024-05-01T10:00:00",
			"date_created":"2024-04-30T09:00:00Z",
			"social_platforms":"{\"vk\":{\"status\":\"published\",\"postUrl\":\"https://vk.com/wall-1_2\",\"postId\":2}}"
		}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL, StaticToken: "static"}, nil)
	item, err := c.GetContent(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, "c1", item.ID)
	require.Equal(t, "7", item.CampaignID)
	require.Equal(t, "<p>Hi</p>", item.Body)
	require.Equal(t, []string{"https://img/1.jpg", "https://img/2.jpg"}, item.Images())
	require.Equal(t, []string{"#a", "#b"}, item.Hashtags)
	require.NotNil(t, item.ScheduledAt)
	require.Equal(t, 2024, item.CreatedAt.Year())

	vk, ok := item.SocialPlatforms.Get(model.PlatformVK)
	require.True(t, ok)
	require.Equal(t, model.StatusPublished, vk.Status)
	require.Equal(t, model.FlexibleID("2"), vk.PostID)
}

func TestGetContentMalformedPlatformsIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"id":"c1","additional_images":[{"url":"https://img/x"}],"social_platforms":"{broken"}}`))
	}))
	defer srv.Close()

	item, err := NewClient(Config{URL: srv.URL, StaticToken: "s"}, nil).GetContent(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, 0, item.SocialPlatforms.Len())
	require.Equal(t, []string{"https://img/x"}, item.AdditionalImages)
}

func TestGetContentNotFound(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusForbidden} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			w.Write([]byte(`{"errors":[{"message":"nope"}]}`))
		}))
		_, err := NewClient(Config{URL: srv.URL, StaticToken: "s"}, nil).GetContent(context.Background(), "missing")
		srv.Close()
		require.True(t, errors.Is(err, model.ErrContentNotFound), "status %d", status)
	}
}

func TestUpdateSocialPlatformsKeepsSiblingBytes(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		body, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	states, err := model.ParsePlatformStates([]byte(`{"telegram":{"status":"failed","error":"<b>x</b> & y","custom":1}}`))
	require.NoError(t, err)
	require.NoError(t, NewClient(Config{URL: srv.URL, StaticToken: "s"}, nil).UpdateSocialPlatforms(context.Background(), "c1", states))

	require.Equal(t, `{"social_platforms":{"telegram":{"status":"failed","error":"<b>x</b> & y","custom":1}}}`, string(body))
	require.True(t, json.Valid(body))
}

func TestListDueScheduled(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/items/campaign_content", r.URL.Path)
		assert.Equal(t, "scheduled", q.Get("filter[status][_eq]"))
		assert.Equal(t, "2024-05-01T12:00:00Z", q.Get("filter[scheduled_at][_lte]"))
		assert.Equal(t, "5", q.Get("limit"))
		w.Write([]byte(`{"data":[{"id":"a","status":"scheduled"},{"id":"b","status":"scheduled"}]}`))
	}))
	defer srv.Close()

	items, err := NewClient(Config{URL: srv.URL, StaticToken: "s"}, nil).ListDueScheduled(context.Background(), now, 5)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "b", items[1].ID)
}

func TestLoginTokenIsCachedAndRefreshedOn401(t *testing.T) {
	var logins, calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/login" {
			n := atomic.AddInt32(&logins, 1)
			var req loginRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "admin@example.com", req.Email)
			w.Write([]byte(`{"data":{"access_token":"tok` + string(rune('0'+n)) + `","expires":900000}}`))
			return
		}
		n := atomic.AddInt32(&calls, 1)
		if n == 2 {
			assert.Equal(t, "Bearer tok1", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"data":{"id":"c1"}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL, Email: "admin@example.com", Password: "pw"}, nil)
	_, err := c.GetContent(context.Background(), "c1")
	require.NoError(t, err)
	_, err = c.GetContent(context.Background(), "c1")
	require.NoError(t, err)

	require.EqualValues(t, 2, atomic.LoadInt32(&logins))
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestRejectedLoginIsAnAuthError(t *testing.T) {
	var logins, calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/login" {
			atomic.AddInt32(&logins, 1)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"errors":[{"message":"Invalid user credentials."}]}`))
			return
		}
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"data":{"id":"c1"}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL, Email: "admin@example.com", Password: "wrong"}, nil)
	_, err := c.GetContent(context.Background(), "c1")
	require.Error(t, err)
	require.Equal(t, model.ErrorKindAuth, model.KindOf(err))
	require.False(t, model.KindOf(err).Retryable())
	require.NotErrorIs(t, err, model.ErrContentNotFound)
	require.EqualValues(t, 1, atomic.LoadInt32(&logins))
	require.Zero(t, atomic.LoadInt32(&calls))
}

func TestLoginServerErrorStaysTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewTokenCache(srv.URL, "", "a", "b", srv.Client()).Token()
	require.Error(t, err)
	require.NotEqual(t, model.ErrorKindAuth, model.KindOf(err))
}

func TestRejectedStaticTokenIsAnAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(Config{URL: srv.URL, StaticToken: "revoked"}, nil).GetContent(context.Background(), "c1")
	require.Error(t, err)
	require.Equal(t, model.ErrorKindAuth, model.KindOf(err))
	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusUnauthorized, se.StatusCode)
}

func TestTokenCacheHonoursExpiry(t *testing.T) {
	var logins int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&logins, 1)
		w.Write([]byte(`{"data":{"access_token":"t","expires":60000}}`))
	}))
	defer srv.Close()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewTokenCache(srv.URL, "", "a", "b", srv.Client())
	cache.now = func() time.Time { return now }

	tok, err := cache.Token()
	require.NoError(t, err)
	require.Equal(t, now.Add(time.Minute), tok.Expiry)

	now = now.Add(20 * time.Second)
	_, err = cache.Token()
	require.NoError(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&logins))

	// inside the skew window
	now = now.Add(15 * time.Second)
	_, err = cache.Token()
	require.NoError(t, err)
	require.EqualValues(t, 2, atomic.LoadInt32(&logins))
}

func TestTokenCacheWithoutCredentials(t *testing.T) {
	_, err := NewTokenCache("http://127.0.0.1:1", "", "", "", nil).Token()
	require.ErrorIs(t, err, ErrNoCredentials)
	require.Equal(t, model.ErrorKindAuth, model.KindOf(err))
}
