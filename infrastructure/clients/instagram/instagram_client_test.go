package instagram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"smm-publisher/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var creds = model.PlatformCredentials{Token: "ig-token", AccountID: "1789"}

type graphStub struct {
	mu       sync.Mutex
	requests []*http.Request
	forms    []map[string]string
	respond  func(r *http.Request, n int) (int, string)
}

func (g *graphStub) server() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		form := map[string]string{}
		for k := range r.Form {
			form[k] = r.Form.Get(k)
		}
		g.mu.Lock()
		g.requests = append(g.requests, r)
		g.forms = append(g.forms, form)
		n := len(g.requests)
		g.mu.Unlock()
		status, body := g.respond(r, n)
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
}

func newTestClient(url string, hc *http.Client) (*Client, *[]time.Duration) {
	c := NewClient(url, hc, 2*time.Second)
	var slept []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return c, &slept
}

func TestPublishSingleImage(t *testing.T) {
	stub := &graphStub{respond: func(r *http.Request, n int) (int, string) {
		switch r.URL.Path {
		case "/1789/media":
			return 200, `{"id":"c1"}`
		case "/1789/media_publish":
			return 200, `{"id":"m1"}`
		case "/m1":
			return 200, `{"permalink":"https://www.instagram.com/p/ABC/","id":"m1"}`
		}
		return 404, `{}`
	}}
	srv := stub.server()
	defer srv.Close()

	c, slept := newTestClient(srv.URL, srv.Client())
	res, err := c.Publish(context.Background(), model.NormalizedContent{Text: "caption", ImageURLs: []string{"https://img/1.jpg"}}, creds)
	require.NoError(t, err)
	require.Equal(t, "m1", res.RemotePostID)
	require.Equal(t, "https://www.instagram.com/p/ABC/", res.PostURL)
	require.Empty(t, *slept)

	require.Len(t, stub.forms, 3)
	assert.Equal(t, "https://img/1.jpg", stub.forms[0]["image_url"])
	assert.Equal(t, "caption", stub.forms[0]["caption"])
	_, carousel := stub.forms[0]["is_carousel_item"]
	assert.False(t, carousel)
	assert.Equal(t, "c1", stub.forms[1]["creation_id"])
	assert.Equal(t, "permalink", stub.forms[2]["fields"])
}

func TestPublishCarousel(t *testing.T) {
	stub := &graphStub{respond: func(r *http.Request, n int) (int, string) {
		switch {
		case r.URL.Path == "/1789/media" && r.Form.Get("media_type") == "CAROUSEL":
			return 200, `{"id":"parent"}`
		case r.URL.Path == "/1789/media":
			return 200, `{"id":"child` + r.Form.Get("image_url")[len(r.Form.Get("image_url"))-1:] + `"}`
		case r.URL.Path == "/1789/media_publish":
			return 200, `{"id":"m2"}`
		}
		return 500, `{"error":{"message":"boom","code":1}}`
	}}
	srv := stub.server()
	defer srv.Close()

	c, slept := newTestClient(srv.URL, srv.Client())
	res, err := c.Publish(context.Background(),
		model.NormalizedContent{Text: "multi", ImageURLs: []string{"https://img/1", "https://img/2"}}, creds)
	require.NoError(t, err)
	require.Equal(t, "https://www.instagram.com/p/m2/", res.PostURL, "falls back when permalink lookup fails")
	require.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, *slept)

	assert.Equal(t, "true", stub.forms[0]["is_carousel_item"])
	assert.Equal(t, "true", stub.forms[1]["is_carousel_item"])
	assert.Equal(t, "CAROUSEL", stub.forms[2]["media_type"])
	assert.Equal(t, "child1,child2", stub.forms[2]["children"])
	assert.Equal(t, "multi", stub.forms[2]["caption"])
	assert.Equal(t, "parent", stub.forms[3]["creation_id"])
}

func TestPublishFailsAfterContainers(t *testing.T) {
	stub := &graphStub{respond: func(r *http.Request, n int) (int, string) {
		if r.URL.Path == "/1789/media_publish" {
			return 400, `{"error":{"message":"Media ID is not available","code":9007}}`
		}
		return 200, `{"id":"c"}`
	}}
	srv := stub.server()
	defer srv.Close()

	c, _ := newTestClient(srv.URL, srv.Client())
	_, err := c.Publish(context.Background(), model.NormalizedContent{ImageURLs: []string{"https://img/1"}}, creds)
	require.Error(t, err)
	require.Equal(t, model.ErrorKindContentRejected, model.KindOf(err))
}

func TestPublishAuthError(t *testing.T) {
	stub := &graphStub{respond: func(r *http.Request, n int) (int, string) {
		return 400, `{"error":{"message":"Error validating access token","type":"OAuthException","code":190}}`
	}}
	srv := stub.server()
	defer srv.Close()

	c, _ := newTestClient(srv.URL, srv.Client())
	_, err := c.Publish(context.Background(), model.NormalizedContent{ImageURLs: []string{"https://img/1"}}, creds)
	require.Equal(t, model.ErrorKindAuth, model.KindOf(err))
	require.Len(t, stub.requests, 1)
}

func TestPublishRequiresImage(t *testing.T) {
	c, _ := newTestClient("http://127.0.0.1:1", nil)
	_, err := c.Publish(context.Background(), model.NormalizedContent{Text: "text only"}, creds)
	require.Equal(t, model.ErrorKindContentRejected, model.KindOf(err))

	_, err = c.Publish(context.Background(), model.NormalizedContent{VideoURL: "https://v/1.mp4"}, creds)
	require.Equal(t, model.ErrorKindContentRejected, model.KindOf(err))
}

func TestCaptionIsTruncated(t *testing.T) {
	var caption string
	stub := &graphStub{respond: func(r *http.Request, n int) (int, string) {
		if n == 1 {
			caption = r.Form.Get("caption")
		}
		return 200, `{"id":"x","permalink":"https://www.instagram.com/p/x/"}`
	}}
	srv := stub.server()
	defer srv.Close()

	long := make([]rune, maxCaptionLength+10)
	for i := range long {
		long[i] = 'ж'
	}
	c, _ := newTestClient(srv.URL, srv.Client())
	_, err := c.Publish(context.Background(), model.NormalizedContent{Text: string(long), ImageURLs: []string{"https://img/1"}}, creds)
	require.NoError(t, err)
	require.Len(t, []rune(caption), maxCaptionLength)
}
