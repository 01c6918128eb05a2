package facebook

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"smm-publisher/domain/model"
	"smm-publisher/infrastructure/clients/socialhttp"
	"smm-publisher/infrastructure/logger"
)

const DefaultBaseURL = "https://graph.facebook.com/v19.0"

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = socialhttp.NewHTTPClient(socialhttp.DefaultTimeout)
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) Platform() model.Platform { return model.PlatformFacebook }

type feedParams struct {
	Message     string `url:"message,omitempty"`
	AccessToken string `url:"access_token"`
}

type photoParams struct {
	URL         string `url:"url"`
	Caption     string `url:"caption,omitempty"`
	Published   bool   `url:"published"`
	AccessToken string `url:"access_token"`
}

type videoParams struct {
	FileURL     string `url:"file_url"`
	Description string `url:"description,omitempty"`
	AccessToken string `url:"access_token"`
}

type tokenParams struct {
	AccessToken string `url:"access_token"`
}

type fieldsParams struct {
	Fields      string `url:"fields"`
	AccessToken string `url:"access_token"`
}

type postResponse struct {
	ID     string `json:"id"`
	PostID string `json:"post_id"`
}

// Publish posts to the page feed: text through /feed, one image through
// /photos, several images as unpublished photos attached to a /feed post.
func (c *Client) Publish(ctx context.Context, content model.NormalizedContent, creds model.PlatformCredentials) (model.AdapterResult, error) {
	if creds.Token == "" || creds.PageID == "" {
		return model.AdapterResult{}, model.NewPublishError(model.PlatformFacebook, model.ErrorKindAuth, "page access token or page id not configured", nil)
	}
	token := c.pageToken(ctx, creds.Token, creds.PageID)
	text := strings.TrimSpace(content.Text)

	var (
		postID string
		err    error
	)
	switch {
	case content.VideoURL != "":
		postID, err = c.post(ctx, "videos", creds.PageID, videoParams{FileURL: content.VideoURL, Description: text, AccessToken: token})
	case len(content.ImageURLs) == 1:
		postID, err = c.post(ctx, "photos", creds.PageID, photoParams{URL: content.ImageURLs[0], Caption: text, Published: true, AccessToken: token})
	case len(content.ImageURLs) > 1:
		postID, err = c.publishAlbum(ctx, creds.PageID, token, content.ImageURLs, text)
	default:
		if text == "" {
			return model.AdapterResult{}, model.NewPublishError(model.PlatformFacebook, model.ErrorKindContentRejected, "nothing to publish", nil)
		}
		postID, err = c.post(ctx, "feed", creds.PageID, feedParams{Message: text, AccessToken: token})
	}
	if err != nil {
		return model.AdapterResult{}, err
	}

	return model.AdapterResult{
		RemotePostID: postID,
		PostURL:      c.permalink(ctx, creds.PageID, postID, token),
	}, nil
}

func (c *Client) publishAlbum(ctx context.Context, pageID, token string, images []string, text string) (string, error) {
	form := url.Values{}
	for i, img := range images {
		var photo postResponse
		endpoint := fmt.Sprintf("%s/%s/photos", c.baseURL, pageID)
		if err := socialhttp.GraphPost(ctx, c.http, model.PlatformFacebook, endpoint, photoParams{URL: img, Published: false, AccessToken: token}, &photo); err != nil {
			return "", err
		}
		if photo.ID == "" {
			return "", model.NewPublishError(model.PlatformFacebook, model.ErrorKindUnknown, "photo upload response without id", nil)
		}
		form.Set("attached_media["+strconv.Itoa(i)+"]", `{"media_fbid":"`+photo.ID+`"}`)
	}
	if text != "" {
		form.Set("message", text)
	}
	form.Set("access_token", token)
	return c.post(ctx, "feed", pageID, form)
}

func (c *Client) post(ctx context.Context, edge, pageID string, params interface{}) (string, error) {
	var out postResponse
	endpoint := fmt.Sprintf("%s/%s/%s", c.baseURL, pageID, edge)
	if err := socialhttp.GraphPost(ctx, c.http, model.PlatformFacebook, endpoint, params, &out); err != nil {
		return "", err
	}
	id := out.PostID
	if id == "" {
		id = out.ID
	}
	if id == "" {
		return "", model.NewPublishError(model.PlatformFacebook, model.ErrorKindUnknown, edge+" response without id", nil)
	}
	return id, nil
}

// pageToken exchanges a user token for the page's own token when the user
// manages the page; otherwise the given token is used as is.
func (c *Client) pageToken(ctx context.Context, token, pageID string) string {
	var accounts struct {
		Data []struct {
			ID          string `json:"id"`
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	if err := socialhttp.GraphGet(ctx, c.http, model.PlatformFacebook, c.baseURL+"/me/accounts", tokenParams{AccessToken: token}, &accounts); err != nil {
		logger.GetLogger().WithField("page_id", pageID).WithField("error", err).Debug("Facebook page token lookup failed, using configured token")
		return token
	}
	for _, a := range accounts.Data {
		if a.ID == pageID && a.AccessToken != "" {
			return a.AccessToken
		}
	}
	return token
}

func (c *Client) permalink(ctx context.Context, pageID, postID, token string) string {
	fullID := postID
	if !strings.Contains(fullID, "_") {
		fullID = pageID + "_" + postID
	}
	var out struct {
		PermalinkURL string `json:"permalink_url"`
	}
	err := socialhttp.GraphGet(ctx, c.http, model.PlatformFacebook, c.baseURL+"/"+fullID, fieldsParams{Fields: "permalink_url", AccessToken: token}, &out)
	if err != nil || out.PermalinkURL == "" {
		logger.GetLogger().WithField("post_id", fullID).WithField("error", err).Warn("Facebook permalink unavailable, using constructed URL")
		return PostURL(pageID, fullID)
	}
	return out.PermalinkURL
}

func PostURL(pageID, postID string) string {
	return fmt.Sprintf("https://facebook.com/%s/posts/%s", pageID, postID)
}
