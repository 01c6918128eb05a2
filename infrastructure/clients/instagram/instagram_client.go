package instagram

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"smm-publisher/domain/model"
	"smm-publisher/infrastructure/clients/socialhttp"
	"smm-publisher/infrastructure/logger"
)

const (
	DefaultBaseURL        = "https://graph.facebook.com/v20.0"
	DefaultContainerDelay = 2 * time.Second

	maxCaptionLength = 2200
	maxCarouselItems = 10
)

type Client struct {
	baseURL        string
	http           *http.Client
	containerDelay time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
}

func NewClient(baseURL string, httpClient *http.Client, containerDelay time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = socialhttp.NewHTTPClient(socialhttp.DefaultTimeout)
	}
	if containerDelay < 0 {
		containerDelay = DefaultContainerDelay
	}
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           httpClient,
		containerDelay: containerDelay,
		sleep:          socialhttp.Sleep,
	}
}

func (c *Client) Platform() model.Platform { return model.PlatformInstagram }

type containerParams struct {
	ImageURL       string `url:"image_url,omitempty"`
	IsCarouselItem bool   `url:"is_carousel_item,omitempty"`
	MediaType      string `url:"media_type,omitempty"`
	Children       string `url:"children,omitempty"`
	Caption        string `url:"caption,omitempty"`
	AccessToken    string `url:"access_token"`
}

type publishParams struct {
	CreationID  string `url:"creation_id"`
	AccessToken string `url:"access_token"`
}

type fieldsParams struct {
	Fields      string `url:"fields"`
	AccessToken string `url:"access_token"`
}

type idResponse struct {
	ID string `json:"id"`
}

// Publish runs the container protocol: one container per image (children of
// a CAROUSEL parent when there are several), media_publish, then a permalink
// lookup. Containers created before a later step fails are left behind.
func (c *Client) Publish(ctx context.Context, content model.NormalizedContent, creds model.PlatformCredentials) (model.AdapterResult, error) {
	if creds.Token == "" || creds.AccountID == "" {
		return model.AdapterResult{}, model.NewPublishError(model.PlatformInstagram, model.ErrorKindAuth, "access token or business account id not configured", nil)
	}
	if content.VideoURL != "" && len(content.ImageURLs) == 0 {
		return model.AdapterResult{}, model.NewPublishError(model.PlatformInstagram, model.ErrorKindContentRejected, "video publishing is not supported", nil)
	}
	if len(content.ImageURLs) == 0 {
		return model.AdapterResult{}, model.NewPublishError(model.PlatformInstagram, model.ErrorKindContentRejected, "instagram requires at least one image", nil)
	}

	caption := strings.TrimSpace(content.Text)
	if runes := []rune(caption); len(runes) > maxCaptionLength {
		logger.GetLogger().WithField("content_id", content.ContentID).WithField("length", len(runes)).Warn("Instagram caption truncated to 2200 characters")
		caption = string(runes[:maxCaptionLength])
	}

	images := content.ImageURLs
	if len(images) > maxCarouselItems {
		images = images[:maxCarouselItems]
	}

	var creationID string
	var err error
	if len(images) == 1 {
		creationID, err = c.createContainer(ctx, creds, containerParams{ImageURL: images[0], Caption: caption})
	} else {
		creationID, err = c.createCarousel(ctx, creds, images, caption)
	}
	if err != nil {
		return model.AdapterResult{}, err
	}

	var published idResponse
	endpoint := fmt.Sprintf("%s/%s/media_publish", c.baseURL, creds.AccountID)
	if err := socialhttp.GraphPost(ctx, c.http, model.PlatformInstagram, endpoint, publishParams{CreationID: creationID, AccessToken: creds.Token}, &published); err != nil {
		logOrphans(content.ContentID, []string{creationID}, err)
		return model.AdapterResult{}, err
	}
	if published.ID == "" {
		return model.AdapterResult{}, model.NewPublishError(model.PlatformInstagram, model.ErrorKindUnknown, "media_publish response without id", nil)
	}

	return model.AdapterResult{
		RemotePostID: published.ID,
		PostURL:      c.permalink(ctx, creds, published.ID),
	}, nil
}

func (c *Client) createCarousel(ctx context.Context, creds model.PlatformCredentials, images []string, caption string) (string, error) {
	children := make([]string, 0, len(images))
	for i, img := range images {
		if i > 0 {
			if err := c.sleep(ctx, c.containerDelay); err != nil {
				return "", model.NewPublishError(model.PlatformInstagram, model.ErrorKindTransientNetwork, "interrupted between containers", err)
			}
		}
		id, err := c.createContainer(ctx, creds, containerParams{ImageURL: img, IsCarouselItem: true})
		if err != nil {
			logOrphans("", children, err)
			return "", err
		}
		children = append(children, id)
	}
	if err := c.sleep(ctx, c.containerDelay); err != nil {
		logOrphans("", children, err)
		return "", model.NewPublishError(model.PlatformInstagram, model.ErrorKindTransientNetwork, "interrupted before carousel container", err)
	}
	id, err := c.createContainer(ctx, creds, containerParams{
		MediaType: "CAROUSEL",
		Children:  strings.Join(children, ","),
		Caption:   caption,
	})
	if err != nil {
		logOrphans("", children, err)
		return "", err
	}
	return id, nil
}

// logOrphans records containers that will never be published. They are not
// deleted; the Graph API expires unpublished containers on its own.
func logOrphans(contentID string, ids []string, cause error) {
	if len(ids) == 0 {
		return
	}
	logger.GetLogger().WithFields(map[string]interface{}{
		"content_id": contentID,
		"containers": strings.Join(ids, ","),
		"error":      cause.Error(),
	}).Warn("Instagram containers left unpublished")
}

func (c *Client) createContainer(ctx context.Context, creds model.PlatformCredentials, params containerParams) (string, error) {
	params.AccessToken = creds.Token
	var out idResponse
	endpoint := fmt.Sprintf("%s/%s/media", c.baseURL, creds.AccountID)
	if err := socialhttp.GraphPost(ctx, c.http, model.PlatformInstagram, endpoint, params, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", model.NewPublishError(model.PlatformInstagram, model.ErrorKindUnknown, "container response without id", nil)
	}
	return out.ID, nil
}

// permalink falls back to a constructed URL; the post is already live.
func (c *Client) permalink(ctx context.Context, creds model.PlatformCredentials, mediaID string) string {
	var out struct {
		Permalink string `json:"permalink"`
	}
	endpoint := fmt.Sprintf("%s/%s", c.baseURL, mediaID)
	err := socialhttp.GraphGet(ctx, c.http, model.PlatformInstagram, endpoint, fieldsParams{Fields: "permalink", AccessToken: creds.Token}, &out)
	if err != nil || out.Permalink == "" {
		logger.GetLogger().WithField("media_id", mediaID).WithField("error", err).Warn("Instagram permalink unavailable, using constructed URL")
		return fmt.Sprintf("https://www.instagram.com/p/%s/", mediaID)
	}
	return out.Permalink
}
