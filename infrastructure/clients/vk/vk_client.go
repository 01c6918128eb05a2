package vk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"

	"smm-publisher/domain/model"
	"smm-publisher/infrastructure/clients/socialhttp"
	"smm-publisher/infrastructure/logger"
)

const (
	DefaultBaseURL    = "https://api.vk.com/method"
	DefaultAPIVersion = "5.131"

	maxTextLength  = 16000
	maxAttachments = 10
)

type Client struct {
	baseURL string
	version string
	http    *http.Client
}

func NewClient(baseURL, version string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if version == "" {
		version = DefaultAPIVersion
	}
	if httpClient == nil {
		httpClient = socialhttp.NewHTTPClient(socialhttp.DefaultTimeout)
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), version: version, http: httpClient}
}

func (c *Client) Platform() model.Platform { return model.PlatformVK }

type apiError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

type apiResponse struct {
	Response json.RawMessage `json:"response"`
	Error    *apiError       `json:"error"`
}

type AuthParams struct {
	AccessToken string `url:"access_token"`
	Version     string `url:"v"`
}

type uploadServerParams struct {
	GroupID string `url:"group_id"`
	AuthParams
}

type savePhotoParams struct {
	GroupID string `url:"group_id"`
	Photo   string `url:"photo"`
	Server  int64  `url:"server"`
	Hash    string `url:"hash"`
	AuthParams
}

type wallPostParams struct {
	OwnerID     string `url:"owner_id"`
	FromGroup   int    `url:"from_group"`
	Message     string `url:"message,omitempty"`
	Attachments string `url:"attachments,omitempty"`
	AuthParams
}

type uploadResult struct {
	Server int64  `json:"server"`
	Photo  string `json:"photo"`
	Hash   string `json:"hash"`
}

type savedPhoto struct {
	ID      int64 `json:"id"`
	OwnerID int64 `json:"owner_id"`
}

// Publish uploads the images to the community wall album and posts them
// with the text through wall.post.
func (c *Client) Publish(ctx context.Context, content model.NormalizedContent, creds model.PlatformCredentials) (model.AdapterResult, error) {
	groupID := strings.TrimPrefix(strings.TrimSpace(creds.GroupID), "-")
	if creds.Token == "" || groupID == "" {
		return model.AdapterResult{}, model.NewPublishError(model.PlatformVK, model.ErrorKindAuth, "access token or group id not configured", nil)
	}
	auth := AuthParams{AccessToken: creds.Token, Version: c.version}

	text := strings.TrimSpace(content.Text)
	if runes := []rune(text); len(runes) > maxTextLength {
		logger.GetLogger().WithField("content_id", content.ContentID).WithField("length", len(runes)).Warn("VK text truncated to 16000 characters")
		text = string(runes[:maxTextLength])
	}

	images := content.ImageURLs
	if len(images) > maxAttachments {
		images = images[:maxAttachments]
	}
	attachments := make([]string, 0, len(images))
	for _, img := range images {
		att, err := c.uploadPhoto(ctx, groupID, auth, img)
		if err != nil {
			return model.AdapterResult{}, err
		}
		attachments = append(attachments, att)
	}
	if text == "" && len(attachments) == 0 {
		return model.AdapterResult{}, model.NewPublishError(model.PlatformVK, model.ErrorKindContentRejected, "nothing to publish", nil)
	}

	ownerID := "-" + groupID
	var post struct {
		PostID int64 `json:"post_id"`
	}
	err := c.call(ctx, "wall.post", wallPostParams{
		OwnerID:     ownerID,
		FromGroup:   1,
		Message:     text,
		Attachments: strings.Join(attachments, ","),
		AuthParams:  auth,
	}, &post)
	if err != nil {
		return model.AdapterResult{}, err
	}
	if post.PostID == 0 {
		return model.AdapterResult{}, model.NewPublishError(model.PlatformVK, model.ErrorKindUnknown, "wall.post response without post_id", nil)
	}

	postID := strconv.FormatInt(post.PostID, 10)
	return model.AdapterResult{
		RemotePostID: postID,
		PostURL:      PostURL(ownerID, postID),
	}, nil
}

func (c *Client) uploadPhoto(ctx context.Context, groupID string, auth AuthParams, imageURL string) (string, error) {
	var server struct {
		UploadURL string `json:"upload_url"`
	}
	if err := c.call(ctx, "photos.getWallUploadServer", uploadServerParams{GroupID: groupID, AuthParams: auth}, &server); err != nil {
		return "", err
	}
	if server.UploadURL == "" {
		return "", model.NewPublishError(model.PlatformVK, model.ErrorKindUnknown, "getWallUploadServer returned no upload_url", nil)
	}

	img, err := socialhttp.Get(ctx, c.http, model.PlatformVK, imageURL, nil)
	if err != nil {
		return "", err
	}
	if img.StatusCode != http.StatusOK {
		return "", socialhttp.StatusError(model.PlatformVK, img.StatusCode, "download image "+imageURL)
	}

	resp, err := socialhttp.PostMultipart(ctx, c.http, model.PlatformVK, server.UploadURL, "photo", fileName(imageURL), img.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", socialhttp.StatusError(model.PlatformVK, resp.StatusCode, "photo upload")
	}
	var uploaded uploadResult
	if err := resp.Decode(&uploaded); err != nil || uploaded.Photo == "" || uploaded.Photo == "[]" {
		return "", model.NewPublishError(model.PlatformVK, model.ErrorKindContentRejected, "upload server rejected the photo", err)
	}

	var saved []savedPhoto
	err = c.call(ctx, "photos.saveWallPhoto", savePhotoParams{
		GroupID:    groupID,
		Photo:      uploaded.Photo,
		Server:     uploaded.Server,
		Hash:       uploaded.Hash,
		AuthParams: auth,
	}, &saved)
	if err != nil {
		return "", err
	}
	if len(saved) == 0 {
		return "", model.NewPublishError(model.PlatformVK, model.ErrorKindUnknown, "saveWallPhoto returned no photo", nil)
	}
	return fmt.Sprintf("photo%d_%d", saved[0].OwnerID, saved[0].ID), nil
}

func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	resp, err := socialhttp.PostForm(ctx, c.http, model.PlatformVK, c.baseURL+"/"+method, params)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return socialhttp.StatusError(model.PlatformVK, resp.StatusCode, method)
	}
	var body apiResponse
	if err := resp.Decode(&body); err != nil {
		return model.NewPublishError(model.PlatformVK, model.ErrorKindUnknown, "malformed "+method+" response", err)
	}
	if body.Error != nil {
		logger.GetLogger().WithField("method", method).WithField("error_code", body.Error.Code).WithField("error_msg", body.Error.Message).Warn("VK API call failed")
		return model.NewPublishError(model.PlatformVK, ErrorKind(body.Error.Code), fmt.Sprintf("%s: %d %s", method, body.Error.Code, body.Error.Message), nil)
	}
	if err := json.Unmarshal(body.Response, out); err != nil {
		return model.NewPublishError(model.PlatformVK, model.ErrorKindUnknown, "unexpected "+method+" response", err)
	}
	return nil
}

// ErrorKind maps a VK API error code.
func ErrorKind(code int) model.ErrorKind {
	switch code {
	case 5, 15, 27, 28:
		return model.ErrorKindAuth
	case 6, 9, 29:
		return model.ErrorKindRateLimited
	case 10:
		return model.ErrorKindTransientNetwork
	case 100, 214, 219, 220, 224:
		return model.ErrorKindContentRejected
	}
	return model.ErrorKindUnknown
}

func PostURL(ownerID, postID string) string {
	return fmt.Sprintf("https://vk.com/wall%s_%s", ownerID, postID)
}

func fileName(imageURL string) string {
	name := path.Base(strings.SplitN(imageURL, "?", 2)[0])
	if name == "" || name == "." || name == "/" || !strings.Contains(name, ".") {
		return "image.jpg"
	}
	return name
}
