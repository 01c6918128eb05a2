package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"smm-publisher/domain/model"
	"smm-publisher/infrastructure/clients/socialhttp"
	"smm-publisher/infrastructure/htmlnorm"
	"smm-publisher/infrastructure/logger"
)

const (
	DefaultBaseURL = "https://api.telegram.org"

	maxTextLength    = 4096
	maxCaptionLength = 1024
	maxMediaGroup    = 10
)

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

func (c *Client) Platform() model.Platform { return model.PlatformTelegram }

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

type message struct {
	MessageID int64 `json:"message_id"`
	Chat      struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	} `json:"chat"`
}

type inputMedia struct {
	Type      string `json:"type"`
	Media     string `json:"media"`
	Caption   string `json:"caption,omitempty"`
	ParseMode string `json:"parse_mode,omitempty"`
}

// Publish sends the content as a text message, a photo, a video or a media
// group, depending on the media it carries.
func (c *Client) Publish(ctx context.Context, content model.NormalizedContent, creds model.PlatformCredentials) (model.AdapterResult, error) {
	if creds.Token == "" || creds.ChatID == "" {
		return model.AdapterResult{}, model.NewPublishError(model.PlatformTelegram, model.ErrorKindAuth, "bot token or chat id not configured", nil)
	}
	text := strings.TrimSpace(content.Text)
	textLen := utf8.RuneCountInString(htmlnorm.VisibleText(text))
	if textLen > maxTextLength {
		return model.AdapterResult{}, model.NewPublishError(model.PlatformTelegram, model.ErrorKindContentRejected,
			fmt.Sprintf("text is %d characters, limit is %d", textLen, maxTextLength), nil)
	}

	hasMedia := content.VideoURL != "" || len(content.ImageURLs) > 0
	if !hasMedia && text == "" {
		return model.AdapterResult{}, model.NewPublishError(model.PlatformTelegram, model.ErrorKindContentRejected, "nothing to publish", nil)
	}

	caption := text
	followUp := ""
	if hasMedia && textLen > maxCaptionLength {
		// too long for a caption: media first, then the text as its own message
		caption, followUp = "", text
	}

	var (
		first *message
		err   error
	)
	switch {
	case content.VideoURL != "":
		first, err = c.sendMedia(ctx, creds, "sendVideo", "video", content.VideoURL, caption)
	case len(content.ImageURLs) == 1:
		first, err = c.sendMedia(ctx, creds, "sendPhoto", "photo", content.ImageURLs[0], caption)
	case len(content.ImageURLs) > 1:
		first, err = c.sendMediaGroup(ctx, creds, content.ImageURLs, caption)
	default:
		first, err = c.sendMessage(ctx, creds, text)
	}
	if err != nil {
		return model.AdapterResult{}, err
	}

	if followUp != "" {
		if _, err := c.sendMessage(ctx, creds, followUp); err != nil {
			// the media is already out; the post URL still points at it
			logger.GetLogger().WithField("content_id", content.ContentID).WithField("error", err).Warn("Telegram follow-up text failed after media was sent")
		}
	}

	return model.AdapterResult{
		RemoteMessageID: strconv.FormatInt(first.MessageID, 10),
		PostURL:         PostURL(creds.ChatID, first.Chat.Username, first.MessageID),
	}, nil
}

func (c *Client) sendMessage(ctx context.Context, creds model.PlatformCredentials, text string) (*message, error) {
	payload := map[string]interface{}{
		"chat_id":    creds.ChatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	return c.callMessage(ctx, creds.Token, "sendMessage", payload)
}

func (c *Client) sendMedia(ctx context.Context, creds model.PlatformCredentials, method, field, mediaURL, caption string) (*message, error) {
	payload := map[string]interface{}{
		"chat_id": creds.ChatID,
		field:     mediaURL,
	}
	if caption != "" {
		payload["caption"] = caption
		payload["parse_mode"] = "HTML"
	}
	return c.callMessage(ctx, creds.Token, method, payload)
}

func (c *Client) sendMediaGroup(ctx context.Context, creds model.PlatformCredentials, images []string, caption string) (*message, error) {
	if len(images) > maxMediaGroup {
		logger.GetLogger().WithField("images", len(images)).Warn("Telegram media group limited to 10 items")
		images = images[:maxMediaGroup]
	}
	media := make([]inputMedia, 0, len(images))
	for i, u := range images {
		item := inputMedia{Type: "photo", Media: u}
		if i == 0 && caption != "" {
			item.Caption = caption
			item.ParseMode = "HTML"
		}
		media = append(media, item)
	}
	raw, err := c.call(ctx, creds.Token, "sendMediaGroup", map[string]interface{}{
		"chat_id": creds.ChatID,
		"media":   media,
	})
	if err != nil {
		return nil, err
	}
	var msgs []message
	if err := json.Unmarshal(raw, &msgs); err != nil || len(msgs) == 0 || msgs[0].MessageID == 0 {
		return nil, model.NewPublishError(model.PlatformTelegram, model.ErrorKindUnknown, "sendMediaGroup response without message_id", err)
	}
	return &msgs[0], nil
}

func (c *Client) callMessage(ctx context.Context, token, method string, payload interface{}) (*message, error) {
	raw, err := c.call(ctx, token, method, payload)
	if err != nil {
		return nil, err
	}
	var msg message
	if err := json.Unmarshal(raw, &msg); err != nil || msg.MessageID == 0 {
		return nil, model.NewPublishError(model.PlatformTelegram, model.ErrorKindUnknown, method+" response without message_id", err)
	}
	return &msg, nil
}

func (c *Client) call(ctx context.Context, token, method string, payload interface{}) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, token, method)
	resp, err := socialhttp.PostJSON(ctx, c.http, model.PlatformTelegram, endpoint, payload)
	if err != nil {
		return nil, err
	}

	var out apiResponse
	if decodeErr := resp.Decode(&out); decodeErr != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, socialhttp.StatusError(model.PlatformTelegram, resp.StatusCode, socialhttp.Truncate(resp.Body, 200))
		}
		return nil, model.NewPublishError(model.PlatformTelegram, model.ErrorKindUnknown, "malformed "+method+" response", decodeErr)
	}
	if resp.StatusCode == http.StatusOK && out.OK {
		return out.Result, nil
	}

	code := out.ErrorCode
	if code == 0 {
		code = resp.StatusCode
	}
	entry := logger.GetLogger().WithField("method", method).WithField("error_code", code).WithField("description", out.Description)
	if out.Parameters != nil && out.Parameters.RetryAfter > 0 {
		entry = entry.WithField("retry_after", out.Parameters.RetryAfter)
	}
	entry.Warn("Telegram API call failed")
	return nil, socialhttp.StatusError(model.PlatformTelegram, code, out.Description)
}

// PostURL derives the public link of a message. Public chats use their
// username; private ones use the t.me/c form, which always carries the
// message id.
func PostURL(chatID, username string, messageID int64) string {
	name := ""
	if strings.HasPrefix(chatID, "@") {
		name = strings.TrimPrefix(chatID, "@")
	} else if username != "" {
		name = username
	}
	if name != "" {
		return fmt.Sprintf("https://t.me/%s/%d", name, messageID)
	}
	internal := strings.TrimPrefix(chatID, "-100")
	if internal == chatID {
		internal = strings.TrimPrefix(chatID, "-")
	}
	return fmt.Sprintf("https://t.me/c/%s/%d", internal, messageID)
}
