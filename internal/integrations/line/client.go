package line

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"

	"chat-relay/internal/domain"
)

// maxTextRunes is the LINE limit for one text message.
const maxTextRunes = 5000

var (
	// ErrInvalidSignature is returned when the X-Line-Signature header does
	// not match the body.
	ErrInvalidSignature = errors.New("line: invalid signature")
	// ErrMalformedPayload is returned for a correctly signed body that cannot
	// be decoded.
	ErrMalformedPayload = errors.New("line: malformed webhook payload")
)

// Client verifies webhook deliveries and sends replies through the LINE
// Messaging API.
type Client struct {
	channelSecret string
	api           *messaging_api.MessagingApiAPI

	botMu     sync.Mutex
	botUserID string
}

type Option func(*options)

type options struct {
	httpClient *http.Client
	endpoint   string
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

func WithEndpoint(endpoint string) Option {
	return func(o *options) { o.endpoint = strings.TrimSpace(endpoint) }
}

// New creates a Client for one LINE channel.
func New(channelSecret, channelToken string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(channelSecret) == "" {
		return nil, errors.New("line: channel secret must not be empty")
	}
	if strings.TrimSpace(channelToken) == "" {
		return nil, errors.New("line: channel access token must not be empty")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var apiOpts []messaging_api.MessagingApiAPIOption
	if o.httpClient != nil {
		apiOpts = append(apiOpts, messaging_api.WithHTTPClient(o.httpClient))
	}
	if o.endpoint != "" {
		apiOpts = append(apiOpts, messaging_api.WithEndpoint(o.endpoint))
	}
	api, err := messaging_api.NewMessagingApiAPI(channelToken, apiOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "line: create messaging api client")
	}
	return &Client{channelSecret: channelSecret, api: api}, nil
}

// VerifyAndDecode checks the delivery signature and decodes every message
// event in body. Other event kinds (follow, join, postback, ...) are dropped.
func (c *Client) VerifyAndDecode(body []byte, signature string) ([]domain.MessageEvent, error) {
	if signature == "" || !webhook.ValidateSignature(c.channelSecret, signature, body) {
		return nil, ErrInvalidSignature
	}

	var cb webhook.CallbackRequest
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "line: decode callback"), ErrMalformedPayload)
	}

	events := make([]domain.MessageEvent, 0, len(cb.Events))
	for _, ev := range cb.Events {
		me, ok := ev.(webhook.MessageEvent)
		if !ok {
			continue
		}
		events = append(events, decodeMessageEvent(me))
	}
	return events, nil
}

func decodeMessageEvent(e webhook.MessageEvent) domain.MessageEvent {
	out := domain.MessageEvent{ReplyToken: e.ReplyToken}

	switch src := e.Source.(type) {
	case webhook.UserSource:
		out.SourceType, out.UserID = domain.SourceUser, src.UserId
	case webhook.GroupSource:
		out.SourceType, out.UserID = domain.SourceGroup, src.UserId
	case webhook.RoomSource:
		out.SourceType, out.UserID = domain.SourceRoom, src.UserId
	}

	if text, ok := e.Message.(webhook.TextMessageContent); ok {
		out.IsText = true
		out.Text = text.Text
		if text.Mention != nil {
			for _, m := range text.Mention.Mentionees {
				if um, ok := m.(webhook.UserMentionee); ok && um.UserId != "" {
					out.MentionedUserIDs = append(out.MentionedUserIDs, um.UserId)
				}
			}
		}
	}
	return out
}

// Reply sends text as a single text message for replyToken.
func (c *Client) Reply(ctx context.Context, replyToken, text string) error {
	if replyToken == "" {
		return errors.New("line: reply token must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "line: reply")
	}

	_, err := c.api.ReplyMessage(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages: []messaging_api.MessageInterface{
			messaging_api.TextMessage{Text: truncate(text, maxTextRunes)},
		},
	})
	if err != nil {
		return errors.Wrap(err, "line: reply message")
	}
	return nil
}

// BotUserID returns the channel bot's user id. The first successful lookup
// is cached for the lifetime of the process; failures are retried on the
// next call.
func (c *Client) BotUserID(ctx context.Context) (string, error) {
	c.botMu.Lock()
	defer c.botMu.Unlock()
	if c.botUserID != "" {
		return c.botUserID, nil
	}
	if err := ctx.Err(); err != nil {
		return "", errors.Wrap(err, "line: bot info")
	}

	info, err := c.api.GetBotInfo()
	if err != nil {
		return "", errors.Wrap(err, "line: bot info")
	}
	if info == nil || info.UserId == "" {
		return "", errors.New("line: bot info has no user id")
	}
	c.botUserID = info.UserId
	return c.botUserID, nil
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
