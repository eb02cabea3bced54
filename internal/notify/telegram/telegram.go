// Package telegram implements the dispatcher's notification channel over
// the Telegram Bot API. Chat addresses are Telegram chat IDs; claim actions
// become inline keyboard buttons whose callback data the chat layer routes
// back into the claim flow.
package telegram

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/rezerv/storefront/internal/dispatch"
)

// DefaultBaseURL is the production Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// Config holds channel construction parameters.
type Config struct {
	Token   string
	BaseURL string // defaults to DefaultBaseURL
	Client  *http.Client
}

// Channel sends messages through the Bot API.
type Channel struct {
	client *http.Client
	url    string
}

var _ dispatch.Channel = (*Channel)(nil)

// New creates a Channel. The HTTP client's own timeout is left alone; the
// dispatcher passes per-send deadlines through the context.
func New(cfg Config) *Channel {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &Channel{
		client: client,
		url:    base + "/bot" + cfg.Token + "/sendMessage",
	}
}

// Send posts one sendMessage call.
func (c *Channel) Send(ctx context.Context, chatAddr string, msg dispatch.Message) error {
	body := encodeSendMessage(chatAddr, msg)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "post sendMessage")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return errors.Wrap(err, "read response")
	}

	ok, description, err := decodeResult(data)
	if err != nil {
		return errors.Wrapf(err, "decode response (http %d)", resp.StatusCode)
	}
	if !ok {
		return errors.Errorf("telegram: %s (http %d)", description, resp.StatusCode)
	}

	return nil
}

// encodeSendMessage builds the sendMessage payload. A claim action becomes a
// single inline keyboard button.
func encodeSendMessage(chatAddr string, msg dispatch.Message) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("chat_id", func(e *jx.Encoder) { e.Str(chatAddr) })
		e.Field("text", func(e *jx.Encoder) { e.Str(msg.Text) })
		if msg.ClaimAction != "" {
			e.Field("reply_markup", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("inline_keyboard", func(e *jx.Encoder) {
						e.Arr(func(e *jx.Encoder) {
							e.Arr(func(e *jx.Encoder) {
								e.Obj(func(e *jx.Encoder) {
									e.Field("text", func(e *jx.Encoder) { e.Str("Take order") })
									e.Field("callback_data", func(e *jx.Encoder) { e.Str(msg.ClaimAction) })
								})
							})
						})
					})
				})
			})
		}
	})
	return e.Bytes()
}

// decodeResult extracts the ok flag and error description from a Bot API
// response envelope.
func decodeResult(data []byte) (ok bool, description string, _ error) {
	d := jx.DecodeBytes(data)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "ok":
			v, err := d.Bool()
			if err != nil {
				return err
			}
			ok = v
		case "description":
			v, err := d.Str()
			if err != nil {
				return err
			}
			description = v
		default:
			return d.Skip()
		}
		return nil
	}); err != nil {
		return false, "", err
	}
	if !ok && description == "" {
		description = "request failed"
	}
	return ok, description, nil
}
