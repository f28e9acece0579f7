// Package transport connects the agent to Telegram. A single
// long-poll loop receives updates for one authorised user and relays
// replies back, splitting long messages under the API limit. Nothing
// in the core imports this package.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xonecas/seele/internal/errs"
)

// Telegram rejects messages over 4096 characters. Splitting a little
// under that leaves room for entity markup.
const maxMessageLen = 4000

const pollTimeout = 30 // seconds, getUpdates long-poll window

// Conversation is the slice of the agent the bot drives.
type Conversation interface {
	HandleUserMessage(ctx context.Context, text string) (string, error)
	NewSession(ctx context.Context) error
	ResetSession(ctx context.Context) error
}

// Bot long-polls the Telegram API and routes messages from the single
// authorised user into the conversation.
type Bot struct {
	apiBase string
	client  *http.Client
	userID  int64
	conv    Conversation
	offset  int64
}

func NewBot(token string, userID int64, conv Conversation, client *http.Client) *Bot {
	if client == nil {
		client = &http.Client{Timeout: (pollTimeout + 15) * time.Second}
	}
	return &Bot{
		apiBase: "https://api.telegram.org/bot" + token,
		client:  client,
		userID:  userID,
		conv:    conv,
	}
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		From *struct {
			ID int64 `json:"id"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// Run polls until the context is cancelled. Poll failures are logged
// and retried after a short pause so a flaky network never kills the
// loop.
func (b *Bot) Run(ctx context.Context) error {
	log.Info().Int64("user_id", b.userID).Msg("telegram bot started")
	for {
		if ctx.Err() != nil {
			log.Info().Msg("telegram bot stopped")
			return ctx.Err()
		}
		updates, err := b.getUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Warn().Err(err).Msg("polling telegram updates")
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
			continue
		}
		for _, u := range updates {
			b.offset = u.UpdateID + 1
			b.handleUpdate(ctx, u)
		}
	}
}

func (b *Bot) getUpdates(ctx context.Context) ([]update, error) {
	payload := map[string]any{
		"offset":          b.offset,
		"timeout":         pollTimeout,
		"allowed_updates": []string{"message"},
	}
	raw, err := b.call(ctx, "getUpdates", payload)
	if err != nil {
		return nil, err
	}
	var updates []update
	if err := json.Unmarshal(raw, &updates); err != nil {
		return nil, errs.New(errs.UpstreamFailure, fmt.Errorf("decode updates: %w", err))
	}
	return updates, nil
}

func (b *Bot) handleUpdate(ctx context.Context, u update) {
	if u.Message == nil || u.Message.From == nil || u.Message.Text == "" {
		return
	}
	chatID := u.Message.Chat.ID
	if u.Message.From.ID != b.userID {
		log.Warn().Int64("from", u.Message.From.ID).Msg("ignoring message from unauthorized user")
		b.send(ctx, chatID, "Unauthorized access.")
		return
	}

	text := strings.TrimSpace(u.Message.Text)
	switch command(text) {
	case "new":
		if err := b.conv.NewSession(ctx); err != nil {
			log.Error().Err(err).Msg("creating new session")
			b.send(ctx, chatID, "Error creating new session.")
			return
		}
		b.send(ctx, chatID, "✓ New session created! Previous conversations have been summarized and archived.\n\n"+
			"I still remember our history and can recall it when relevant.")
	case "reset":
		if err := b.conv.ResetSession(ctx); err != nil {
			log.Error().Err(err).Msg("resetting session")
			b.send(ctx, chatID, "Error resetting session.")
			return
		}
		b.send(ctx, chatID, "✓ Session reset! Current conversation has been deleted.\n\n"+
			"Starting fresh, but I still have memories from previous sessions.")
	case "help", "start":
		b.send(ctx, chatID, "Commands:\n"+
			"/new - Archive this session and start a new one\n"+
			"/reset - Delete this session and start fresh\n"+
			"/help - Show this message\n\n"+
			"Anything else is a regular message.")
	default:
		reply, err := b.conv.HandleUserMessage(ctx, text)
		if err != nil {
			log.Error().Err(err).Msg("handling user message")
			b.send(ctx, chatID, "Sorry, an error occurred while processing your message.")
			return
		}
		b.send(ctx, chatID, reply)
	}
}

func command(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	name := strings.TrimPrefix(strings.Fields(text)[0], "/")
	if at := strings.Index(name, "@"); at >= 0 {
		name = name[:at]
	}
	return name
}

// Send delivers a message to the authorised user outside the polling
// loop. The scheduler uses it to push fired task replies.
func (b *Bot) Send(ctx context.Context, text string) {
	b.send(ctx, b.userID, text)
}

// send delivers a reply, splitting it under the message length limit.
// Each segment goes out as HTML; a segment Telegram rejects is resent
// as plain text so markup glitches never swallow a reply.
func (b *Bot) send(ctx context.Context, chatID int64, text string) {
	for _, segment := range SplitMessage(text, maxMessageLen) {
		if err := b.sendMessage(ctx, chatID, segment, "HTML"); err != nil {
			log.Warn().Err(err).Msg("HTML send failed, retrying as plain text")
			if err := b.sendMessage(ctx, chatID, segment, ""); err != nil {
				log.Error().Err(err).Msg("sending telegram message")
				return
			}
		}
	}
}

func (b *Bot) sendMessage(ctx context.Context, chatID int64, text, parseMode string) error {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if parseMode != "" {
		payload["parse_mode"] = parseMode
	}
	_, err := b.call(ctx, "sendMessage", payload)
	return err
}

func (b *Bot) call(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errs.New(errs.BadArgument, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.apiBase+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, errs.New(errs.BadArgument, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, errs.New(errs.UpstreamFailure, fmt.Errorf("telegram %s: %w", method, err))
	}
	defer resp.Body.Close()

	var decoded apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errs.New(errs.UpstreamFailure, fmt.Errorf("telegram %s: %w", method, err))
	}
	if !decoded.OK {
		return nil, errs.Newf(errs.UpstreamFailure, "telegram %s: %s", method, decoded.Description)
	}
	return decoded.Result, nil
}
