package telegram

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

const maxMessageLen = 4096

// Notifier delivers reports and charts to one chat.
type Notifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewNotifier connects to the Bot API with token.
func NewNotifier(token string, chatID int64) (*Notifier, error) {
	return NewNotifierWithEndpoint(token, tgbotapi.APIEndpoint, chatID, &http.Client{})
}

// NewNotifierWithEndpoint connects through a custom endpoint format, e.g. a test server.
func NewNotifierWithEndpoint(token, endpoint string, chatID int64, client tgbotapi.HTTPClient) (*Notifier, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	log.Info().Str("bot", api.Self.UserName).Int64("chat_id", chatID).Msg("telegram: notifier initialized")
	return &Notifier{api: api, chatID: chatID}, nil
}

// SendText sends text, split on line boundaries into messages Telegram accepts.
func (n *Notifier) SendText(text string) error {
	for _, chunk := range splitMessage(text, maxMessageLen) {
		if _, err := n.api.Send(tgbotapi.NewMessage(n.chatID, chunk)); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

// SendPhoto uploads the image at path with a caption.
func (n *Notifier) SendPhoto(path, caption string) error {
	photo := tgbotapi.NewPhoto(n.chatID, tgbotapi.FilePath(path))
	if caption == "" {
		caption = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	photo.Caption = caption
	if _, err := n.api.Send(photo); err != nil {
		return fmt.Errorf("telegram photo %s: %w", filepath.Base(path), err)
	}
	return nil
}

// SetWebhook points the bot's updates at url.
func (n *Notifier) SetWebhook(url string) error {
	webhook, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return err
	}
	if _, err := n.api.Request(webhook); err != nil {
		return err
	}
	log.Info().Str("url", url).Msg("telegram: webhook set")
	return nil
}

// WebhookHandler decodes updates and hands messages to h.
func WebhookHandler(h *Handlers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, "bad update", http.StatusBadRequest)
			return
		}
		if update.Message == nil {
			log.Debug().Msg("webhook: non-message update received")
			w.WriteHeader(http.StatusOK)
			return
		}
		log.Info().Int64("chat_id", update.Message.Chat.ID).Str("text", update.Message.Text).Msg("webhook: message")
		go h.HandleMessage(update.Message.Chat.ID, update.Message.Text)
		w.WriteHeader(http.StatusOK)
	}
}

func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var out []string
	var cur strings.Builder
	for _, line := range strings.SplitAfter(text, "\n") {
		for len(line) > limit {
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
			out = append(out, line[:limit])
			line = line[limit:]
		}
		if cur.Len()+len(line) > limit {
			out = append(out, cur.String())
			cur.Reset()
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}
