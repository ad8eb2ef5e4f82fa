package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
)

const (
	telegramAPI = "https://api.telegram.org"
	// telegramTextMax is the sendMessage limit after entity parsing.
	telegramTextMax = 4096
)

type telegramMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// TelegramSender delivers notifications through the Bot API sendMessage
// call. Titles and messages are HTML-escaped since wish descriptions are
// user input.
type TelegramSender struct {
	token   string
	chatID  string
	apiBase string
	client  *http.Client
}

func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:   token,
		chatID:  chatID,
		apiBase: telegramAPI,
		client:  &http.Client{Timeout: senderTimeout},
	}
}

func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	text := "<b>" + html.EscapeString(title) + "</b>\n" + html.EscapeString(message)
	body, err := json.Marshal(telegramMessage{
		ChatID:                t.chatID,
		Text:                  truncate(text, telegramTextMax),
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}
	return postJSON(ctx, t.client, "telegram", t.apiBase+"/bot"+t.token+"/sendMessage", body)
}

func (t *TelegramSender) Name() string { return "telegram" }
