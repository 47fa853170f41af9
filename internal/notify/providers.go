package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-telegram/bot"
	"go.uber.org/zap"
)

type Provider interface {
	Send(ctx context.Context, message, recipient string) error
}

func newProvider(kind, channel string, cfg Config, logger *zap.Logger) Provider {
	switch kind {
	case "", "stub", "log":
		return logProvider{channel: channel, logger: logger}
	case "noop":
		return noopProvider{}
	case "fail":
		return failProvider{}
	case "webhook":
		if cfg.WebhookURL == "" {
			return logProvider{channel: channel, logger: logger}
		}
		return webhookProvider{channel: channel, url: cfg.WebhookURL, token: cfg.WebhookToken}
	case "telegram":
		provider, err := newTelegramProvider(cfg.TelegramToken)
		if err != nil {
			logger.Warn("telegram provider unavailable", zap.Error(err))
			return logProvider{channel: channel, logger: logger}
		}
		return provider
	default:
		return logProvider{channel: channel, logger: logger}
	}
}

type logProvider struct {
	channel string
	logger  *zap.Logger
}

func (p logProvider) Send(ctx context.Context, message, recipient string) error {
	p.logger.Info("send notification",
		zap.String("channel", p.channel),
		zap.String("recipient", recipient),
		zap.String("message", message),
	)
	return nil
}

type noopProvider struct{}

func (noopProvider) Send(ctx context.Context, message, recipient string) error {
	return nil
}

type failProvider struct{}

func (failProvider) Send(ctx context.Context, message, recipient string) error {
	return errors.New("provider failure")
}

type webhookProvider struct {
	channel string
	url     string
	token   string
}

func (p webhookProvider) Send(ctx context.Context, message, recipient string) error {
	payload := map[string]string{
		"channel":   p.channel,
		"recipient": recipient,
		"message":   message,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.New("provider rejected request")
	}
	return nil
}

type telegramProvider struct {
	bot *bot.Bot
}

func newTelegramProvider(token string) (Provider, error) {
	if token == "" {
		return nil, errors.New("missing telegram token")
	}
	b, err := bot.New(token)
	if err != nil {
		return nil, err
	}
	return telegramProvider{bot: b}, nil
}

func (p telegramProvider) Send(ctx context.Context, message, recipient string) error {
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return errors.New("telegram recipient must be a chat id")
	}
	_, err = p.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   message,
	})
	return err
}
