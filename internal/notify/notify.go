package notify

import (
	"context"
	"fmt"
	"log/slog"

	"reminder-assistant/internal/config"
)

// Notifier delivers messages to the single configured recipient.
type Notifier interface {
	// Notify sends a chat message.
	Notify(ctx context.Context, text string) error
	// PlaceCall starts a voice call that speaks the given text.
	PlaceCall(ctx context.Context, spoken string) error
}

// FromConfig builds the notifier selected by cfg.Notifier.
func FromConfig(cfg config.Config, logger *slog.Logger) (Notifier, error) {
	switch cfg.Notifier {
	case "twilio":
		return NewTwilio(TwilioOptions{
			BaseURL:    cfg.TwilioBaseURL,
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			FromChat:   cfg.TwilioFromChat,
			FromPhone:  cfg.TwilioFromPhone,
			ToChat:     cfg.UserChatAddress,
			ToPhone:    cfg.UserPhoneNumber,
			RatePerSec: cfg.NotifyRatePerSec,
			Timeout:    cfg.NotifyHTTPTimeout,
		}, logger), nil
	case "log", "":
		return NewLog(logger), nil
	}
	return nil, fmt.Errorf("unknown notifier %q", cfg.Notifier)
}

// Log writes outbound messages to the logger instead of delivering them.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("component", "notifier")}
}

func (l *Log) Notify(ctx context.Context, text string) error {
	l.logger.InfoContext(ctx, "notify", "channel", "chat", "text", text)
	return nil
}

func (l *Log) PlaceCall(ctx context.Context, spoken string) error {
	l.logger.InfoContext(ctx, "notify", "channel", "call", "spoken", spoken)
	return nil
}
