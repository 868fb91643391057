package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"
)

// Telegram delivers notifications through the Telegram bot API.
// Sends run in their own goroutine so callers never block on the network.
type Telegram struct {
	bot *tele.Bot
}

// NewTelegram creates a Telegram notifier with the given bot token.
func NewTelegram(token string) (*Telegram, error) {
	if token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	// Send-only: no poller, the notifier never receives updates.
	bot, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &Telegram{bot: bot}, nil
}

// Notify sends text to the user's chat. Failures are logged, never returned.
func (t *Telegram) Notify(_ context.Context, userID int64, text string) {
	go func() {
		if _, err := t.bot.Send(&tele.User{ID: userID}, text); err != nil {
			log.Warn().Err(err).Int64("user_id", userID).Msg("Failed to deliver notification")
		}
	}()
}
