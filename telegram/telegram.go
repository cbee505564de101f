// Package telegram connects the tracker to the Telegram Bot API: it delivers
// chapter announcements and exposes the operator command surface.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"mangadex-notifier/pkg/tracker"
	"mangadex-notifier/registry"
)

// Registry is the slice of tracking operations the command surface needs.
type Registry interface {
	SetAnnounceChat(ctx context.Context, communityID string, chatID int64)
	AnnounceChat(communityID string) int64
	Track(ctx context.Context, communityID, seriesID, name, alertTag string) error
	Untrack(ctx context.Context, communityID, seriesID string) (tracker.Series, error)
	List(communityID string) []registry.Entry
	First(communityID string) (registry.Entry, bool)
}

// Config holds bot construction parameters.
type Config struct {
	Registry  Registry
	Logger    *slog.Logger
	Token     string
	Operators []int64 // user IDs allowed to run commands in any chat
}

// Bot wraps a telebot long-poll connection.
type Bot struct {
	bot       *tele.Bot
	registry  Registry
	logger    *slog.Logger
	limiter   *rate.Limiter
	operators map[int64]bool

	// ctx is the lifetime context handed to Run; command handlers use it
	// for registry persistence.
	ctx context.Context
}

// New creates the bot and verifies the token against the API. Readiness for
// delivery is implied by a successful return.
func New(cfg Config) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is empty")
	}

	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	operators := make(map[int64]bool, len(cfg.Operators))
	for _, id := range cfg.Operators {
		operators[id] = true
	}

	bot := &Bot{
		bot:       b,
		registry:  cfg.Registry,
		logger:    cfg.Logger,
		operators: operators,
		// Best-effort pacing for sequential announcements; Telegram
		// throttles bots that burst.
		limiter: rate.NewLimiter(rate.Limit(5), 5),
		ctx:     context.Background(),
	}
	bot.registerHandlers()
	return bot, nil
}

// Run starts the long-poll loop and blocks until the context is cancelled.
func (b *Bot) Run(ctx context.Context) {
	b.ctx = ctx
	go func() {
		<-ctx.Done()
		b.bot.Stop()
	}()

	b.logger.Info("Telegram polling started", "bot", b.bot.Me.Username)
	b.bot.Start()
	b.logger.Info("Telegram polling stopped")
}

// Announce delivers one chapter announcement to a chat.
func (b *Bot) Announce(ctx context.Context, chatID int64, series tracker.Series, ch tracker.Chapter) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	_, err := b.bot.Send(
		&tele.Chat{ID: chatID},
		renderRelease(series, ch),
		&tele.SendOptions{DisableWebPagePreview: true},
	)
	if err != nil {
		return fmt.Errorf("send announcement: %w", err)
	}

	b.logger.Info("Chapter announced",
		"chat_id", chatID,
		"series", series.Name,
		"chapter", ch.Number,
		"published_at", ch.PublishedAt.Format(time.RFC3339))
	return nil
}

// IsPermissionDenied reports whether a delivery error means the bot lacks
// access to the chat (kicked, not a member, or missing send rights) rather
// than a transient failure.
func IsPermissionDenied(err error) bool {
	var apiErr *tele.Error
	return errors.As(err, &apiErr) && apiErr.Code == 403
}
