package telegram

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"mangadex-notifier/pkg/tracker"
	"mangadex-notifier/registry"
)

func (b *Bot) registerHandlers() {
	b.bot.Handle("/setannounce", b.guard(b.handleSetAnnounce))
	b.bot.Handle("/track", b.guard(b.handleTrack))
	b.bot.Handle("/untrack", b.guard(b.handleUntrack))
	b.bot.Handle("/tracked", b.guard(b.handleTracked))
	b.bot.Handle("/testrelease", b.guard(b.handleTestRelease))
}

// guard wraps a command handler with the permission check: chat owners and
// administrators, plus configured operators, may manage tracking.
func (b *Bot) guard(next func(tele.Context) error) func(tele.Context) error {
	return func(c tele.Context) error {
		if !b.authorized(c) {
			return c.Send("You don't have permission to use this command.")
		}
		return next(c)
	}
}

func (b *Bot) authorized(c tele.Context) bool {
	sender := c.Sender()
	if sender == nil {
		return false
	}
	if b.operators[sender.ID] {
		return true
	}

	chat := c.Chat()
	if chat == nil || chat.Type == tele.ChatPrivate {
		// Private chats have no admin hierarchy; only operators qualify.
		return false
	}

	member, err := b.bot.ChatMemberOf(chat, sender)
	if err != nil {
		b.logger.Warn("Failed to resolve chat member", "chat_id", chat.ID, "user_id", sender.ID, "error", err)
		return false
	}
	return member.Role == tele.Creator || member.Role == tele.Administrator
}

// communityID derives the stable community key from the chat the command was
// issued in.
func communityID(c tele.Context) string {
	return strconv.FormatInt(c.Chat().ID, 10)
}

// handleSetAnnounce binds the community's announce chat. Without arguments
// the current chat becomes the destination; otherwise the argument is a chat
// @username or numeric ID to resolve.
func (b *Bot) handleSetAnnounce(c tele.Context) error {
	args := c.Args()

	target := c.Chat()
	if len(args) > 0 {
		resolved, err := b.resolveChat(args[0])
		if err != nil {
			return c.Send(fmt.Sprintf("I couldn't find the chat %q. Check the name and my membership there.", args[0]))
		}
		target = resolved
	}

	b.registry.SetAnnounceChat(b.ctx, communityID(c), target.ID)
	return c.Send(fmt.Sprintf("Announcement chat set to %s.", chatLabel(target)))
}

// resolveChat turns a raw @username or numeric ID into a chat reference.
func (b *Bot) resolveChat(raw string) (*tele.Chat, error) {
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return b.bot.ChatByID(id)
	}
	return b.bot.ChatByUsername(raw)
}

func chatLabel(chat *tele.Chat) string {
	if chat.Username != "" {
		return "@" + chat.Username
	}
	if chat.Title != "" {
		return chat.Title
	}
	return strconv.FormatInt(chat.ID, 10)
}

// handleTrack registers a series:
//
//	/track <mangadex_id_or_url> [@alert_tag] <name...>
func (b *Bot) handleTrack(c tele.Context) error {
	args := c.Args()
	if len(args) < 2 {
		return c.Send("Usage: /track <mangadex_id_or_url> [@alert_tag] <name>")
	}

	seriesID := ExtractSeriesID(args[0])
	alertTag, name := splitTagAndName(args[1:])
	if name == "" {
		return c.Send("Usage: /track <mangadex_id_or_url> [@alert_tag] <name>")
	}

	community := communityID(c)
	if err := b.registry.Track(b.ctx, community, seriesID, name, alertTag); err != nil {
		if errors.Is(err, registry.ErrAlreadyTracked) {
			existing := b.lookup(community, seriesID)
			return c.Send(fmt.Sprintf("Already tracking %s as %s.", seriesID, existing))
		}
		return fmt.Errorf("track series: %w", err)
	}

	reply := fmt.Sprintf("Now tracking %s (MangaDex ID: %s).", name, seriesID)
	if alertTag != "" {
		reply = fmt.Sprintf("Now tracking %s (MangaDex ID: %s), alerting %s.", name, seriesID, alertTag)
	}
	return c.Send(reply)
}

// splitTagAndName separates an optional leading @tag from the display name.
func splitTagAndName(args []string) (tag, name string) {
	if len(args) >= 2 && strings.HasPrefix(args[0], "@") {
		return args[0], strings.Join(args[1:], " ")
	}
	return "", strings.Join(args, " ")
}

func (b *Bot) lookup(community, seriesID string) string {
	for _, entry := range b.registry.List(community) {
		if entry.ID == seriesID {
			return entry.Series.Name
		}
	}
	return "an unnamed series"
}

func (b *Bot) handleUntrack(c tele.Context) error {
	args := c.Args()
	if len(args) < 1 {
		return c.Send("Usage: /untrack <mangadex_id_or_url>")
	}

	seriesID := ExtractSeriesID(args[0])
	removed, err := b.registry.Untrack(b.ctx, communityID(c), seriesID)
	if err != nil {
		if errors.Is(err, registry.ErrNotTracked) {
			return c.Send(fmt.Sprintf("Series %s is not currently being tracked.", seriesID))
		}
		return fmt.Errorf("untrack series: %w", err)
	}
	return c.Send(fmt.Sprintf("Stopped tracking %s (ID: %s).", removed.Name, seriesID))
}

func (b *Bot) handleTracked(c tele.Context) error {
	entries := b.registry.List(communityID(c))
	if len(entries) == 0 {
		return c.Send("No series are currently being tracked.")
	}

	var sb strings.Builder
	sb.WriteString("Tracked series:\n")
	for _, entry := range entries {
		lastSeen := "none yet"
		if entry.Series.LastSeenAt != nil {
			lastSeen = entry.Series.LastSeenAt.Format(time.RFC3339)
		}
		tag := entry.Series.AlertTag
		if tag == "" {
			tag = "no tag"
		}
		fmt.Fprintf(&sb, "- %s (ID: %s, tag: %s, last seen: %s)\n", entry.Series.Name, entry.ID, tag, lastSeen)
	}
	return c.Send(strings.TrimRight(sb.String(), "\n"))
}

// handleTestRelease sends a synthetic announcement for the first tracked
// series so operators can verify the wiring end to end.
func (b *Bot) handleTestRelease(c tele.Context) error {
	community := communityID(c)

	chatID := b.registry.AnnounceChat(community)
	if chatID == 0 {
		return c.Send("Announcement chat is not set. Use /setannounce first.")
	}

	entry, ok := b.registry.First(community)
	if !ok {
		return c.Send("No series are currently being tracked. Use /track first.")
	}

	ch := tracker.Chapter{
		ID:          "test",
		Number:      "1 (test)",
		PublishedAt: time.Now().UTC(),
		URL:         "https://example.com",
	}
	if err := b.Announce(b.ctx, chatID, entry.Series, ch); err != nil {
		if IsPermissionDenied(err) {
			return c.Send("I don't have permission to send messages in the announcement chat.")
		}
		return c.Send(fmt.Sprintf("Failed to send test message: %v", err))
	}
	return c.Send(fmt.Sprintf("Sent a test release message for %s.", entry.Series.Name))
}

// ExtractSeriesID accepts either a raw MangaDex series ID or a full title URL
// and returns the ID.
//
//	a1b2c3d4-...                                  -> unchanged
//	https://mangadex.org/title/a1b2c3d4-.../name  -> a1b2c3d4-...
func ExtractSeriesID(raw string) string {
	if !strings.Contains(raw, "mangadex.org") {
		return raw
	}
	for _, part := range strings.Split(strings.Trim(raw, "/"), "/") {
		if strings.Contains(part, "-") && len(part) >= 8 {
			return part
		}
	}
	return raw
}
