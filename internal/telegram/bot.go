package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"ticker-alarm-bot/internal/alarm"
	"ticker-alarm-bot/internal/types"
	"ticker-alarm-bot/lib/helpers"
	"ticker-alarm-bot/lib/translation"
)

// NewBot creates new telegram bot
func NewBot(c BotConfig) (*Bot, error) {
	bot, err := tgbotapi.NewBotAPI(c.Token)
	if err != nil {
		return nil, errors.Wrap(err, "could not create telegram bot")
	}

	bot.Debug = c.Debug

	return NewBotWithAPI(bot, c), nil
}

func NewBotWithAPI(api API, c BotConfig) *Bot {
	return &Bot{API: api, Config: c}
}

// Attach wires the services commands are dispatched to. The bot is built
// before them because the alarm scheduler notifies through it.
func (b *Bot) Attach(alarms AlarmService, prices PriceQuerier, metrics Metrics) {
	b.alarms = alarms
	b.prices = prices
	b.metrics = metrics
}

// GetUpdatesChannel gets new updates updates
func (b *Bot) GetUpdatesChannel() tgbotapi.UpdatesChannel {
	updatesConfig := tgbotapi.NewUpdate(0)
	if b.Config.UpdatesTimeout > 0 {
		updatesConfig.Timeout = b.Config.UpdatesTimeout
	}
	return b.API.GetUpdatesChan(updatesConfig)
}

func (b *Bot) StopReceivingUpdates() {
	b.API.StopReceivingUpdates()
}

// SendMessage sends a telegram message
func (b *Bot) SendMessage(m Message) error {
	msg := tgbotapi.NewMessage(m.ChatID, m.Text)
	msg.ReplyToMessageID = m.MessageID
	msg.DisableWebPagePreview = true
	msg.ParseMode = m.ParseMode
	if msg.ParseMode == "" {
		msg.ParseMode = parseModeMarkdownV2
	}
	_, err := b.API.Send(msg)
	return errors.Wrapf(err, "could not send message to chat %d", m.ChatID)
}

// Notify delivers a plain text alarm message to the owning chat. Failures are
// logged here and returned for the caller's information only.
func (b *Bot) Notify(ctx context.Context, ownerID int64, text string) error {
	done := make(chan error, 1)
	go func() {
		done <- b.SendMessage(Message{ChatID: ownerID, Text: helpers.EscapeMarkdownV2(text)})
	}()

	var err error
	select {
	case <-ctx.Done():
		err = errors.Wrapf(ctx.Err(), "notify chat %d", ownerID)
	case err = <-done:
	}
	if err != nil {
		log.Errorf("Failed to notify chat %d: %v", ownerID, err)
	}
	return err
}

func helpText() string {
	return helpers.EscapeMarkdownV2(translation.Translate(
		"ticker alarm bot\n\n" +
			"/set <ticker> <'<'|'>'> <target> [once|repeat] [description] - set an alarm\n" +
			"/unset <alarm_id> - unset an alarm\n" +
			"/unset_all - unset all alarms\n" +
			"/list - list alarms\n" +
			"/price <ticker> - current price\n" +
			"/prices <ticker> [ticker...] - price table\n" +
			"/about - source code"))
}

func usageText(usage string) string {
	return helpers.EscapeMarkdownV2(translation.Translate("usage: %s", usage))
}

// HandleUpdate processes a Telegram command and returns the MarkdownV2 reply.
func (b *Bot) HandleUpdate(ctx context.Context, u tgbotapi.Update) string {
	text := helpText()
	log.Debugf("received command: %s", u.Message.Command())

	ownerID := u.Message.Chat.ID
	args := strings.Fields(u.Message.CommandArguments())

	switch u.Message.Command() {
	case "start", "help":
	case "about":
		text = helpers.EscapeMarkdownV2(b.Config.RepoLink)
	case "set":
		text = b.handleSet(ctx, ownerID, u.Message.MessageID, args)
	case "unset":
		text = b.handleUnset(ctx, ownerID, args)
	case "unset_all":
		text = b.handleUnsetAll(ctx, ownerID)
	case "list":
		text = helpers.EscapeMarkdownV2(alarm.ListText(b.alarms.List(ctx, ownerID)))
	case "price":
		if len(args) != 1 {
			return usageText("/price <ticker>")
		}
		var err error
		if text, err = b.prices.CommandPrice(ctx, ownerID, args[0]); err != nil {
			text = helpers.EscapeMarkdownV2(translation.Translate("price cannot be retrieved for ticker %s", strings.ToUpper(args[0])))
			log.Error(err)
		}
	case "prices":
		if len(args) == 0 {
			return usageText("/prices <ticker> [ticker...]")
		}
		var err error
		if text, err = b.prices.CommandPrices(ctx, ownerID, args); err != nil {
			text = helpers.EscapeMarkdownV2(err.Error())
			log.Error(err)
		}
	}

	return text
}

func (b *Bot) handleSet(ctx context.Context, ownerID int64, requestID int, args []string) string {
	if len(args) < 3 {
		return usageText("/set <ticker> <'<'|'>'> <target> [once|repeat] [description]")
	}

	req, err := types.ParseRequest(args)
	if err != nil {
		return helpers.EscapeMarkdownV2(err.Error())
	}

	a, err := b.alarms.Register(ctx, ownerID, requestID, req)
	if err != nil {
		var validationErr *types.ValidationError
		var duplicateErr *types.DuplicateAlarmError
		switch {
		case errors.As(err, &validationErr), errors.As(err, &duplicateErr):
			return helpers.EscapeMarkdownV2(err.Error())
		}
		log.Errorf("Failed to set alarm for chat %d: %v", ownerID, err)
		return helpers.EscapeMarkdownV2(translation.Translate("alarm could not be set, please try again later"))
	}

	return helpers.EscapeMarkdownV2(alarm.SetText(a))
}

func (b *Bot) handleUnset(ctx context.Context, ownerID int64, args []string) string {
	if len(args) != 1 {
		return usageText("/unset <alarm_id>")
	}

	a, err := b.alarms.Unset(ctx, ownerID, args[0])
	if errors.Is(err, types.ErrNotFound) {
		return helpers.EscapeMarkdownV2(alarm.NotFoundText(args[0]))
	} else if err != nil {
		log.Errorf("Failed to unset alarm %s: %v", args[0], err)
		return helpers.EscapeMarkdownV2(err.Error())
	}

	return helpers.EscapeMarkdownV2(alarm.UnsetText(a))
}

func (b *Bot) handleUnsetAll(ctx context.Context, ownerID int64) string {
	n, err := b.alarms.UnsetAll(ctx, ownerID)
	if errors.Is(err, types.ErrNothingToUnset) {
		return helpers.EscapeMarkdownV2(alarm.NothingToUnsetText())
	} else if err != nil {
		log.Errorf("Failed to unset alarms of chat %d: %v", ownerID, err)
		return helpers.EscapeMarkdownV2(fmt.Sprintf("%s: %v", alarm.UnsetAllText(n), err))
	}

	return helpers.EscapeMarkdownV2(alarm.UnsetAllText(n))
}
