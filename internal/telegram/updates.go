package telegram

import (
	"bytes"
	"context"
	"runtime"

	"github.com/davecgh/go-spew/spew"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
)

// HandleUpdates answers commands until updates is closed or ctx is done.
func (b *Bot) HandleUpdates(ctx context.Context, updates <-chan tgbotapi.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handle(ctx, update)
		}
	}
}

func (b *Bot) handle(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil {
		if log.IsLevelEnabled(log.DebugLevel) {
			log.Debugf("Received non-message update:\n%s", spew.Sdump(update))
		}
		return
	}

	if !update.Message.IsCommand() || update.Message.Chat == nil {
		return
	}

	if b.metrics != nil {
		b.metrics.MessageHandled(update.Message.Chat.ID, update.Message.Chat.Title)
	}

	b.handleCommand(ctx, update)
}

func (b *Bot) handleCommand(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			stackBuf := make([]byte, 1024)
			stackSize := runtime.Stack(stackBuf, false)
			stackTrace := bytes.TrimRight(stackBuf[:stackSize], "\x00")
			log.Errorf("Recovered from panic: %v\nStack trace: %s", r, stackTrace)
		}
	}()

	err := b.SendMessage(Message{
		ChatID:    update.Message.Chat.ID,
		Text:      b.HandleUpdate(ctx, update),
		MessageID: update.Message.MessageID,
	})

	if err != nil {
		log.Errorf("Failed to send message: %v", err)
	} else if b.metrics != nil {
		b.metrics.CommandProcessed()
	}
}
