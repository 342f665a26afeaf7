package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ticker-alarm-bot/internal/types"
)

const parseModeMarkdownV2 = "MarkdownV2"

// BotConfig configuration of the bot
type BotConfig struct {
	Token          string
	Debug          bool
	UpdatesTimeout int
	RepoLink       string
}

// API is the part of tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// AlarmService registers and removes alarms on behalf of a chat.
type AlarmService interface {
	Register(ctx context.Context, ownerID int64, requestID int, req types.Request) (types.Alarm, error)
	Unset(ctx context.Context, ownerID int64, id string) (types.Alarm, error)
	UnsetAll(ctx context.Context, ownerID int64) (int, error)
	List(ctx context.Context, ownerID int64) []types.Alarm
}

// PriceQuerier answers /price and /prices with MarkdownV2 text.
type PriceQuerier interface {
	CommandPrice(ctx context.Context, ownerID int64, argument string) (string, error)
	CommandPrices(ctx context.Context, ownerID int64, arguments []string) (string, error)
}

// Metrics counts handled traffic.
type Metrics interface {
	MessageHandled(chatID int64, chatName string)
	CommandProcessed()
}

// Bot telegram interaction client
type Bot struct {
	API    API
	Config BotConfig

	alarms  AlarmService
	prices  PriceQuerier
	metrics Metrics
}

// Message a telegram message struct
type Message struct {
	ChatID    int64
	MessageID int
	Text      string
	// ParseMode defaults to MarkdownV2.
	ParseMode string
}
