// Package notify is the execution core's operator-notification sink: a
// thin tgbotapi send/sendMarkdown wrapper pointed at order-lifecycle and
// strategy-gating events.
package notify

import (
	"fmt"
	"os"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polybot/internal/money"
)

// Telegram is the execution core's operator-notification sink.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram builds a sink from TELEGRAM_BOT_TOKEN / TELEGRAM_CHAT_ID.
// Returns (nil, nil) when unset so the router can run without one.
func NewTelegram() (*Telegram, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	chatIDStr := os.Getenv("TELEGRAM_CHAT_ID")
	if token == "" || chatIDStr == "" {
		return nil, nil
	}
	chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	log.Info().Str("username", api.Self.UserName).Msg("execution core notify sink initialized")
	return &Telegram{api: api, chatID: chatID}, nil
}

// NotifyReject alerts on a synthesized or venue-reported rejection.
func (t *Telegram) NotifyReject(u money.UpdateOrder) {
	if t == nil {
		return
	}
	msg := fmt.Sprintf("🛑 *Order Rejected*\n\n📊 %s %s\n📦 Size: *%s*\n📝 %s",
		u.Instrument.String(), u.Side, u.Size.StringFixed(6), u.Reason)
	t.sendMarkdown(msg)
}

// NotifyFill alerts on a fill (partial or full).
func (t *Telegram) NotifyFill(u money.UpdateOrder) {
	if t == nil {
		return
	}
	emoji := "💰"
	if u.Status != money.StatusFilled {
		emoji = "📊"
	}
	msg := fmt.Sprintf("%s *%s*\n\n📊 %s %s\n💵 Price: *%s*\n📦 Filled: *%s*",
		emoji, u.Status.String(), u.Instrument.String(), u.Side,
		u.Price.StringFixed(6), u.FilledSize.StringFixed(6))
	t.sendMarkdown(msg)
}

// NotifyInsufficientBalance alerts on a deduct() failure, which otherwise
// surfaces only as a terse synthetic reject.
func (t *Telegram) NotifyInsufficientBalance(exchange string, cost decimal.Decimal) {
	if t == nil {
		return
	}
	t.sendMarkdown(fmt.Sprintf("⚠️ *Insufficient balance on %s*\n\nRequested reservation: *%s*", exchange, cost.StringFixed(6)))
}

// NotifyStrategyStatus alerts when an operator flips a strategy's gate.
func (t *Telegram) NotifyStrategyStatus(strategyID, status string) {
	if t == nil {
		return
	}
	t.sendMarkdown(fmt.Sprintf("🎛️ Strategy *%s* set to *%s*", strategyID, status))
}

// NotifyError is a catch-all for router/venue errors worth surfacing.
func (t *Telegram) NotifyError(err error) {
	if t == nil {
		return
	}
	t.sendMarkdown(fmt.Sprintf("❌ *Execution core error*\n\n%s", err.Error()))
}

func (t *Telegram) sendMarkdown(text string) {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := t.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("failed to send telegram message")
	}
}
