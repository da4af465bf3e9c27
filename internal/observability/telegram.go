package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/go-telegram/bot"
	"github.com/sirupsen/logrus"

	"github.com/dexarb/dexarb-go/internal/models"
)

// TelegramSink pushes high-signal events to an operator chat: confirmed
// trades, breaker transitions out of closed, and emergency stops. Routine
// events stay out of the chat.
type TelegramSink struct {
	bot    *bot.Bot
	chatID int64
	logger *logrus.Logger
}

// NewTelegramSink creates the notifier. Returns an error if the token is
// rejected.
func NewTelegramSink(token string, chatID int64, logger *logrus.Logger) (*TelegramSink, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}
	return &TelegramSink{bot: b, chatID: chatID, logger: logger}, nil
}

func (s *TelegramSink) send(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: s.chatID,
		Text:   text,
	})
	if err != nil {
		s.logger.WithError(err).Debug("Telegram notification failed")
	}
}

func (s *TelegramSink) OpportunityDetected(_ *models.Opportunity) {}

func (s *TelegramSink) PlanRejected(_, _, _ string) {}

func (s *TelegramSink) TradeCompleted(res models.TradeResult) {
	if !res.Outcome.Success() {
		return
	}
	s.send(fmt.Sprintf("✅ Trade confirmed\nplan %s\nprofit %s %s\nattempts %d",
		res.PlanID, res.RealizedProfit.String(), res.InputAsset, res.Attempts))
}

func (s *TelegramSink) BreakerChanged(tier, from, to string) {
	if to == "closed" {
		s.send(fmt.Sprintf("🟢 %s breaker recovered (%s → %s)", tier, from, to))
		return
	}
	s.send(fmt.Sprintf("🔴 %s breaker %s (was %s), trading on this tier is paused", tier, to, from))
}

func (s *TelegramSink) EmergencyStop(reason string) {
	s.send(fmt.Sprintf("🛑 EMERGENCY STOP: %s", reason))
}

var _ EventSink = (*TelegramSink)(nil)
