// Package observability fans engine events out to logs, redis pub/sub and
// operator notifications.
package observability

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/dexarb/dexarb-go/internal/models"
)

// EventSink receives engine lifecycle events. Sinks must not block the
// hot path; slow consumers drop rather than stall.
type EventSink interface {
	OpportunityDetected(opp *models.Opportunity)
	PlanRejected(opportunityID, reason, detail string)
	TradeCompleted(res models.TradeResult)
	BreakerChanged(tier, from, to string)
	EmergencyStop(reason string)
}

// LogSink writes every event as a structured log line.
type LogSink struct {
	logger *logrus.Logger
}

func NewLogSink(logger *logrus.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) OpportunityDetected(opp *models.Opportunity) {
	s.logger.WithFields(logrus.Fields{
		"opportunity_id": opp.ID,
		"cycle":          opp.Cycle.String(),
		"net_profit":     opp.NetProfit.String(),
		"net_profit_pct": opp.NetProfitPct.String(),
		"confidence":     opp.Confidence,
	}).Info("Opportunity detected")
}

func (s *LogSink) PlanRejected(opportunityID, reason, detail string) {
	s.logger.WithFields(logrus.Fields{
		"opportunity_id": opportunityID,
		"reason":         reason,
		"detail":         detail,
	}).Info("Plan rejected")
}

func (s *LogSink) TradeCompleted(res models.TradeResult) {
	fields := logrus.Fields{
		"plan_id":  res.PlanID,
		"outcome":  string(res.Outcome),
		"attempts": res.Attempts,
	}
	if res.Outcome.Success() {
		fields["realized_profit"] = res.RealizedProfit.String()
		s.logger.WithFields(fields).Info("Trade completed")
	} else {
		fields["error"] = res.Error
		s.logger.WithFields(fields).Warn("Trade completed")
	}
}

func (s *LogSink) BreakerChanged(tier, from, to string) {
	s.logger.WithFields(logrus.Fields{
		"tier": tier,
		"from": from,
		"to":   to,
	}).Warn("Circuit breaker state changed")
}

func (s *LogSink) EmergencyStop(reason string) {
	s.logger.WithField("reason", reason).Error("Emergency stop engaged")
}

var _ EventSink = (*LogSink)(nil)

// RedisSink publishes events to redis channels for external consumers.
type RedisSink struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRedisSink(client *redis.Client, logger *logrus.Logger) *RedisSink {
	return &RedisSink{client: client, logger: logger}
}

const (
	channelOpportunities = "dexarb:events:opportunities"
	channelTrades        = "dexarb:events:trades"
	channelBreakers      = "dexarb:events:breakers"
)

func (s *RedisSink) publish(channel string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.client.Publish(ctx, channel, data).Err(); err != nil {
		s.logger.WithError(err).WithField("channel", channel).Debug("Event publish failed")
	}
}

func (s *RedisSink) OpportunityDetected(opp *models.Opportunity) {
	s.publish(channelOpportunities, opp)
}

func (s *RedisSink) PlanRejected(opportunityID, reason, detail string) {
	s.publish(channelTrades, map[string]string{
		"event":          "plan_rejected",
		"opportunity_id": opportunityID,
		"reason":         reason,
		"detail":         detail,
	})
}

func (s *RedisSink) TradeCompleted(res models.TradeResult) {
	s.publish(channelTrades, res)
}

func (s *RedisSink) BreakerChanged(tier, from, to string) {
	s.publish(channelBreakers, map[string]string{
		"event": "breaker_changed",
		"tier":  tier,
		"from":  from,
		"to":    to,
	})
}

func (s *RedisSink) EmergencyStop(reason string) {
	s.publish(channelBreakers, map[string]string{
		"event":  "emergency_stop",
		"reason": reason,
	})
}

var _ EventSink = (*RedisSink)(nil)

// MultiSink fans each event out to every wrapped sink in order.
type MultiSink struct {
	sinks []EventSink
}

func NewMultiSink(sinks ...EventSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) OpportunityDetected(opp *models.Opportunity) {
	for _, s := range m.sinks {
		s.OpportunityDetected(opp)
	}
}

func (m *MultiSink) PlanRejected(opportunityID, reason, detail string) {
	for _, s := range m.sinks {
		s.PlanRejected(opportunityID, reason, detail)
	}
}

func (m *MultiSink) TradeCompleted(res models.TradeResult) {
	for _, s := range m.sinks {
		s.TradeCompleted(res)
	}
}

func (m *MultiSink) BreakerChanged(tier, from, to string) {
	for _, s := range m.sinks {
		s.BreakerChanged(tier, from, to)
	}
}

func (m *MultiSink) EmergencyStop(reason string) {
	for _, s := range m.sinks {
		s.EmergencyStop(reason)
	}
}

var _ EventSink = (*MultiSink)(nil)
