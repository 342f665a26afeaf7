package metrics

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"ticker-alarm-bot/internal/types"
)

const (
	namespace = "ticker_alarm"
	subsystem = "telegram_bot"
)

// Persister stores counter values between restarts.
type Persister interface {
	SaveMetric(ctx context.Context, metricName, labelKey, labelValue string, value float64) error
	GetMetric(ctx context.Context, metricName string) (float64, error)
	GetMetricsWithLabels(ctx context.Context, metricName string) (map[string]map[string]float64, error)
}

type BotMetrics struct {
	CommandsProcessed  prometheus.Counter
	MessagesHandled    prometheus.Counter
	ChannelsCount      prometheus.Gauge
	MessagesPerChannel *prometheus.CounterVec
	ChannelsSet        map[int64]string

	AlarmsRegistered   prometheus.Counter
	AlarmTicks         prometheus.Counter
	AlarmNotifications prometheus.Counter
	AlarmsRetired      *prometheus.CounterVec
	PriceFetchErrors   prometheus.Counter
	LiveAlarmsGauge    prometheus.Gauge

	Mutex sync.Mutex
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *BotMetrics {
	m := &BotMetrics{
		CommandsProcessed: counter("commands_processed", "The total number of processed commands"),
		MessagesHandled:   counter("messages_handled", "The total number of handled messages"),
		ChannelsCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "channels_count",
			Help:      "The current number of unique channels the bot is operating in",
		}),
		MessagesPerChannel: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "messages_per_channel",
				Help:      "The total number of messages handled per channel",
			},
			[]string{"chat_id", "chat_name"},
		),
		ChannelsSet: make(map[int64]string),

		AlarmsRegistered:   counter("alarms_registered", "The total number of registered alarms"),
		AlarmTicks:         counter("alarm_ticks", "The total number of alarm evaluations"),
		AlarmNotifications: counter("alarm_notifications", "The total number of alarm notifications sent"),
		AlarmsRetired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "alarms_retired",
				Help:      "The total number of retired alarms by reason",
			},
			[]string{"reason"},
		),
		PriceFetchErrors: counter("price_fetch_errors", "The total number of failed price lookups"),
		LiveAlarmsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "live_alarms",
			Help:      "The current number of scheduled alarms",
		}),
	}

	reg.MustRegister(
		m.CommandsProcessed,
		m.MessagesHandled,
		m.ChannelsCount,
		m.MessagesPerChannel,
		m.AlarmsRegistered,
		m.AlarmTicks,
		m.AlarmNotifications,
		m.AlarmsRetired,
		m.PriceFetchErrors,
		m.LiveAlarmsGauge,
	)

	return m
}

func (m *BotMetrics) AlarmRegistered() { m.AlarmsRegistered.Inc() }
func (m *BotMetrics) AlarmTicked() { m.AlarmTicks.Inc() }
func (m *BotMetrics) AlarmNotified() { m.AlarmNotifications.Inc() }
func (m *BotMetrics) PriceFetchFailed() { m.PriceFetchErrors.Inc() }
func (m *BotMetrics) LiveAlarms(n int) { m.LiveAlarmsGauge.Set(float64(n)) }

func (m *BotMetrics) AlarmRetired(reason types.Reason) {
	m.AlarmsRetired.WithLabelValues(reason.String()).Inc()
}

func (m *BotMetrics) CommandProcessed() { m.CommandsProcessed.Inc() }

// MessageHandled counts an incoming command and tracks the chat it came from.
func (m *BotMetrics) MessageHandled(chatID int64, chatName string) {
	m.MessagesHandled.Inc()

	if chatName == "" {
		chatName = fmt.Sprintf("%s-%d", "PrivateChat", chatID)
	}

	m.Mutex.Lock()
	if _, exists := m.ChannelsSet[chatID]; !exists {
		m.ChannelsSet[chatID] = chatName
		m.ChannelsCount.Set(float64(len(m.ChannelsSet)))
	}
	m.Mutex.Unlock()

	m.MessagesPerChannel.WithLabelValues(strconv.FormatInt(chatID, 10), chatName).Inc()
}

var plainCounters = []string{
	"commands_processed",
	"messages_handled",
	"alarms_registered",
	"alarm_ticks",
	"alarm_notifications",
	"price_fetch_errors",
}

func (m *BotMetrics) plainCounter(name string) prometheus.Counter {
	switch name {
	case "commands_processed":
		return m.CommandsProcessed
	case "messages_handled":
		return m.MessagesHandled
	case "alarms_registered":
		return m.AlarmsRegistered
	case "alarm_ticks":
		return m.AlarmTicks
	case "alarm_notifications":
		return m.AlarmNotifications
	case "price_fetch_errors":
		return m.PriceFetchErrors
	}
	return nil
}

// Load adds persisted counter values to the fresh collectors.
func (m *BotMetrics) Load(ctx context.Context, p Persister) error {
	m.Mutex.Lock()
	defer m.Mutex.Unlock()

	var errs error
	for _, name := range plainCounters {
		value, err := p.GetMetric(ctx, name)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		m.plainCounter(name).Add(value)
	}

	errs = multierr.Append(errs, loadLabeledMetrics(ctx, p, "messages_per_channel", func(chatIDStr, chatName string, value float64) {
		chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
		if err != nil {
			log.Warnf("Failed to parse chatID %s: %v", chatIDStr, err)
			return
		}
		m.MessagesPerChannel.WithLabelValues(chatIDStr, chatName).Add(value)
		m.ChannelsSet[chatID] = chatName
	}))
	m.ChannelsCount.Set(float64(len(m.ChannelsSet)))

	errs = multierr.Append(errs, loadLabeledMetrics(ctx, p, "alarms_retired", func(_, reason string, value float64) {
		m.AlarmsRetired.WithLabelValues(reason).Add(value)
	}))

	if errs == nil {
		log.Info("Metrics loaded from database.")
	}
	return errs
}

func loadLabeledMetrics(ctx context.Context, p Persister, metricName string, callback func(labelKey, labelValue string, value float64)) error {
	metricsWithLabels, err := p.GetMetricsWithLabels(ctx, metricName)
	if err != nil {
		return err
	}
	for labelKey, labelValues := range metricsWithLabels {
		for labelValue, value := range labelValues {
			callback(labelKey, labelValue, value)
		}
	}
	return nil
}

// Save writes every counter value. It keeps going past failures and returns them combined.
func (m *BotMetrics) Save(ctx context.Context, p Persister) error {
	m.Mutex.Lock()
	defer m.Mutex.Unlock()

	var errs error
	for _, name := range plainCounters {
		errs = multierr.Append(errs, p.SaveMetric(ctx, name, "", "", GetMetricValue(m.plainCounter(name))))
	}

	for _, metricProto := range collect(m.MessagesPerChannel) {
		chatID, chatName := labelValue(metricProto, "chat_id"), labelValue(metricProto, "chat_name")
		errs = multierr.Append(errs, p.SaveMetric(ctx, "messages_per_channel", chatID, chatName, metricProto.GetCounter().GetValue()))
	}

	for _, metricProto := range collect(m.AlarmsRetired) {
		reason := labelValue(metricProto, "reason")
		errs = multierr.Append(errs, p.SaveMetric(ctx, "alarms_retired", "reason", reason, metricProto.GetCounter().GetValue()))
	}

	if errs == nil {
		log.Info("Metrics saved to database.")
	}
	return errs
}

func collect(c prometheus.Collector) []*dto.Metric {
	metricChan := make(chan prometheus.Metric, 1)
	go func() {
		c.Collect(metricChan)
		close(metricChan)
	}()

	var out []*dto.Metric
	for metric := range metricChan {
		metricProto := &dto.Metric{}
		if err := metric.Write(metricProto); err != nil {
			log.Warnf("Failed to read metric: %v", err)
			continue
		}
		out = append(out, metricProto)
	}
	return out
}

func labelValue(metricProto *dto.Metric, name string) string {
	for _, label := range metricProto.GetLabel() {
		if label.GetName() == name {
			return label.GetValue()
		}
	}
	return ""
}

// GetMetricValue reads the current value of a single counter or gauge.
func GetMetricValue(metric prometheus.Collector) float64 {
	metrics := collect(metric)
	if len(metrics) == 0 {
		return 0
	}

	metricProto := metrics[0]
	if metricProto.Counter != nil {
		return metricProto.Counter.GetValue()
	} else if metricProto.Gauge != nil {
		return metricProto.Gauge.GetValue()
	}
	return 0
}
