// Package mqtt publishes controller status and diagnostics to an MQTT broker
// and feeds smart-mode telemetry received from the broker into the controller.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	hwcerrors "hwc-server/internal/errors"
	"hwc-server/internal/logger"
	"hwc-server/internal/metrics"
	"hwc-server/internal/model"
)

const (
	defaultKeepAlive  = 60
	defaultRetryDelay = 5000 * time.Millisecond
	publishTimeout    = 5 * time.Second
)

// Config contains the broker settings
type Config struct {
	Broker      string
	Port        int
	Username    string
	Password    string
	ClientID    string
	KeepAlive   int // seconds
	RetryDelay  int // milliseconds between connection attempts
	TopicPrefix string
}

// SmartValuesSink receives telemetry decoded from the broker
type SmartValuesSink interface {
	SetSmartModeValues(v *model.SmartModeValues) error
}

// client is the subset of paho.Client used by the publisher
type client interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// Publisher owns the broker connection
type Publisher struct {
	client  client
	cfg     Config
	topics  *TopicFactory
	sink    SmartValuesSink
	metrics metrics.MetricsCollector
	log     logger.ILogger

	mu         sync.Mutex
	lastStatus model.ControllerMode
}

// NewPublisher creates a publisher; sink may be nil when telemetry is not
// taken from MQTT.
func NewPublisher(cfg Config, sink SmartValuesSink, collector metrics.MetricsCollector, log logger.ILogger) *Publisher {
	p := newPublisher(cfg, sink, collector, log)

	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(clientID(cfg.ClientID))
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)

	keepAlive := cfg.KeepAlive
	if keepAlive == 0 {
		keepAlive = defaultKeepAlive
	}
	opts.SetKeepAlive(time.Duration(keepAlive) * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// broker marks us offline on an unclean disconnect
	opts.SetWill(p.topics.Status(), PayloadOffline, 1, true)

	opts.SetOnConnectHandler(func(paho.Client) { p.onConnect() })
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		p.log.LogError("MQTT connection lost: %v", err)
	})

	p.client = paho.NewClient(opts)
	return p
}

func newPublisher(cfg Config, sink SmartValuesSink, collector metrics.MetricsCollector, log logger.ILogger) *Publisher {
	if log == nil {
		log = logger.NewComponentLogger("mqtt")
	}
	if collector == nil {
		collector = metrics.NewNullMetrics()
	}
	return &Publisher{
		cfg:     cfg,
		topics:  NewTopicFactory(cfg.TopicPrefix),
		sink:    sink,
		metrics: collector,
		log:     log,
	}
}

func clientID(base string) string {
	if base == "" {
		base = "hwc-server"
	}
	return base + "-" + uuid.NewString()[:8]
}

// SetSink sets the receiver of smart mode values; call before Connect
func (p *Publisher) SetSink(sink SmartValuesSink) {
	p.sink = sink
}

// Topics returns the topic factory in use
func (p *Publisher) Topics() *TopicFactory {
	return p.topics
}

func (p *Publisher) onConnect() {
	p.log.LogInfo("Connected to MQTT broker %s:%d", p.cfg.Broker, p.cfg.Port)
	if token := p.client.Publish(p.topics.Status(), 1, true, PayloadOnline); token.Wait() && token.Error() != nil {
		p.log.LogWarn("Error publishing online status on connect: %v", token.Error())
	}
	if p.sink == nil {
		return
	}
	if token := p.client.Subscribe(p.topics.SmartModeValues(), 1, p.handleSmartModeValues); token.Wait() && token.Error() != nil {
		p.log.LogError("Subscribe to %s failed: %v", p.topics.SmartModeValues(), token.Error())
	}
}

// Connect connects to the broker, retrying until it succeeds or ctx ends
func (p *Publisher) Connect(ctx context.Context) error {
	retryDelay := time.Duration(p.cfg.RetryDelay) * time.Millisecond
	if retryDelay == 0 {
		retryDelay = defaultRetryDelay
	}

	for attempt := 1; ; attempt++ {
		logger.LogDebug("🔄 Connecting to MQTT broker (attempt %d)...", attempt)

		token := p.client.Connect()
		if token.Wait() && token.Error() == nil && p.waitConnected(ctx) {
			p.log.LogInfo("✅ MQTT connected after %d attempts", attempt)
			return nil
		}
		if err := token.Error(); err != nil {
			p.log.LogError("❌ MQTT connection failed (attempt %d): %v", attempt, err)
		}
		p.log.LogInfo("⏳ Retrying in %.0f seconds...", retryDelay.Seconds())

		select {
		case <-ctx.Done():
			return hwcerrors.NewMQTTError("connect", ctx.Err(), p.cfg.Broker)
		case <-time.After(retryDelay):
		}
	}
}

func (p *Publisher) waitConnected(ctx context.Context) bool {
	for i := 0; i < 50; i++ {
		if p.client.IsConnected() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
	return false
}

// Disconnect publishes offline and closes the connection
func (p *Publisher) Disconnect() {
	if !p.client.IsConnected() {
		return
	}
	if token := p.client.Publish(p.topics.Status(), 1, true, PayloadOffline); !token.WaitTimeout(publishTimeout) || token.Error() != nil {
		p.log.LogWarn("Error publishing offline status")
	}
	p.client.Disconnect(250)
}

func (p *Publisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnected() {
		p.metrics.IncrementMQTTErrors()
		return hwcerrors.NewMQTTError("publish "+topic, hwcerrors.ErrNotReady, p.cfg.Broker)
	}
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		p.metrics.IncrementMQTTErrors()
		return hwcerrors.NewMQTTError("publish "+topic, hwcerrors.ErrTransportTimeout, p.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		p.metrics.IncrementMQTTErrors()
		return hwcerrors.NewMQTTError("publish "+topic, err, p.cfg.Broker)
	}
	p.metrics.IncrementMQTTPublishes()
	return nil
}

// ControllerStatusChanged publishes the status as retained JSON
func (p *Publisher) ControllerStatusChanged(status model.ControllerStatus) {
	payload, err := json.Marshal(status)
	if err != nil {
		p.log.LogError("Cannot encode controller status: %v", err)
		return
	}
	if err := p.publish(p.topics.ControllerStatus(), 0, true, payload); err != nil {
		logger.LogDebug("controller status not published: %v", err)
		return
	}

	p.mu.Lock()
	changed := p.lastStatus != status.Mode
	p.lastStatus = status.Mode
	p.mu.Unlock()
	if changed {
		p.log.LogInfo("📤 Controller mode %s published to %s", status.Mode, p.topics.ControllerStatus())
	}
}

type diagnostic struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// PublishDiagnostic publishes a diagnostic code and message
func (p *Publisher) PublishDiagnostic(_ context.Context, code int, message string) error {
	payload, err := json.Marshal(diagnostic{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return p.publish(p.topics.Diagnostics(), 1, false, payload)
}

func (p *Publisher) handleSmartModeValues(_ paho.Client, msg paho.Message) {
	v, err := model.ParseSmartModeValues(msg.Payload())
	if err != nil {
		p.log.LogWarn("Invalid smart mode values on %s: %v", msg.Topic(), err)
		return
	}
	if err := p.sink.SetSmartModeValues(v); err != nil {
		p.log.LogWarn("Smart mode values rejected: %v", err)
		return
	}
	logger.LogTrace("smart mode values received on %s", msg.Topic())
}

var _ hwcerrors.DiagnosticPublisher = (*Publisher)(nil)
