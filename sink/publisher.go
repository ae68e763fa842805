package sink

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kwv/tmifield/field"
	"github.com/kwv/tmifield/logger"
)

const publishTimeout = 2 * time.Second

// LandmarksMessage is published once the landmark search is done.
type LandmarksMessage struct {
	field.RunInfo
	Space     field.SearchSpace `json:"space"`
	Landmarks field.Landmarks   `json:"landmarks"`
	Ordered   bool              `json:"ordered"`
	Timestamp int64             `json:"timestamp"`
}

// GeometryMessage is published once a geometry has been adjusted.
type GeometryMessage struct {
	field.RunInfo
	Landmarks   field.Landmarks      `json:"landmarks"`
	AspectRatio float64              `json:"aspectRatio"`
	Before      []field.FieldSummary `json:"before"`
	After       []field.FieldSummary `json:"after"`
	Timestamp   int64                `json:"timestamp"`
}

// Publisher publishes optimization events to MQTT:
//
//	<prefix>/<requestId>/landmarks
//	<prefix>/<requestId>/geometry
//	<prefix>/latest   (retained, last geometry per model)
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	log           logger.ILogger
	latest        map[string]*GeometryMessage
	mu            sync.RWMutex
}

// NewPublisher creates an event publisher. A nil client disables publishing;
// events are then only logged as dropped.
func NewPublisher(client mqtt.Client, prefix string, log logger.ILogger) *Publisher {
	if log == nil {
		log = logger.NullLogger{}
	}
	prefix = envOr("MQTT_PUBLISH_PREFIX", prefix, "tmifield")
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           1,
		retain:        false,
		log:           log,
		latest:        make(map[string]*GeometryMessage),
	}
}

func (p *Publisher) Prefix() string {
	return p.publishPrefix
}

// SetQoS sets the QoS level for published messages.
func (p *Publisher) SetQoS(qos byte) {
	p.qos = qos
}

// SetRetain sets whether per-request messages are retained.
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}

func (p *Publisher) OnSearchComputed(ev field.SearchEvent) {
	msg := &LandmarksMessage{
		RunInfo:   ev.Run,
		Space:     ev.Space,
		Landmarks: ev.Landmarks,
		Ordered:   ev.Landmarks.Ordered(),
		Timestamp: time.Now().Unix(),
	}
	topic := fmt.Sprintf("%s/%s/landmarks", p.publishPrefix, ev.Run.RequestID)
	if err := p.publish(topic, msg, p.retain); err != nil {
		p.log.Warnf("[%s] publishing landmarks: %v", ev.Run.RequestID, err)
	}
}

func (p *Publisher) OnGeometryAdjusted(ev field.AdjustEvent) {
	ar := ev.Image.AspectRatio()
	msg := &GeometryMessage{
		RunInfo:     ev.Run,
		Landmarks:   ev.Landmarks,
		AspectRatio: ar,
		Before:      ev.Before.Summaries(ar),
		After:       ev.After.Summaries(ar),
		Timestamp:   time.Now().Unix(),
	}

	p.mu.Lock()
	p.latest[ev.Run.Model] = msg
	p.mu.Unlock()

	topic := fmt.Sprintf("%s/%s/geometry", p.publishPrefix, ev.Run.RequestID)
	if err := p.publish(topic, msg, p.retain); err != nil {
		p.log.Warnf("[%s] publishing geometry: %v", ev.Run.RequestID, err)
		return
	}
	if err := p.publishLatest(); err != nil {
		p.log.Warnf("[%s] publishing latest geometry: %v", ev.Run.RequestID, err)
	}
}

// publishLatest publishes the last geometry of every model as one retained message.
func (p *Publisher) publishLatest() error {
	p.mu.RLock()
	latest := make(map[string]*GeometryMessage, len(p.latest))
	for k, v := range p.latest {
		latest[k] = v
	}
	p.mu.RUnlock()

	return p.publish(p.publishPrefix+"/latest", latest, true)
}

func (p *Publisher) publish(topic string, v any, retain bool) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", topic, err)
	}

	token := p.client.Publish(topic, p.qos, retain, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timeout publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// GetLatest returns the last geometry published for a model.
func (p *Publisher) GetLatest(model string) (*GeometryMessage, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	msg, ok := p.latest[model]
	if !ok {
		return nil, false
	}
	c := *msg
	return &c, true
}
