package sink

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kwv/tmifield/field"
)

// mockToken implements mqtt.Token for testing
type mockToken struct {
	err error
}

func (t *mockToken) Wait() bool                     { return true }
func (t *mockToken) WaitTimeout(time.Duration) bool { return true }
func (t *mockToken) Error() error                   { return t.err }

func (t *mockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type mockMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// mockClient implements mqtt.Client and records published messages.
type mockClient struct {
	mu           sync.Mutex
	connected    bool
	publishError error
	published    []mockMessage
}

func newMockClient(connected bool) *mockClient {
	return &mockClient{connected: connected}
}

func (c *mockClient) messages() []mockMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]mockMessage, len(c.published))
	copy(out, c.published)
	return out
}

func (c *mockClient) topics() []string {
	var out []string
	for _, m := range c.messages() {
		out = append(out, m.Topic)
	}
	return out
}

func (c *mockClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *mockClient) IsConnectionOpen() bool { return c.IsConnected() }

func (c *mockClient) Connect() mqtt.Token {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return &mockToken{}
}

func (c *mockClient) Disconnect(uint) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *mockClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return &mockToken{err: mqtt.ErrNotConnected}
	}
	if c.publishError != nil {
		return &mockToken{err: c.publishError}
	}
	var b []byte
	switch v := payload.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	}
	c.published = append(c.published, mockMessage{Topic: topic, Payload: b, QoS: qos, Retain: retained})
	return &mockToken{}
}

func (c *mockClient) Subscribe(string, byte, mqtt.MessageHandler) mqtt.Token {
	return &mockToken{}
}

func (c *mockClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return &mockToken{}
}

func (c *mockClient) Unsubscribe(...string) mqtt.Token { return &mockToken{} }

func (c *mockClient) AddRoute(string, mqtt.MessageHandler) {}

func (c *mockClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

// testImage is 64 rows by 100 columns with aspect ratio 2 and a target over
// rows 10-53.
func testImage() *field.Image {
	img := field.NewImage(64, 100, 1, 2)
	for r := 10; r < 54; r++ {
		for c := range img.Width {
			img.Set(r, c, field.ChannelDensity, 0.5)
			img.Set(r, c, field.ChannelMask, 0.3)
		}
	}
	return img
}

// testGeometry has a pelvis and an abdomen region.
func testGeometry() field.FieldGeometry {
	var g field.FieldGeometry
	for _, f := range []field.FieldIndex{field.PelvisCranial, field.PelvisCaudal} {
		g.Isocenters[f] = field.Vec3{32, 0, 20}
		g.JawsY[f] = field.Aperture{-10, 10}
	}
	for _, f := range []field.FieldIndex{field.AbdomenCranial, field.AbdomenCaudal} {
		g.Isocenters[f] = field.Vec3{32, 0, 60}
		g.JawsY[f] = field.Aperture{-12, 12}
	}
	g.JawsX[field.PelvisCranial] = field.Aperture{0, 30}
	g.JawsX[field.PelvisCaudal] = field.Aperture{-30, 0}
	g.JawsX[field.AbdomenCranial] = field.Aperture{0, 30}
	g.JawsX[field.AbdomenCaudal] = field.Aperture{-62, 0}
	return g
}

func testRun(id string) field.RunInfo {
	return field.RunInfo{RequestID: id, Model: "body_cnn", Kind: field.ModelBody, Convention: field.Collimator90}
}

func testSearchEvent(id string) field.SearchEvent {
	return field.SearchEvent{
		Run:   testRun(id),
		Image: testImage(),
		Space: field.SearchSpace{
			Left: 30, Right: 70,
			BandRight: field.RowBand{Start: 10, End: 20},
			BandLeft:  field.RowBand{Start: 44, End: 54},
			CenterRow: 32,
		},
		Landmarks: field.Landmarks{XIliac: 40, XRibs: 55, Spine: 48},
	}
}

func testAdjustEvent(id string) field.AdjustEvent {
	before := testGeometry()
	after := before.Clone()
	after.SetRegionZ(field.AbdomenCranial, 58)
	return field.AdjustEvent{
		Run:       testRun(id),
		Image:     testImage(),
		Landmarks: field.Landmarks{XIliac: 40, XRibs: 55, Spine: 48},
		Before:    before,
		After:     after,
	}
}
