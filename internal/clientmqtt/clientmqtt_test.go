package clientmqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"sacnbridge/internal/logger"
	"sacnbridge/internal/merge"
	"sacnbridge/internal/universe"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                       { return true }
func (t *fakeToken) WaitTimeout(_ time.Duration) bool { return true }
func (t *fakeToken) Error() error                     { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  interface{}
}

type fakeClient struct {
	mu           sync.Mutex
	connected    bool
	published    []published
	subscribed   []string
	disconnected bool
}

func (f *fakeClient) IsConnected() bool { return f.connected }

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic, qos, retained, payload})
	return &fakeToken{}
}

func (f *fakeClient) Subscribe(topic string, _ byte, _ mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, topic)
	return &fakeToken{}
}

func (f *fakeClient) Disconnect(_ uint) { f.disconnected = true }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func testClient(t *testing.T) (*ClientMQTT, *fakeClient, chan DataCh) {
	t.Helper()
	c := NewClient(logger.Discard(), MQTTConf{Prefix: "stage", Qos: 1})
	fc := &fakeClient{connected: true}
	commands := make(chan DataCh, 4)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	c.bind(ctx, fc, commands)
	return c, fc, commands
}

func TestTopics(t *testing.T) {
	c := NewClient(logger.Discard(), MQTTConf{})
	assert.Equal(t, "sacn/out/3", c.OutTopic(3))
	assert.Equal(t, "sacn/in/+", c.InTopic())
	assert.Equal(t, "sacn/status", c.StatusTopic())
}

func TestPublishChanges(t *testing.T) {
	c, fc, _ := testClient(t)

	c.PublishChanges([]merge.Change{
		{Channel: universe.GlobalChannel(2, 1), Value: 7},
		{Channel: universe.GlobalChannel(1, 5), Value: 255},
		{Channel: universe.GlobalChannel(2, 512), Value: 1},
	})

	require.Len(t, fc.published, 2)
	assert.Equal(t, "stage/out/1", fc.published[0].topic)
	assert.Equal(t, "stage/out/2", fc.published[1].topic)
	assert.Equal(t, byte(1), fc.published[0].qos)
	assert.False(t, fc.published[0].retained)

	var p Payload
	require.NoError(t, json.Unmarshal(fc.published[1].payload.([]byte), &p))
	assert.Equal(t, Payload{{Channel: 1, Value: 7}, {Channel: 512, Value: 1}}, p)
	assert.JSONEq(t, `[{"channel":5,"value":255}]`, string(fc.published[0].payload.([]byte)))
}

func TestPublishNothing(t *testing.T) {
	c, fc, _ := testClient(t)
	c.PublishChanges(nil)
	assert.Empty(t, fc.published)
}

func TestConnectHandlerSubscribes(t *testing.T) {
	c, fc, _ := testClient(t)
	c.connectHandler(nil)

	assert.Equal(t, []string{"stage/in/+"}, fc.subscribed)
	require.Len(t, fc.published, 1)
	assert.Equal(t, published{"stage/status", 1, true, "online"}, fc.published[0])
}

func TestHandleCommand(t *testing.T) {
	c, _, commands := testClient(t)

	c.messageHandler(nil, &fakeMessage{
		topic:   "stage/in/12",
		payload: []byte(`[{"channel":1,"value":10},{"channel":512,"value":20}]`),
	})

	select {
	case cmd := <-commands:
		assert.Equal(t, DataCh{Universe: 12, Data: Payload{{1, 10}, {512, 20}}}, cmd)
	default:
		t.Fatal("no command delivered")
	}
}

func TestHandleCommandRejects(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
	}{
		{"foreign topic", "other/in/1", `[]`},
		{"not a number", "stage/in/abc", `[]`},
		{"universe zero", "stage/in/0", `[]`},
		{"universe too high", "stage/in/64000", `[]`},
		{"bad json", "stage/in/1", `{`},
		{"channel zero", "stage/in/1", `[{"channel":0,"value":1}]`},
		{"channel too high", "stage/in/1", `[{"channel":513,"value":1}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, commands := testClient(t)
			c.handleCommand(&fakeMessage{topic: tt.topic, payload: []byte(tt.payload)})
			assert.Empty(t, commands)
		})
	}
}

func TestHandleCommandCanceled(t *testing.T) {
	c := NewClient(logger.Discard(), MQTTConf{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.bind(ctx, &fakeClient{}, make(chan DataCh))

	done := make(chan struct{})
	go func() {
		c.handleCommand(&fakeMessage{topic: "sacn/in/1", payload: []byte(`[]`)})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler blocked after cancel")
	}
}

func TestStop(t *testing.T) {
	c, fc, _ := testClient(t)
	require.NoError(t, c.Stop())
	assert.True(t, fc.disconnected)
	require.Len(t, fc.published, 1)
	assert.Equal(t, "offline", fc.published[0].payload)

	assert.NoError(t, NewClient(logger.Discard(), MQTTConf{}).Stop())
}
