package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hilinkd/hilinkd/internal/models"
)

type fakeNATS struct {
	mu   sync.Mutex
	msgs map[string][]byte
	err  error
}

func (f *fakeNATS) Publish(subj string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.msgs == nil {
		f.msgs = make(map[string][]byte)
	}
	f.msgs[subj] = data
	return nil
}

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeMQTT struct {
	token        *fakeToken
	published    []published
	disconnected bool
}

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.published = append(f.published, published{topic, qos, retained, payload.([]byte)})
	if f.token == nil {
		return &fakeToken{}
	}
	return f.token
}

func (f *fakeMQTT) Disconnect(uint) { f.disconnected = true }

func testSample() *models.MetricSample {
	return &models.MetricSample{ModemUUID: "m1", Timestamp: 1700000000, SignalStrength: -65, SignalQuality: 100, ConnectionState: 1, NetworkType: 3}
}

func TestNATSPublisherSubjects(t *testing.T) {
	conn := &fakeNATS{}
	p := NewNATSPublisher(conn, "")
	ctx := context.Background()

	require.NoError(t, p.PublishSample(ctx, testSample()))
	require.NoError(t, p.PublishEvent(ctx, &models.EventLog{ModemUUID: "m1", Type: models.EventTypeConnected}))

	var got models.MetricSample
	require.NoError(t, json.Unmarshal(conn.msgs["hilink.modem.m1.metrics"], &got))
	assert.Equal(t, *testSample(), got)
	assert.Contains(t, string(conn.msgs["hilink.modem.m1.events"]), `"type":"CONNECTED"`)
}

func TestNATSPublisherError(t *testing.T) {
	p := NewNATSPublisher(&fakeNATS{err: errors.New("nats: connection closed")}, "site")
	err := p.PublishSample(context.Background(), testSample())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "site.modem.m1.metrics")
}

func TestMQTTPublisherTopics(t *testing.T) {
	client := &fakeMQTT{}
	p := NewMQTTPublisher(client, "lab", 1, true)
	ctx := context.Background()

	require.NoError(t, p.PublishSample(ctx, testSample()))
	require.NoError(t, p.PublishEvent(ctx, &models.EventLog{ModemUUID: "m1", Type: models.EventTypeLowSignal}))
	require.Len(t, client.published, 2)

	assert.Equal(t, "lab/modem/m1/metrics", client.published[0].topic)
	assert.Equal(t, byte(1), client.published[0].qos)
	assert.True(t, client.published[0].retained)
	assert.Equal(t, "lab/modem/m1/events", client.published[1].topic)
	assert.False(t, client.published[1].retained)

	require.NoError(t, p.Close())
	assert.True(t, client.disconnected)
}

func TestMQTTPublisherFailures(t *testing.T) {
	p := NewMQTTPublisher(&fakeMQTT{token: &fakeToken{timeout: true}}, "", 0, false)
	err := p.PublishSample(context.Background(), testSample())
	assert.ErrorIs(t, err, errPublishTimeout)

	p = NewMQTTPublisher(&fakeMQTT{token: &fakeToken{err: errors.New("not connected")}}, "", 0, false)
	err = p.PublishSample(context.Background(), testSample())
	assert.ErrorContains(t, err, "not connected")
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := &fakeNATS{}
	broken := errors.New("broken")
	m := Multi{NewNATSPublisher(ok, ""), NewNATSPublisher(&fakeNATS{err: broken}, ""), Nop{}}

	err := m.PublishSample(context.Background(), testSample())
	assert.ErrorIs(t, err, broken)
	assert.Contains(t, ok.msgs, "hilink.modem.m1.metrics")

	assert.NoError(t, Multi{Nop{}}.PublishEvent(context.Background(), &models.EventLog{}))
	assert.NoError(t, m.Close())
}
