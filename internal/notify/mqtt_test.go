package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autocmx/internal/db"
	"autocmx/internal/ingest"
	"autocmx/internal/logging"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func newToken(err error, finished bool) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	if finished {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	token        paho.Token
	messages     []published
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.messages = append(c.messages, published{topic, qos, retained, payload.([]byte)})
	return c.token
}

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func TestNotifyPublishesRetainedState(t *testing.T) {
	client := &fakeClient{token: newToken(nil, true)}
	n := newMQTT(client, "lab", logging.Discard())

	api := "2.0"
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	err := n.Notify(context.Background(), ingest.StateChange{
		TestID: "t1", State: db.StateComplete, API: &api, Complete: true, DataAt: at,
	})
	require.NoError(t, err)

	require.Len(t, client.messages, 1)
	msg := client.messages[0]
	assert.Equal(t, "lab/tests/t1/state", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.True(t, msg.retained)

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.payload, &body))
	assert.Equal(t, "t1", body["test_id"])
	assert.Equal(t, "complete", body["state"])
	assert.Equal(t, "2.0", body["api"])
	assert.Equal(t, true, body["complete"])
	assert.Equal(t, "2026-01-02T03:04:05Z", body["data_at"])
}

func TestNotifyReportsPublishError(t *testing.T) {
	boom := errors.New("not connected")
	n := newMQTT(&fakeClient{token: newToken(boom, true)}, "lab", logging.Discard())

	err := n.Notify(context.Background(), ingest.StateChange{TestID: "t1", State: db.StateBadPost})
	assert.ErrorIs(t, err, boom)
}

func TestNotifyHonorsContext(t *testing.T) {
	n := newMQTT(&fakeClient{token: newToken(nil, false)}, "lab", logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := n.Notify(ctx, ingest.StateChange{TestID: "t1"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClose(t *testing.T) {
	client := &fakeClient{token: newToken(nil, true)}
	newMQTT(client, "lab", logging.Discard()).Close()
	assert.True(t, client.disconnected)
}
