package natsx

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"PChat/module/chat/model"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientNeedsServers(t *testing.T) {
	_, err := NewNatsxClient(NatsxConfig{})
	assert.Error(t, err)
}

func TestToHeader(t *testing.T) {
	assert.Nil(t, ToHeader(nil))
	h := ToHeader(map[string]string{HeaderEvent: model.EventNew})
	assert.Equal(t, model.EventNew, h.Get(HeaderEvent))
}

func TestProducerLive(t *testing.T) {
	url := os.Getenv("CHAT_TEST_NATS_URL")
	if url == "" {
		t.Skipf("CHAT_TEST_NATS_URL not set")
	}
	c, err := NewNatsxClient(NatsxConfig{Servers: []string{url}, Name: "chat-test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	got := make(chan *nats.Msg, 1)
	sub, err := c.Conn().ChanSubscribe("chat-test.message.new", got)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	require.NoError(t, c.Conn().Flush())

	p := NewNatsxProducer(c, "chat-test")
	require.NoError(t, p.Publish(context.Background(), model.NewEvent(model.EventNew, &model.Message{Content: "hi"})))

	select {
	case m := <-got:
		assert.Equal(t, model.EventNew, m.Header.Get(HeaderEvent))
		var body struct {
			Type string        `json:"type"`
			Data model.Message `json:"data"`
		}
		require.NoError(t, json.Unmarshal(m.Data, &body))
		assert.Equal(t, "hi", body.Data.Content)
	case <-time.After(3 * time.Second):
		t.Fatal("no message received")
	}
}
