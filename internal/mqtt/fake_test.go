package mqtt

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// doneToken is an already-completed token
type doneToken struct {
	err error
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Error() error                   { return t.err }
func (t *doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// pendingToken never completes
type pendingToken struct{}

func (pendingToken) Wait() bool                     { return false }
func (pendingToken) WaitTimeout(time.Duration) bool { return false }
func (pendingToken) Error() error                   { return nil }
func (pendingToken) Done() <-chan struct{}          { return make(chan struct{}) }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

// fakeClient records publishes and subscriptions in memory
type fakeClient struct {
	mu          sync.Mutex
	published   []published
	handlers    map[string]mqtt.MessageHandler
	publishErr  error
	hangPublish bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[string]mqtt.MessageHandler)}
}

func (c *fakeClient) IsConnected() bool       { return true }
func (c *fakeClient) IsConnectionOpen() bool  { return true }
func (c *fakeClient) Connect() mqtt.Token     { return &doneToken{} }
func (c *fakeClient) Disconnect(uint)         {}
func (c *fakeClient) AddRoute(string, mqtt.MessageHandler) {}
func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	if c.hangPublish {
		return pendingToken{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return &doneToken{err: c.publishErr}
	}
	c.published = append(c.published, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return &doneToken{}
}

func (c *fakeClient) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = callback
	return &doneToken{}
}

func (c *fakeClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	for topic := range filters {
		c.Subscribe(topic, 1, callback)
	}
	return &doneToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.handlers, t)
	}
	return &doneToken{}
}

func (c *fakeClient) deliver(filter, topic string, payload []byte) {
	c.mu.Lock()
	h := c.handlers[filter]
	c.mu.Unlock()
	h(c, &fakeMessage{topic: topic, payload: payload})
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}
