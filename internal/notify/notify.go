package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/andresmejia3/faceclari/internal/sink"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// DefaultTopic is the topic prefix matches are published under.
const DefaultTopic = "faceclari/matches"

const publishTimeout = 5 * time.Second

// Client is the part of mqtt.Client the publisher needs.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Publisher announces every committed match on <topic>/<identity> as JSON.
type Publisher struct {
	client Client
	topic  string
}

// Connect dials the broker with a random client ID.
func Connect(broker, topic string) (*Publisher, error) {
	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID("faceclari-" + uuid.New().String())
	opts.SetKeepAlive(30 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", broker, token.Error())
	}
	return New(client, topic), nil
}

func New(client Client, topic string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{client: client, topic: topic}
}

// Topic is where matches of identity are published. MQTT wildcards and
// separators in the name are replaced so each identity gets one topic level.
func (p *Publisher) Topic(identity string) string {
	level := strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(identity)
	return strings.TrimRight(p.topic, "/") + "/" + level
}

// Record publishes ev at QoS 0 and waits for the client to hand it off.
func (p *Publisher) Record(ctx context.Context, ev sink.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	token := p.client.Publish(p.Topic(ev.Identity), 0, false, payload)

	timeout := publishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("timed out publishing match for %s", ev.Identity)
	}
	return token.Error()
}

func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
