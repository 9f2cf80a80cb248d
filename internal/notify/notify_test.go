package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/andresmejia3/faceclari/internal/sink"
	"github.com/andresmejia3/faceclari/internal/types"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type fakeToken struct {
	done bool
	err  error
}

func (t *fakeToken) Wait() bool                       { return t.done }
func (t *fakeToken) WaitTimeout(d time.Duration) bool { return t.done }
func (t *fakeToken) Error() error                     { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	sent         []published
	token        *fakeToken
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.sent = append(c.sent, published{topic: topic, payload: payload.([]byte)})
	return c.token
}

func (c *fakeClient) Disconnect(quiesce uint) { c.disconnected = true }

func TestTopic(t *testing.T) {
	tests := []struct {
		base, identity, want string
	}{
		{"faceclari/matches", "alice", "faceclari/matches/alice"},
		{"home/faces/", "bob", "home/faces/bob"},
		{"", "carol", DefaultTopic + "/carol"},
		{"t", "a/b+c#", "t/a_b_c_"},
	}
	for _, tt := range tests {
		p := New(&fakeClient{}, tt.base)
		if got := p.Topic(tt.identity); got != tt.want {
			t.Errorf("Topic(%q, %q) = %q, want %q", tt.base, tt.identity, got, tt.want)
		}
	}
}

func TestRecord(t *testing.T) {
	client := &fakeClient{token: &fakeToken{done: true}}
	p := New(client, "faceclari/matches")

	ev := sink.Event{
		RunID:      "run-1",
		SourcePath: "/scan/a.jpg",
		Identity:   "alice",
		FaceIndex:  2,
		Location:   types.Box{Top: 1, Right: 2, Bottom: 3, Left: 4},
		OutputPath: "/out/alice/a.jpg",
		Embedding:  types.Embedding{0.1, 0.2},
		MatchedAt:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := p.Record(context.Background(), ev); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if len(client.sent) != 1 {
		t.Fatalf("Expected one message, got %d", len(client.sent))
	}
	msg := client.sent[0]
	if msg.topic != "faceclari/matches/alice" {
		t.Errorf("Unexpected topic %q", msg.topic)
	}

	var got map[string]any
	if err := json.Unmarshal(msg.payload, &got); err != nil {
		t.Fatalf("Payload is not JSON: %v", err)
	}
	if got["identity"] != "alice" || got["run_id"] != "run-1" || got["face_index"] != float64(2) {
		t.Errorf("Unexpected payload %s", msg.payload)
	}
	if _, ok := got["Embedding"]; ok {
		t.Error("Embeddings should not be published")
	}

	p.Close()
	if !client.disconnected {
		t.Error("Close should disconnect the client")
	}
}

func TestRecordErrors(t *testing.T) {
	brokerErr := errors.New("not connected")
	tests := []struct {
		name  string
		token *fakeToken
	}{
		{"Timeout", &fakeToken{done: false}},
		{"Publish error", &fakeToken{done: true, err: brokerErr}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(&fakeClient{token: tt.token}, "")
			if err := p.Record(context.Background(), sink.Event{Identity: "alice"}); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}
