package natsbus

import (
	"testing"
	"time"

	"github.com/mkelaidis/agora/internal/config"
	"github.com/nats-io/nats.go"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	bus, err := New(config.NATSConfig{
		Port:    0, // Random port
		DataDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	t.Cleanup(bus.Close)
	return bus
}

func TestBusStartStop(t *testing.T) {
	bus := newTestBus(t)
	if bus.ClientURL() == "" {
		t.Fatal("expected non-empty client URL")
	}
}

func TestPubSub(t *testing.T) {
	bus := newTestBus(t)

	client, err := NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	received := make(chan string, 1)
	_, err = client.Subscribe(TopicEventsTasks, func(msg *nats.Msg) {
		received <- string(msg.Data)
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	if err := client.Publish(TopicTask("t1"), []byte("assigned")); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	client.Flush()

	select {
	case data := <-received:
		if data != "assigned" {
			t.Errorf("expected 'assigned', got '%s'", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishJSON(t *testing.T) {
	bus := newTestBus(t)

	client, err := NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	received := make(chan string, 1)
	_, err = client.Subscribe(TopicEventsVotes, func(msg *nats.Msg) {
		received <- string(msg.Data)
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	payload := map[string]string{"decision": "approve"}
	if err := client.PublishJSON(TopicVote("p1"), payload); err != nil {
		t.Fatalf("publish json error: %v", err)
	}
	client.Flush()

	select {
	case data := <-received:
		if data != `{"decision":"approve"}` {
			t.Errorf("expected json, got '%s'", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestTopicNames(t *testing.T) {
	if got := TopicMessage("broadcast"); got != "events.message.broadcast" {
		t.Errorf("expected events.message.broadcast, got %s", got)
	}
	if got := TopicVote("p1"); got != "events.vote.p1" {
		t.Errorf("expected events.vote.p1, got %s", got)
	}
	if got := TopicAlert("critical"); got != "events.alert.critical" {
		t.Errorf("expected events.alert.critical, got %s", got)
	}
}
