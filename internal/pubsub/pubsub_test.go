package pubsub

import "testing"

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern, topic string
		want           bool
	}{
		{"bikes", "bikes", true},
		{"bikes", "bookings", false},
		{"activeRides/*", "activeRides/user-1", true},
		{"activeRides/*", "liveLocation/user-1", false},
		{"*", "anything", true},
	}

	for _, tt := range tests {
		if got := Match(tt.pattern, tt.topic); got != tt.want {
			t.Errorf("Match(%q, %q): expected %v, got %v", tt.pattern, tt.topic, tt.want, got)
		}
	}
}

func TestBroker_DeliversToMatchingSubscribers(t *testing.T) {
	b := NewBroker()
	rides := b.Subscribe("activeRides/*")
	bikes := b.Subscribe("bikes")
	defer rides.Close()
	defer bikes.Close()

	b.Publish(Message{Topic: "activeRides/u1", Payload: []byte(`{}`)})

	select {
	case m := <-rides.C:
		if m.Topic != "activeRides/u1" {
			t.Errorf("expected topic activeRides/u1, got %s", m.Topic)
		}
	default:
		t.Fatal("expected a message for the ride subscriber")
	}

	select {
	case m := <-bikes.C:
		t.Errorf("bike subscriber should not receive %s", m.Topic)
	default:
	}
}

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	b := NewBroker()
	s := b.Subscribe("bikes")
	s.Close()
	s.Close()

	if _, ok := <-s.C; ok {
		t.Error("expected closed channel")
	}

	// Publishing after close must not panic on the closed channel.
	b.Publish(Message{Topic: "bikes"})
}
