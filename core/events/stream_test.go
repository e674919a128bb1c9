package events

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

type bareEvent struct{}

func (bareEvent) EventType() string { return "bare" }

func TestStreamBacklogAndSubscribe(t *testing.T) {
	stream := NewStream(2)
	participant := common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	stream.Emit(LicenseLocked{Participant: participant, TokenID: 1, Epoch: 1})
	stream.Emit(LicenseLocked{Participant: participant, TokenID: 2, Epoch: 1})
	stream.Emit(bareEvent{})

	recent := stream.Since(0)
	if len(recent) != 2 || recent[0].Sequence != 2 || recent[1].Type != "bare" {
		t.Fatalf("unexpected backlog %+v", recent)
	}

	updates, backlog, cancel := stream.Subscribe(2)
	if len(backlog) != 1 || backlog[0].Sequence != 3 {
		t.Fatalf("unexpected subscribe backlog %+v", backlog)
	}
	stream.Emit(LicenseUnlocked{Participant: participant, TokenID: 1, Epoch: 2})
	env := <-updates
	if env.Sequence != 4 || env.Type != TypeLicenseUnlocked || env.Attributes["tokenId"] != "1" {
		t.Fatalf("unexpected update %+v", env)
	}
	cancel()
	cancel()
	if _, ok := <-updates; ok {
		t.Fatalf("channel must be closed after cancel")
	}
}

func TestStreamDropsSlowSubscriber(t *testing.T) {
	stream := NewStream(0)
	updates, _, cancel := stream.Subscribe(0)
	defer cancel()
	for i := 0; i < subscriberBuffer+1; i++ {
		stream.Emit(bareEvent{})
	}
	received := 0
	for range updates {
		received++
	}
	if received != subscriberBuffer {
		t.Fatalf("expected %d buffered updates before drop, got %d", subscriberBuffer, received)
	}
}
