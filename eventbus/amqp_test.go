package eventbus_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/blobmover/core/eventbus"
)

// fakePublisher is an in-memory stand-in for AMQPPublisher, used to
// exercise anything that depends only on the eventbus.Publisher
// interface without dialing a real broker.
type fakePublisher struct {
	published []eventbus.TransferEventArgs
	closed    bool
}

func (f *fakePublisher) Publish(ctx context.Context, event eventbus.TransferEventArgs) error {
	f.published = append(f.published, event)
	return nil
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}

var _ eventbus.Publisher = (*fakePublisher)(nil)

func TestTransferEventArgsRoundTripsAsJSON(t *testing.T) {
	event := eventbus.TransferEventArgs{
		Kind:      eventbus.EventFileFinished,
		Source:    "file:///src",
		Dest:      "https://blob/dst",
		Bytes:     4096,
		Timestamp: time.Unix(0, 0).UTC(),
	}

	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded eventbus.TransferEventArgs
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != event {
		t.Fatalf("round-tripped event = %+v, want %+v", decoded, event)
	}
}

func TestFakePublisherRecordsEvents(t *testing.T) {
	fp := &fakePublisher{}

	events := []eventbus.TransferEventArgs{
		{Kind: eventbus.EventFileFinished, Source: "a", Dest: "b"},
		{Kind: eventbus.EventFileFailed, Source: "c", Dest: "d", Error: "boom"},
	}
	for _, e := range events {
		if err := fp.Publish(context.Background(), e); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	if len(fp.published) != 2 {
		t.Fatalf("published %d events, want 2", len(fp.published))
	}
	if fp.published[1].Error != "boom" {
		t.Fatalf("published[1].Error = %q, want %q", fp.published[1].Error, "boom")
	}

	if err := fp.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !fp.closed {
		t.Fatal("expected Close to mark the publisher closed")
	}
}
