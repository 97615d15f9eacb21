package outbound_test

import (
	"context"
	"testing"
	"time"

	"FundLedger/internal/event"
	"FundLedger/internal/outbound"
	"FundLedger/internal/testutil"
)

func TestNATSSink_DeduplicatesByMsgID(t *testing.T) {
	js := testutil.ConnectTestNATS(t, outbound.StreamName)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := outbound.EnsureStream(ctx, js, quietLogger()); err != nil {
		t.Fatalf("ensure stream: %v", err)
	}

	sink := outbound.NewNATSSink(js)
	evt := newEvent(event.EventTypeBatchPosted)
	for i := 0; i < 2; i++ {
		if err := sink.Publish(ctx, evt); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	stream, err := js.Stream(ctx, outbound.StreamName)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		t.Fatalf("stream info: %v", err)
	}
	if info.State.Msgs != 1 {
		t.Errorf("messages: got %d, want 1", info.State.Msgs)
	}
}
