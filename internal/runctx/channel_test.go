package runctx

import (
	"context"
	"testing"

	"marketplace-client/internal/logging"
)

func quietLogger() *logging.Logger {
	logger := logging.New(false)
	logger.SetTerminalOutputEnabled(false)
	return logger
}

func TestOffer_DropsOldestWhenFull(t *testing.T) {
	ch := make(chan int, 2)
	if Offer(ch, 1) || Offer(ch, 2) {
		t.Fatalf("dropped while buffer had room")
	}
	if !Offer(ch, 3) {
		t.Fatalf("expected a drop on full buffer")
	}
	if got := []int{<-ch, <-ch}; got[0] != 2 || got[1] != 3 {
		t.Fatalf("buffer = %v, want [2 3]", got)
	}
}

func TestRecvOrDone(t *testing.T) {
	logger := quietLogger()

	ch := make(chan string, 1)
	ch <- "hello"
	if v, ok := RecvOrDone(context.Background(), "test", logger, ch); !ok || v != "hello" {
		t.Fatalf("RecvOrDone() = %q, %v", v, ok)
	}

	close(ch)
	if _, ok := RecvOrDone(context.Background(), "test", logger, ch); ok {
		t.Fatalf("closed channel reported a value")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := RecvOrDone(ctx, "test", logger, make(chan string)); ok {
		t.Fatalf("canceled context reported a value")
	}
}
