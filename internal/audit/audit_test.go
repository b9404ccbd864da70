package audit

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
)

func TestLog_DropsWhenFull(t *testing.T) {
	logger := slog.Default()
	w := NewWriter(nil, logger)
	// Don't start the background goroutine — nothing drains the channel.

	for i := 0; i < bufferSize; i++ {
		w.Log(Entry{PostID: uuid.New(), ServiceName: "collector", Status: "success"})
	}

	// The next log should be dropped (non-blocking), not deadlock the test.
	w.Log(Entry{PostID: uuid.New(), ServiceName: "collector", Status: "dropped"})

	if len(w.entries) != bufferSize {
		t.Errorf("buffer size = %d, want %d", len(w.entries), bufferSize)
	}
}

func TestLog_EnqueuesEntry(t *testing.T) {
	logger := slog.Default()
	w := NewWriter(nil, logger)

	postID := uuid.New()
	w.Log(Entry{PostID: postID, ServiceName: "processor", Status: "success", ProcessingTimeMS: 42})

	entry := <-w.entries
	if entry.PostID != postID {
		t.Errorf("PostID = %v, want %v", entry.PostID, postID)
	}
	if entry.ServiceName != "processor" {
		t.Errorf("ServiceName = %q, want %q", entry.ServiceName, "processor")
	}
	if entry.ProcessingTimeMS != 42 {
		t.Errorf("ProcessingTimeMS = %d, want 42", entry.ProcessingTimeMS)
	}
}

func TestStartCloseDrainsWithoutPool(t *testing.T) {
	logger := slog.Default()
	w := NewWriter(nil, logger)

	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		w.Start(ctx)
		close(done)
	}()

	w.Log(Entry{PostID: uuid.New(), ServiceName: "publisher", Status: "skipped"})
	cancel()
	w.Close()
	<-done
}
