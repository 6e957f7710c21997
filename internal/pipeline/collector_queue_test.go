package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestQueue(t *testing.T, dir string, maxEvents uint64, maxAge time.Duration) *DiskQueue {
	t.Helper()
	queue, err := OpenDiskQueue(dir, maxEvents, maxAge)
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() {
		_ = queue.Close()
	})
	return queue
}

// TestDiskQueue_EnqueuePeekAck verifies FIFO order through append, peek and ack.
// Params: testing.T for assertions.
// Returns: none.
func TestDiskQueue_EnqueuePeekAck(t *testing.T) {
	queue := openTestQueue(t, t.TempDir(), 0, 0)

	for _, payload := range []string{"one", "two", "three"} {
		if err := queue.Enqueue([]byte(payload)); err != nil {
			t.Fatalf("enqueue %q: %v", payload, err)
		}
	}
	if got := queue.Pending(); got != 3 {
		t.Fatalf("unexpected pending count: %d", got)
	}

	for _, want := range []string{"one", "two", "three"} {
		record, err := queue.Peek()
		if err != nil {
			t.Fatalf("peek: %v", err)
		}
		if string(record.payload) != want {
			t.Fatalf("unexpected payload: got %q want %q", record.payload, want)
		}
		if err := queue.Ack(record); err != nil {
			t.Fatalf("ack: %v", err)
		}
	}

	if _, err := queue.Peek(); !errors.Is(err, errQueueEmpty) {
		t.Fatalf("expected errQueueEmpty, got %v", err)
	}
	info, err := os.Stat(filepath.Join(queue.dir, spoolDataFile))
	if err != nil {
		t.Fatalf("stat spool: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("expected truncated spool after full drain, size=%d", info.Size())
	}
}

// TestDiskQueue_MaxEventsLimit verifies rejection when max_events is reached.
// Params: testing.T for assertions.
// Returns: none.
func TestDiskQueue_MaxEventsLimit(t *testing.T) {
	queue := openTestQueue(t, t.TempDir(), 1, 0)

	if err := queue.Enqueue([]byte("first")); err != nil {
		t.Fatalf("enqueue first: %v", err)
	}
	if err := queue.Enqueue([]byte("second")); !errors.Is(err, errQueueFull) {
		t.Fatalf("expected errQueueFull, got %v", err)
	}
}

// TestDiskQueue_MaxAgeLimit verifies rejection once the oldest record exceeds max_age.
// Params: testing.T for assertions.
// Returns: none.
func TestDiskQueue_MaxAgeLimit(t *testing.T) {
	queue := openTestQueue(t, t.TempDir(), 0, 50*time.Millisecond)

	if err := queue.Enqueue([]byte("first")); err != nil {
		t.Fatalf("enqueue first: %v", err)
	}
	time.Sleep(80 * time.Millisecond)

	if err := queue.Enqueue([]byte("second")); !errors.Is(err, errQueueFull) {
		t.Fatalf("expected errQueueFull by age, got %v", err)
	}
}

// TestDiskQueue_ReopenKeepsOffset verifies acked records stay consumed across restarts.
// Params: testing.T for assertions.
// Returns: none.
func TestDiskQueue_ReopenKeepsOffset(t *testing.T) {
	dir := t.TempDir()
	queue, err := OpenDiskQueue(dir, 0, 0)
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	for _, payload := range []string{"a", "b"} {
		if err := queue.Enqueue([]byte(payload)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	record, err := queue.Peek()
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if err := queue.Ack(record); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := queue.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := openTestQueue(t, dir, 0, 0)
	if got := reopened.Pending(); got != 1 {
		t.Fatalf("unexpected pending after reopen: %d", got)
	}
	record, err = reopened.Peek()
	if err != nil {
		t.Fatalf("peek reopened: %v", err)
	}
	if string(record.payload) != "b" {
		t.Fatalf("unexpected payload after reopen: %q", record.payload)
	}
}

// TestDiskQueue_RecoverFromDamagedTail verifies partial and corrupted records are cut on open.
// Params: testing.T for assertions.
// Returns: none.
func TestDiskQueue_RecoverFromDamagedTail(t *testing.T) {
	tests := []struct {
		name string
		tail func() []byte
	}{
		{
			name: "partial record",
			tail: func() []byte {
				raw := make([]byte, spoolHeaderSize+2)
				spoolHeader{length: 10}.put(raw)
				return raw
			},
		},
		{
			name: "checksum mismatch",
			tail: func() []byte {
				raw := make([]byte, spoolHeaderSize+3)
				spoolHeader{length: 3, sum: 12345}.put(raw)
				copy(raw[spoolHeaderSize:], "bad")
				return raw
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			queue, err := OpenDiskQueue(dir, 0, 0)
			if err != nil {
				t.Fatalf("open queue: %v", err)
			}
			if err := queue.Enqueue([]byte("hello")); err != nil {
				t.Fatalf("enqueue: %v", err)
			}
			if err := queue.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}

			path := filepath.Join(dir, spoolDataFile)
			file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				t.Fatalf("open spool for corruption: %v", err)
			}
			if _, err := file.Write(tt.tail()); err != nil {
				t.Fatalf("write damaged tail: %v", err)
			}
			if err := file.Close(); err != nil {
				t.Fatalf("close spool: %v", err)
			}

			recovered := openTestQueue(t, dir, 0, 0)
			if got := recovered.Pending(); got != 1 {
				t.Fatalf("unexpected pending count after recovery: %d", got)
			}
			record, err := recovered.Peek()
			if err != nil {
				t.Fatalf("peek: %v", err)
			}
			if string(record.payload) != "hello" {
				t.Fatalf("unexpected recovered payload: %q", record.payload)
			}

			info, err := os.Stat(path)
			if err != nil {
				t.Fatalf("stat spool: %v", err)
			}
			if info.Size() != record.size {
				t.Fatalf("expected damaged tail truncated, size=%d want %d", info.Size(), record.size)
			}
		})
	}
}

// TestDiskQueue_Compaction verifies the consumed prefix is dropped once it dominates the file.
// Params: testing.T for assertions.
// Returns: none.
func TestDiskQueue_Compaction(t *testing.T) {
	dir := t.TempDir()
	queue := openTestQueue(t, dir, 0, 0)

	big := make([]byte, compactMinBytes)
	if err := queue.Enqueue(big); err != nil {
		t.Fatalf("enqueue big: %v", err)
	}
	if err := queue.Enqueue([]byte("small")); err != nil {
		t.Fatalf("enqueue small: %v", err)
	}

	record, err := queue.Peek()
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if err := queue.Ack(record); err != nil {
		t.Fatalf("ack big: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, spoolDataFile))
	if err != nil {
		t.Fatalf("stat spool: %v", err)
	}
	if info.Size() != spoolHeaderSize+int64(len("small")) {
		t.Fatalf("expected compacted spool, size=%d", info.Size())
	}

	record, err = queue.Peek()
	if err != nil {
		t.Fatalf("peek after compaction: %v", err)
	}
	if string(record.payload) != "small" {
		t.Fatalf("unexpected payload after compaction: %q", record.payload)
	}
	if err := queue.Enqueue([]byte("next")); err != nil {
		t.Fatalf("enqueue after compaction: %v", err)
	}
	if got := queue.Pending(); got != 2 {
		t.Fatalf("unexpected pending after compaction: %d", got)
	}
}
