package pipeline

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Spool record layout (little endian):
//
//	[0:4)   payload length
//	[4:12)  enqueue time, unix nanoseconds
//	[12:16) CRC-32C of the payload
//	[16:)   payload
const (
	spoolHeaderSize = 16

	spoolDataFile   = "spool.dat"
	spoolOffsetFile = "spool.off"

	offsetSyncEvery    = 64
	offsetSyncInterval = 2 * time.Second

	// compactMinBytes is the consumed prefix size that makes compaction worthwhile.
	compactMinBytes = 4 << 20

	maxSpoolRecord = 256 << 20
)

var (
	errQueueEmpty = errors.New("queue is empty")
	errQueueFull  = errors.New("queue limits reached; rejecting new payload")
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

type spoolHeader struct {
	length  uint32
	created int64
	sum     uint32
}

func (h spoolHeader) put(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.length)
	binary.LittleEndian.PutUint64(buf[4:12], uint64(h.created))
	binary.LittleEndian.PutUint32(buf[12:16], h.sum)
}

func readSpoolHeader(buf []byte) spoolHeader {
	return spoolHeader{
		length:  binary.LittleEndian.Uint32(buf[0:4]),
		created: int64(binary.LittleEndian.Uint64(buf[4:12])),
		sum:     binary.LittleEndian.Uint32(buf[12:16]),
	}
}

type queueRecord struct {
	payload []byte
	size    int64
	created int64
}

// DiskQueue is an append-only spool of prepared collector payloads.
// The read offset lives in a separate file and is synced in batches, so after
// a crash some acknowledged records may be delivered again.
type DiskQueue struct {
	mu sync.Mutex

	dir  string
	data *os.File
	off  *os.File

	maxEvents uint64
	maxAge    time.Duration

	head    int64
	tail    int64
	pending uint64
	oldest  int64

	unsynced int
	lastSync time.Time
}

// OpenDiskQueue opens or creates the spool in dir and recovers its state.
// Params: dir spool directory; maxEvents/maxAge limits, zero disables a limit.
// Returns: queue or IO error.
func OpenDiskQueue(dir string, maxEvents uint64, maxAge time.Duration) (*DiskQueue, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create queue dir %q: %w", dir, err)
	}

	data, err := os.OpenFile(filepath.Join(dir, spoolDataFile), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open spool data: %w", err)
	}
	off, err := os.OpenFile(filepath.Join(dir, spoolOffsetFile), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		_ = data.Close()
		return nil, fmt.Errorf("open spool offset: %w", err)
	}

	q := &DiskQueue{
		dir:       dir,
		data:      data,
		off:       off,
		maxEvents: maxEvents,
		maxAge:    maxAge,
		lastSync:  time.Now(),
	}
	if err := q.recover(); err != nil {
		_ = q.closeFiles()
		return nil, err
	}
	return q, nil
}

// Enqueue appends payload at the tail.
// Params: payload prepared batch.
// Returns: errQueueFull when limits are reached, IO error otherwise.
func (q *DiskQueue) Enqueue(payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.data == nil {
		return fmt.Errorf("queue is closed")
	}

	now := time.Now().UnixNano()
	if q.full(now) {
		return errQueueFull
	}

	record := make([]byte, spoolHeaderSize+len(payload))
	spoolHeader{
		length:  uint32(len(payload)),
		created: now,
		sum:     crc32.Checksum(payload, crcTable),
	}.put(record)
	copy(record[spoolHeaderSize:], payload)

	if _, err := q.data.WriteAt(record, q.tail); err != nil {
		return fmt.Errorf("append spool record: %w", err)
	}

	q.tail += int64(len(record))
	q.pending++
	if q.pending == 1 {
		q.oldest = now
	}
	return nil
}

// Peek returns the record at the head without consuming it.
// Params: none.
// Returns: record or errQueueEmpty.
func (q *DiskQueue) Peek() (queueRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.data == nil {
		return queueRecord{}, fmt.Errorf("queue is closed")
	}
	if q.pending == 0 {
		return queueRecord{}, errQueueEmpty
	}
	return q.readAt(q.head)
}

// Ack consumes the record previously returned by Peek.
// Params: consumed record.
// Returns: IO error while persisting the offset.
func (q *DiskQueue) Ack(consumed queueRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if consumed.size < spoolHeaderSize {
		return fmt.Errorf("ack of invalid record size %d", consumed.size)
	}
	if q.pending == 0 {
		return fmt.Errorf("ack on empty queue")
	}

	q.head += consumed.size
	q.pending--
	q.unsynced++

	if q.pending == 0 {
		return q.truncateAll()
	}

	if next, err := q.readAt(q.head); err == nil {
		q.oldest = next.created
	}

	if q.head >= compactMinBytes && q.head*2 >= q.tail {
		return q.compact()
	}
	if q.unsynced >= offsetSyncEvery || time.Since(q.lastSync) >= offsetSyncInterval {
		return q.writeOffset()
	}
	return nil
}

// Pending returns the number of unconsumed records.
// Params: none.
// Returns: record count.
func (q *DiskQueue) Pending() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Close persists the head offset and closes the spool files.
// Params: none.
// Returns: first sync/close error.
func (q *DiskQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.data == nil {
		return nil
	}
	var syncErr error
	if q.unsynced > 0 {
		syncErr = q.writeOffset()
	}
	if err := q.closeFiles(); err != nil && syncErr == nil {
		syncErr = err
	}
	return syncErr
}

// recover loads the head offset and scans forward, cutting the spool at the first damaged record.
func (q *DiskQueue) recover() error {
	var buf [8]byte
	n, err := q.off.ReadAt(buf[:], 0)
	switch {
	case n == 8:
		q.head = int64(binary.LittleEndian.Uint64(buf[:]))
	case err != nil && !errors.Is(err, io.EOF):
		return fmt.Errorf("read spool offset: %w", err)
	}

	info, err := q.data.Stat()
	if err != nil {
		return fmt.Errorf("stat spool data: %w", err)
	}
	size := info.Size()
	if q.head < 0 || q.head > size {
		q.head = 0
	}

	position := q.head
	for position < size {
		record, err := q.readAt(position)
		if err != nil {
			break
		}
		if q.pending == 0 {
			q.oldest = record.created
		}
		q.pending++
		position += record.size
	}

	if position < size {
		if err := q.data.Truncate(position); err != nil {
			return fmt.Errorf("truncate damaged spool tail at %d: %w", position, err)
		}
	}
	q.tail = position
	return nil
}

// readAt decodes and verifies one record at position.
func (q *DiskQueue) readAt(position int64) (queueRecord, error) {
	var raw [spoolHeaderSize]byte
	if _, err := q.data.ReadAt(raw[:], position); err != nil {
		return queueRecord{}, fmt.Errorf("read spool header at %d: %w", position, err)
	}
	header := readSpoolHeader(raw[:])
	if header.length > maxSpoolRecord {
		return queueRecord{}, fmt.Errorf("spool record at %d: length %d exceeds limit", position, header.length)
	}

	payload := make([]byte, header.length)
	if _, err := q.data.ReadAt(payload, position+spoolHeaderSize); err != nil {
		return queueRecord{}, fmt.Errorf("read spool payload at %d: %w", position, err)
	}
	if crc32.Checksum(payload, crcTable) != header.sum {
		return queueRecord{}, fmt.Errorf("spool record at %d: checksum mismatch", position)
	}

	return queueRecord{
		payload: payload,
		size:    spoolHeaderSize + int64(header.length),
		created: header.created,
	}, nil
}

// full reports whether the count or age limit rejects a new record.
func (q *DiskQueue) full(now int64) bool {
	if q.maxEvents > 0 && q.pending >= q.maxEvents {
		return true
	}
	if q.maxAge > 0 && q.pending > 0 && time.Duration(now-q.oldest) >= q.maxAge {
		return true
	}
	return false
}

// compact moves the unconsumed suffix to the start of the data file.
func (q *DiskQueue) compact() error {
	remaining := q.tail - q.head
	buf := make([]byte, remaining)
	if _, err := q.data.ReadAt(buf, q.head); err != nil {
		return fmt.Errorf("read spool suffix: %w", err)
	}

	tmpPath := filepath.Join(q.dir, spoolDataFile+".tmp")
	if err := os.WriteFile(tmpPath, buf, 0o644); err != nil {
		return fmt.Errorf("write compacted spool: %w", err)
	}

	// The offset must point at the new layout before the rename becomes visible.
	q.head = 0
	if err := q.writeOffset(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, filepath.Join(q.dir, spoolDataFile)); err != nil {
		return fmt.Errorf("replace spool data: %w", err)
	}

	data, err := os.OpenFile(filepath.Join(q.dir, spoolDataFile), os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("reopen spool data: %w", err)
	}
	_ = q.data.Close()
	q.data = data
	q.tail = remaining
	return nil
}

// truncateAll empties the spool once every record is consumed.
func (q *DiskQueue) truncateAll() error {
	if err := q.data.Truncate(0); err != nil {
		return fmt.Errorf("truncate spool data: %w", err)
	}
	q.head = 0
	q.tail = 0
	q.oldest = 0
	return q.writeOffset()
}

func (q *DiskQueue) writeOffset() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(q.head))
	if _, err := q.off.WriteAt(buf[:], 0); err != nil {
		return fmt.Errorf("write spool offset: %w", err)
	}
	if err := q.off.Sync(); err != nil {
		return fmt.Errorf("sync spool offset: %w", err)
	}
	q.unsynced = 0
	q.lastSync = time.Now()
	return nil
}

func (q *DiskQueue) closeFiles() error {
	var firstErr error
	if q.data != nil {
		if err := q.data.Close(); err != nil {
			firstErr = fmt.Errorf("close spool data: %w", err)
		}
		q.data = nil
	}
	if q.off != nil {
		if err := q.off.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close spool offset: %w", err)
		}
		q.off = nil
	}
	return firstErr
}
