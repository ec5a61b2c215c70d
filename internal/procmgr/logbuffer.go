package procmgr

import (
	"sync"
	"unicode/utf8"
)

const (
	// DefaultMaxLogLength is the capacity of a process log buffer in bytes.
	DefaultMaxLogLength = 100_000

	// DefaultEvictChunk is how many bytes are dropped at a time once the buffer is full.
	DefaultEvictChunk = 10_000
)

// LogBuffer is a bounded, append-only text buffer. When an append pushes it
// over capacity the oldest content is dropped in whole chunks, so the
// buffer never holds more than MaxLength plus the size of the last append.
type LogBuffer struct {
	mu        sync.Mutex
	buf       []byte
	max       int
	chunk     int
	evictions int
	onEvict   func(bytes int)
}

// NewLogBuffer creates a log buffer. Non-positive limits fall back to the defaults.
func NewLogBuffer(maxLength, evictChunk int) *LogBuffer {
	if maxLength <= 0 {
		maxLength = DefaultMaxLogLength
	}
	if evictChunk <= 0 {
		evictChunk = DefaultEvictChunk
	}
	return &LogBuffer{max: maxLength, chunk: evictChunk}
}

// Append adds s to the buffer, evicting old content if needed.
func (b *LogBuffer) Append(s string) {
	if s == "" {
		return
	}

	b.mu.Lock()
	b.buf = append(b.buf, s...)
	evicted := b.evictLocked(len(b.buf) - len(s))
	onEvict := b.onEvict
	b.mu.Unlock()

	if evicted > 0 && onEvict != nil {
		onEvict(evicted)
	}
}

// Write implements io.Writer.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.Append(string(p))
	return len(p), nil
}

// evictLocked drops chunks from the front until the buffer fits. Bytes at or
// after limit belong to the current append and are never dropped.
func (b *LogBuffer) evictLocked(limit int) int {
	if len(b.buf) <= b.max {
		return 0
	}

	cut := 0
	for len(b.buf)-cut > b.max && cut < limit {
		cut += b.chunk
	}
	if cut > limit {
		cut = limit
	}
	for cut < limit && !utf8.RuneStart(b.buf[cut]) {
		cut++
	}
	if cut == 0 {
		return 0
	}

	n := copy(b.buf, b.buf[cut:])
	b.buf = b.buf[:n]
	b.evictions++
	return cut
}

// String returns a copy of the buffer contents.
func (b *LogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// Tail returns at most the last n bytes, starting on a rune boundary.
func (b *LogBuffer) Tail(n int) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 || n >= len(b.buf) {
		return string(b.buf)
	}
	start := len(b.buf) - n
	for start < len(b.buf) && !utf8.RuneStart(b.buf[start]) {
		start++
	}
	return string(b.buf[start:])
}

// Len returns the current size in bytes.
func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Evictions returns how many times old content was dropped.
func (b *LogBuffer) Evictions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evictions
}

// MaxLength returns the buffer capacity.
func (b *LogBuffer) MaxLength() int {
	return b.max
}

func (b *LogBuffer) setEvictHook(fn func(bytes int)) {
	b.mu.Lock()
	b.onEvict = fn
	b.mu.Unlock()
}
