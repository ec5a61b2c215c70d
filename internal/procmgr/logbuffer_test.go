package procmgr

import (
	"math/rand"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogBufferEvictsWholeChunks(t *testing.T) {
	b := NewLogBuffer(100, 10)

	b.Append(strings.Repeat("a", 95))
	assert.Equal(t, 0, b.Evictions())

	b.Append(strings.Repeat("b", 10))

	assert.Equal(t, 95, b.Len())
	assert.Equal(t, strings.Repeat("a", 85)+strings.Repeat("b", 10), b.String())
	assert.Equal(t, 1, b.Evictions())
}

func TestLogBufferNeverEvictsCurrentAppend(t *testing.T) {
	b := NewLogBuffer(10, 3)
	b.Append("12345")

	big := strings.Repeat("x", 50)
	b.Append(big)

	assert.Equal(t, big, b.String())
}

func TestLogBufferCutsOnRuneBoundary(t *testing.T) {
	b := NewLogBuffer(10, 3)
	b.Append("ééééé") // 10 bytes
	b.Append("x")

	got := b.String()
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "éééx", got)
}

func TestLogBufferBound(t *testing.T) {
	const maxLength = 1000
	b := NewLogBuffer(maxLength, 100)
	rng := rand.New(rand.NewSource(42))

	var evicted int
	b.setEvictHook(func(n int) { evicted += n })

	total := 0
	for i := 0; i < 500; i++ {
		chunk := strings.Repeat(string(rune('a'+i%26)), 1+rng.Intn(300))
		b.Append(chunk)
		total += len(chunk)

		got := b.String()
		require.LessOrEqual(t, len(got), maxLength+len(chunk), "append %d", i)
		require.True(t, strings.HasSuffix(got, chunk), "append %d lost its suffix", i)
	}

	assert.Greater(t, b.Evictions(), 0)
	assert.Equal(t, total, b.Len()+evicted)
}

func TestLogBufferTail(t *testing.T) {
	b := NewLogBuffer(0, 0)
	assert.Equal(t, DefaultMaxLogLength, b.MaxLength())

	b.Append("hello world")
	assert.Equal(t, "world", b.Tail(5))
	assert.Equal(t, "hello world", b.Tail(100))
	assert.Equal(t, "hello world", b.Tail(0))

	b.Append(" ü")
	assert.Equal(t, "ü", b.Tail(2))
	// never starts in the middle of a rune
	assert.Equal(t, "", b.Tail(1))
}

func TestLogBufferConcurrentAppend(t *testing.T) {
	b := NewLogBuffer(500, 50)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				b.Append("line of output\n")
				_ = b.Tail(20)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, b.Len(), 500+len("line of output\n"))
}
