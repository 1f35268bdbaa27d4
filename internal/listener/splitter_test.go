package listener

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tjarratt/babble"
)

func TestSplitterReassemblesAcrossChunks(t *testing.T) {
	s := NewSplitter(0)
	assert.Equal(t, []string{"x"}, s.Feed([]byte("x\n")))
	assert.Equal(t, []string{"y"}, s.Feed([]byte("y\n")))

	s = NewSplitter(0)
	assert.Empty(t, s.Feed([]byte("/tmp/lo")))
	assert.Equal(t, 7, s.Pending())
	assert.Equal(t, []string{"/tmp/long.txt"}, s.Feed([]byte("ng.txt\n/tmp/b")))
	assert.Equal(t, []string{"/tmp/b.bin"}, s.Feed([]byte(".bin\n")))
	assert.Zero(t, s.Pending())
}

func TestSplitterDelimiters(t *testing.T) {
	s := NewSplitter(0)
	got := s.Feed([]byte("a\x00b\nc\r\n\n\x00d"))
	assert.Equal(t, []string{"a", "b", "c"}, got)

	name, ok := s.Flush()
	require.True(t, ok)
	assert.Equal(t, "d", name)

	_, ok = s.Flush()
	assert.False(t, ok)
}

func TestSplitterDropsOverLongNames(t *testing.T) {
	s := NewSplitter(8)
	assert.Empty(t, s.Feed([]byte("0123456")))
	assert.Empty(t, s.Feed([]byte("789abc")))
	assert.Equal(t, []string{"ok.txt"}, s.Feed([]byte("def\nok.txt\n")))

	assert.Equal(t, []string{"12345678"}, s.Feed([]byte("12345678\n")))
}

// Random names cut at random chunk boundaries come out byte-identical.
func TestSplitterRoundTripRandomChunks(t *testing.T) {
	// multibyte words so chunk boundaries also land inside runes
	babbler := babble.Babbler{Count: 3, Separator: "_", Words: []string{
		"alpha", "bravo", "charlie", "report", "backup", "2024",
		"café", "naïve", "zürich", "日本語", "データ", "Ωmega", "smörgåsbord", "emoji🙂",
	}}
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 50; trial++ {
		var want []string
		var stream strings.Builder
		for i := 0; i < 20; i++ {
			name := "/data/" + babbler.Babble() + ".txt"
			want = append(want, name)
			stream.WriteString(name)
			if rng.Intn(2) == 0 {
				stream.WriteByte('\n')
			} else {
				stream.WriteByte(0)
			}
		}

		data := []byte(stream.String())
		s := NewSplitter(0)
		var got []string
		for len(data) > 0 {
			n := rng.Intn(len(data)) + 1
			if n > 17 {
				n = rng.Intn(17) + 1
			}
			got = append(got, s.Feed(data[:n])...)
			data = data[n:]
		}
		_, leftover := s.Flush()
		assert.False(t, leftover)
		require.Equal(t, want, got, "trial %d", trial)
	}
}
