package progress

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderReportsEveryChunk(t *testing.T) {
	var (
		chunks []string
		totals []int64
	)

	r := NewReader(io.LimitReader(strings.NewReader("abcdefghij"), 10), func(chunk []byte, total int64) {
		chunks = append(chunks, string(chunk))
		totals = append(totals, total)
	})

	buf := make([]byte, 4)
	for {
		_, err := r.Read(buf)
		if err == io.EOF {
			break
		}

		require.NoError(t, err)
	}

	assert.Equal(t, []string{"abcd", "efgh", "ij"}, chunks)
	assert.Equal(t, []int64{4, 8, 10}, totals)
	assert.Equal(t, int64(10), r.Total())
}

func TestThrottle(t *testing.T) {
	th := NewThrottle(100)

	assert.False(t, th.Due(0, 10, -1))
	assert.True(t, th.Due(90, 100, -1))
	assert.False(t, th.Due(100, 150, -1))
	assert.True(t, th.Due(150, 200, -1))
}

func TestThrottleFivePercentMark(t *testing.T) {
	th := NewThrottle(1 << 30)

	assert.False(t, th.Due(0, 10, 1000))
	assert.True(t, th.Due(40, 60, 1000))
	assert.False(t, th.Due(60, 80, 1000))
}
