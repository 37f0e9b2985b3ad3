package packfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadDeltaSize(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		desc     string
		in       []byte
		expected int
		n        int
	}{
		{desc: "single byte", in: []byte{0x05}, expected: 5, n: 1},
		{desc: "two bytes", in: []byte{0x80 | 0x01, 0x02}, expected: 1 | (2 << 7), n: 2},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()

			size, n, err := readDeltaSize(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, size)
			assert.Equal(t, tc.n, n)
		})
	}
}

func encodeVarint(v int) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			break
		}
	}
	return out
}

func buildDelta(sourceSize, targetSize int, instructions []byte) []byte {
	out := append([]byte{}, encodeVarint(sourceSize)...)
	out = append(out, encodeVarint(targetSize)...)
	out = append(out, instructions...)
	return out
}

func TestApplyDeltaInsertOnly(t *testing.T) {
	t.Parallel()

	base := []byte("ignored")
	// INSERT instruction: 0x05 followed by 5 literal bytes.
	instr := append([]byte{0x05}, []byte("hello")...)
	delta := buildDelta(len(base), 5, instr)

	out, err := applyDelta(base, delta)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))
}

func TestApplyDeltaCopyAndInsert(t *testing.T) {
	t.Parallel()

	base := []byte("hello world")
	// COPY offset=0 length=5 ("hello"), then INSERT " there".
	copyInstr := []byte{
		0b1001_0001, // MSB set, offset byte0 present (bit0), length byte0 present (bit4)
		0x00,        // offset low byte = 0
		0x05,        // length low byte = 5
	}
	insertInstr := append([]byte{0x06}, []byte(" there")...)
	instructions := append(copyInstr, insertInstr...)
	delta := buildDelta(len(base), 11, instructions)

	out, err := applyDelta(base, delta)
	require.NoError(t, err)
	assert.Equal(t, "hello there", string(out))
}

func TestApplyDeltaRejectsBadBaseSize(t *testing.T) {
	t.Parallel()

	base := []byte("abc")
	delta := buildDelta(99, 3, []byte{0x03, 'x', 'y', 'z'})

	_, err := applyDelta(base, delta)
	require.ErrorIs(t, err, ErrDeltaMalformed)
}

func TestApplyDeltaRejectsOutOfBoundsCopy(t *testing.T) {
	t.Parallel()

	base := []byte("abc")
	copyInstr := []byte{
		0b1001_0001, // offset byte0 present, length byte0 present
		0x00,        // offset = 0
		0xFF,        // length = 255, way past base length
	}
	delta := buildDelta(len(base), 255, copyInstr)

	_, err := applyDelta(base, delta)
	require.ErrorIs(t, err, ErrDeltaMalformed)
}
