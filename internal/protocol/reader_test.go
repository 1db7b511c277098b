package protocol

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineReader(t *testing.T) {
	long := "bob@:#" + strings.Repeat("x", 10000)
	lr := NewLineReader(strings.NewReader("alice@:#Ping\r\n"+long+"\nshort\nlast"), 64)

	line, err := lr.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "alice@:#Ping", line)

	line, err = lr.ReadLine()
	assert.ErrorIs(t, err, ErrLineTooLong)
	assert.Equal(t, long[:64], line)
	tag, _, ok := SplitTag(line)
	assert.True(t, ok)
	assert.Equal(t, "bob", tag)

	line, err = lr.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "short", line)

	line, err = lr.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "last", line)

	_, err = lr.ReadLine()
	assert.ErrorIs(t, err, io.EOF)
}
