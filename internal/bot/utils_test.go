package bot

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatReplyText(t *testing.T) {
	text := formatReplyText(`
		%s
		  indented
		end`, "start")
	assert.Equal(t, "start\n  indented\nend", text)
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input string
		cmd   string
		args  []string
	}{
		{"/start", "/start", []string{}},
		{"/help@smartbite_bot", "/help", []string{}},
		{"/start  foo bar", "/start", []string{"foo", "bar"}},
		{"", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cmd, args := parseCommand(tt.input)
			assert.Equal(t, tt.cmd, cmd)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestReadLimited(t *testing.T) {
	data, err := readLimited(bytes.NewReader([]byte("12345")), 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("12345"), data)

	_, err = readLimited(bytes.NewReader([]byte("123456")), 5)
	assert.ErrorContains(t, err, "too large")
}
