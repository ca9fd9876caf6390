package cpim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAndParse(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	msg := &Message{
		From:        "sip:+33600000001@ims.example.com",
		To:          "sip:+33600000002@ims.example.com",
		DateTime:    now,
		MessageID:   "Msg123",
		Disposition: []string{DispositionPositiveDelivery, DispositionDisplay},
		ContentType: "text/plain;charset=UTF-8",
		Content:     []byte("hello\r\nworld"),
	}

	data := msg.Build()
	assert.Contains(t, string(data), "NS: imdn <urn:ietf:params:imdn>\r\n")
	assert.Contains(t, string(data), "imdn.Message-ID: Msg123\r\n")

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "<sip:+33600000001@ims.example.com>", parsed.From)
	assert.Equal(t, "Msg123", parsed.MessageID)
	assert.True(t, parsed.DateTime.Equal(now))
	assert.True(t, parsed.WantsDelivery())
	assert.True(t, parsed.WantsDisplay())
	assert.Equal(t, "text/plain;charset=UTF-8", parsed.ContentType)
	assert.Equal(t, "hello\r\nworld", string(parsed.Content))
}

func TestBuildAnonymous(t *testing.T) {
	msg := &Message{ContentType: "text/plain", Content: []byte("x")}
	parsed, err := Parse(msg.Build())
	require.NoError(t, err)
	assert.Equal(t, anonymousURI, parsed.From)
	assert.Empty(t, parsed.MessageID)
	assert.False(t, parsed.WantsDelivery())
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse([]byte("not a header line\r\n\r\n"))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Parse([]byte(""))
	assert.ErrorIs(t, err, ErrMalformed)
}
