package app

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMessage(t *testing.T) {
	msg, ok := DecodeMessage(`Event|{"id":"a|b"}`)
	require.True(t, ok)
	assert.Equal(t, "Event", msg.Type)
	assert.Equal(t, `{"id":"a|b"}`, string(msg.Data))

	_, ok = DecodeMessage("close")
	assert.False(t, ok)
}

func TestEncodeMessage(t *testing.T) {
	frame, err := EncodeMessage("Subscribed", map[string]int{"count": 2})
	require.NoError(t, err)
	assert.Equal(t, `Subscribed|{"count":2}`, string(frame))
}

func TestEncodeDecodeKeepsType(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("type survives encode then decode", prop.ForAll(
		func(msgType string, body string) bool {
			frame, err := EncodeMessage(msgType, body)
			if err != nil {
				return false
			}
			msg, ok := DecodeMessage(string(frame))
			return ok && msg.Type == msgType && strings.HasPrefix(string(msg.Data), `"`)
		},
		gen.Identifier(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func TestClampPageSize(t *testing.T) {
	cfg := PaginationConfig{DefaultPageSize: 20, MaxPageSize: 50}
	assert.Equal(t, 20, ClampPageSize(0, cfg))
	assert.Equal(t, 20, ClampPageSize(-3, cfg))
	assert.Equal(t, 7, ClampPageSize(7, cfg))
	assert.Equal(t, 50, ClampPageSize(500, cfg))
	assert.Equal(t, 0, GetPageOffset(0, 10))
	assert.Equal(t, 20, GetPageOffset(3, 10))
}
