package library

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
)

func TestTagValues(t *testing.T) {
	event := nostr.Event{Tags: nostr.Tags{
		nostr.Tag{"p", "key-one"},
		nostr.Tag{"e", "event-id"},
		nostr.Tag{"p", "key-two"},
		nostr.Tag{"broken"},
	}}

	assert.Equal(t, []string{"key-one", "key-two"}, TagValues(event, "p"))
	assert.Equal(t, []string{"event-id"}, TagValues(event, "e"))

	// missing and malformed tags yield an empty slice, never a failure
	assert.Empty(t, TagValues(event, "d"))
	assert.Empty(t, TagValues(event, "broken"))
	assert.Empty(t, TagValues(nostr.Event{}, "p"))
}

func TestFirstTagValue(t *testing.T) {
	event := nostr.Event{Tags: nostr.Tags{nostr.Tag{"a", "first"}, nostr.Tag{"a", "second"}}}
	v, ok := FirstTagValue(event, "a")
	assert.True(t, ok)
	assert.Equal(t, "first", v)

	_, ok = FirstTagValue(event, "b")
	assert.False(t, ok)
}

func TestHasTagValue(t *testing.T) {
	event := nostr.Event{Tags: nostr.Tags{nostr.Tag{"p", "issuer-key"}}}
	assert.True(t, HasTagValue(event, "p", "issuer-key"))
	assert.False(t, HasTagValue(event, "p", "other-key"))
	assert.False(t, HasTagValue(event, "e", "issuer-key"))
}
