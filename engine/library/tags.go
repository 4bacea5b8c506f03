package library

import (
	"github.com/nbd-wtf/go-nostr"
)

// TagValues returns the first value of every tag whose name matches. It always
// returns a slice (possibly empty), never an error, so callers must check
// length before indexing.
func TagValues(e nostr.Event, name string) []string {
	values := make([]string, 0)
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			values = append(values, tag[1])
		}
	}
	return values
}

// FirstTagValue returns the first value of the first tag with the given name.
func FirstTagValue(e nostr.Event, name string) (string, bool) {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1], true
		}
	}
	return "", false
}

// HasTagValue reports whether any tag with the given name carries the value.
func HasTagValue(e nostr.Event, name, value string) bool {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name && tag[1] == value {
			return true
		}
	}
	return false
}
