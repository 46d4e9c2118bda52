package sequencer

import (
	"strings"

	"github.com/dshills/convoflow-go/sequencer/store"
)

// Coalescer merges a batch of queued entries into one composite payload.
//
// The sequencer guarantees entries arrive in FIFO acceptance order and
// that the composite is the input to exactly one eventual run; what the
// merged payload looks like is a policy choice. Supply a custom Coalescer
// via Options to change it.
type Coalescer func(entries []store.Entry) store.Payload

// textSeparator joins free-text bodies from coalesced entries.
const textSeparator = "\n"

// CoalescePayloads is the default coalescing policy:
//   - free-text bodies are concatenated in order, separated by newlines
//   - the most recently attached media reference wins
//   - routing metadata is taken from the first entry
func CoalescePayloads(entries []store.Entry) store.Payload {
	if len(entries) == 0 {
		return store.Payload{}
	}

	var texts []string
	var mediaURL string
	for _, entry := range entries {
		if entry.Payload.Text != "" {
			texts = append(texts, entry.Payload.Text)
		}
		if entry.Payload.MediaURL != "" {
			mediaURL = entry.Payload.MediaURL
		}
	}

	var meta map[string]string
	if src := entries[0].Payload.Meta; len(src) > 0 {
		meta = make(map[string]string, len(src))
		for k, v := range src {
			meta[k] = v
		}
	}

	return store.Payload{
		Text:     strings.Join(texts, textSeparator),
		MediaURL: mediaURL,
		Meta:     meta,
	}
}
