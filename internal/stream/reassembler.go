// internal/stream/reassembler.go

// Package stream reconstructs ordered text from index-tagged partial
// updates. Deltas for an in-progress message part arrive with an integer
// index but no ordering guarantee; each part keeps a pending-by-index
// buffer and a flush watermark so the visible text is always a
// contiguous prefix of the true stream. A gap that is never filled
// buffers indefinitely: is_done is the only completion signal, callers
// must never infer completion from delta silence.
package stream

import (
	"encoding/json"
	"regexp"

	"github.com/user/roomsync/internal/types"
)

// NoIndex marks a delta that arrived without an index. These fall back
// to naive append in arrival order, an explicitly degraded mode where
// reordering on the wire scrambles the text.
const NoIndex = -1

// deltaState is one buffered accumulator on a part. Text and tool
// arguments each get their own, so the two streams cannot block each
// other.
type deltaState struct {
	content *string
	pending *map[int]string
	last    *int
}

func textState(p *types.MessagePart) deltaState {
	return deltaState{content: &p.Text, pending: &p.Pending, last: &p.LastFlushed}
}

func argsState(p *types.MessagePart) deltaState {
	return deltaState{content: &p.Arguments, pending: &p.ArgsPending, last: &p.ArgsLastFlushed}
}

// apply buffers one delta and flushes every consecutive chunk starting
// at the watermark. Returns false when the delta was a duplicate or
// behind the watermark.
func (st deltaState) apply(delta string, index int) bool {
	if index < 0 {
		*st.content += delta
		return true
	}
	if index <= *st.last {
		return false
	}
	if *st.pending == nil {
		*st.pending = make(map[int]string)
	}
	if _, dup := (*st.pending)[index]; dup {
		return false
	}
	(*st.pending)[index] = delta

	for {
		chunk, ok := (*st.pending)[*st.last+1]
		if !ok {
			break
		}
		*st.content += chunk
		delete(*st.pending, *st.last+1)
		*st.last++
	}
	return true
}

// ApplyTextDelta feeds one text chunk into the part. Index NoIndex
// selects the degraded append path.
func ApplyTextDelta(p *types.MessagePart, delta string, index int) bool {
	if p.IsDone {
		return false
	}
	return textState(p).apply(delta, index)
}

// ApplyArgumentsDelta feeds one tool-arguments chunk into the part and
// refreshes the display fields extracted from the accumulated JSON.
func ApplyArgumentsDelta(p *types.MessagePart, delta string, index int) bool {
	if p.IsDone {
		return false
	}
	if !argsState(p).apply(delta, index) {
		return false
	}
	extractSpecialFields(p)
	return true
}

// MarkDone closes the part: buffering state is discarded, accumulated
// text is kept.
func MarkDone(p *types.MessagePart) {
	p.IsDone = true
	p.Pending = nil
	p.ArgsPending = nil
}

// Reset returns the part to its pre-stream state, used when a stream is
// retried from scratch.
func Reset(p *types.MessagePart) {
	p.Text = ""
	p.Pending = nil
	p.LastFlushed = -1
	p.Arguments = ""
	p.ArgsPending = nil
	p.ArgsLastFlushed = -1
	p.ActNow = ""
	p.ActDone = ""
	p.Intent = ""
	p.UseIntent = false
	p.IsDone = false
}

// specialFields are display hints embedded in tool arguments under
// reserved keys.
type specialFields struct {
	ActNow    string `json:"__act_now"`
	ActDone   string `json:"__act_done"`
	Intent    string `json:"__intent"`
	UseIntent *bool  `json:"__use_intent"`
}

var partialFieldRe = map[string]*regexp.Regexp{
	"__act_now":  regexp.MustCompile(`"__act_now"\s*:\s*"([^"]*)"`),
	"__act_done": regexp.MustCompile(`"__act_done"\s*:\s*"([^"]*)"`),
	"__intent":   regexp.MustCompile(`"__intent"\s*:\s*"([^"]*)"`),
}

// extractSpecialFields pulls the reserved display keys out of the
// accumulated arguments. While the stream is mid-flight the JSON rarely
// parses, so a regex fallback scans the partial document.
func extractSpecialFields(p *types.MessagePart) {
	if p.Arguments == "" {
		return
	}
	var sf specialFields
	if err := json.Unmarshal([]byte(p.Arguments), &sf); err == nil {
		if sf.ActNow != "" {
			p.ActNow = sf.ActNow
		}
		if sf.ActDone != "" {
			p.ActDone = sf.ActDone
		}
		if sf.Intent != "" {
			p.Intent = sf.Intent
		}
		if sf.UseIntent != nil {
			p.UseIntent = *sf.UseIntent
		}
		return
	}
	if m := partialFieldRe["__act_now"].FindStringSubmatch(p.Arguments); m != nil {
		p.ActNow = m[1]
	}
	if m := partialFieldRe["__act_done"].FindStringSubmatch(p.Arguments); m != nil {
		p.ActDone = m[1]
	}
	if m := partialFieldRe["__intent"].FindStringSubmatch(p.Arguments); m != nil {
		p.Intent = m[1]
	}
}
