package genai

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// SSE framing constants shared by the stream decoder and the streaming
// chat endpoint.
const (
	// SSEDataPrefix precedes every payload line.
	SSEDataPrefix = "data: "
	// SSEDoneToken is the literal payload of the terminating line.
	SSEDoneToken = "[DONE]"
)

// streamPayload mirrors the wire shape of one data line: a JSON object whose
// choices[0].delta.content field carries the text increment.
type streamPayload struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// EncodeStreamDelta renders one text increment as a data line (without the
// trailing newline), the exact inverse of what StreamDecoder parses.
func EncodeStreamDelta(delta string) string {
	payload := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"delta": map[string]string{"content": delta}},
		},
	}
	b, err := json.Marshal(payload)
	if err != nil {
		// Marshaling a map of strings cannot fail; keep the stream alive regardless.
		slog.Error("genai.EncodeStreamDelta: marshal failed", "error", err)
		return SSEDataPrefix + "{}"
	}
	return SSEDataPrefix + string(b)
}

// StreamDecoder decodes a server-sent-events style completion stream delivered
// in arbitrarily sized chunks. Lines are framed as "data: {json}" and the
// stream ends with a line whose payload is the literal token [DONE]. A partial
// trailing line (no terminating newline yet) is buffered and re-parsed when
// the next chunk arrives, never dropped, so accumulation is independent of how
// the transport happens to split the bytes.
//
// The zero value is ready to use. Not safe for concurrent use; a decoder
// belongs to the single consumption loop reading one response body.
type StreamDecoder struct {
	buf  []byte
	done bool
}

// Feed consumes the next raw chunk and returns the text increments completed
// by it, in order. Increments already surfaced are never returned again.
func (d *StreamDecoder) Feed(chunk []byte) []string {
	if d.done {
		return nil
	}
	d.buf = append(d.buf, chunk...)

	var deltas []string
	for {
		idx := indexNewline(d.buf)
		if idx < 0 {
			break
		}
		line := strings.TrimRight(string(d.buf[:idx]), "\r")
		d.buf = d.buf[idx+1:]

		if delta, ok := d.decodeLine(line); ok {
			deltas = append(deltas, delta)
		}
		if d.done {
			break
		}
	}
	return deltas
}

// Done reports whether the [DONE] terminator has been seen.
func (d *StreamDecoder) Done() bool {
	return d.done
}

// decodeLine parses a single complete line, returning a text increment when
// the line carries one.
func (d *StreamDecoder) decodeLine(line string) (string, bool) {
	if line == "" || !strings.HasPrefix(line, SSEDataPrefix) {
		return "", false
	}
	payload := strings.TrimPrefix(line, SSEDataPrefix)
	if payload == SSEDoneToken {
		d.done = true
		return "", false
	}
	var p streamPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		slog.Debug("genai.StreamDecoder: skipping malformed data line", "error", err, "lineLength", len(line))
		return "", false
	}
	if len(p.Choices) == 0 || p.Choices[0].Delta.Content == "" {
		return "", false
	}
	return p.Choices[0].Delta.Content, true
}

func indexNewline(b []byte) int {
	for i, c := range b {
		if c == '\n' {
			return i
		}
	}
	return -1
}
