package genai

import (
	"strings"
	"testing"
)

const referencePayload = "data: {\"choices\":[{\"delta\":{\"content\":\"Den\"}}]}\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"tal \"}}]}\n" +
	"\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"care\"}}]}\n" +
	"data: [DONE]\n"

func decodeAll(t *testing.T, chunks []string) (string, bool) {
	t.Helper()
	var d StreamDecoder
	var sb strings.Builder
	for _, c := range chunks {
		for _, delta := range d.Feed([]byte(c)) {
			sb.WriteString(delta)
		}
	}
	return sb.String(), d.Done()
}

func TestStreamDecoderSingleChunk(t *testing.T) {
	out, done := decodeAll(t, []string{referencePayload})
	if out != "Dental care" {
		t.Errorf("expected 'Dental care', got %q", out)
	}
	if !done {
		t.Error("expected DONE terminator to be recognized")
	}
}

func TestStreamDecoderChunkBoundaryIndependence(t *testing.T) {
	want, _ := decodeAll(t, []string{referencePayload})

	// Split the reference payload at every possible single boundary, then at
	// every byte, and require identical accumulation.
	for i := 1; i < len(referencePayload); i++ {
		got, done := decodeAll(t, []string{referencePayload[:i], referencePayload[i:]})
		if got != want {
			t.Fatalf("split at %d: got %q, want %q", i, got, want)
		}
		if !done {
			t.Fatalf("split at %d: DONE not recognized", i)
		}
	}

	var bytewise []string
	for i := 0; i < len(referencePayload); i++ {
		bytewise = append(bytewise, referencePayload[i:i+1])
	}
	got, done := decodeAll(t, bytewise)
	if got != want || !done {
		t.Fatalf("bytewise: got %q done=%v, want %q done=true", got, done, want)
	}
}

func TestStreamDecoderBuffersPartialTrailingLine(t *testing.T) {
	var d StreamDecoder
	// First chunk ends mid-line; nothing may be emitted or dropped.
	if deltas := d.Feed([]byte("data: {\"choices\":[{\"delta\":{\"con")); len(deltas) != 0 {
		t.Fatalf("partial line must not emit, got %v", deltas)
	}
	deltas := d.Feed([]byte("tent\":\"hi\"}}]}\n"))
	if len(deltas) != 1 || deltas[0] != "hi" {
		t.Fatalf("expected buffered line to complete as 'hi', got %v", deltas)
	}
}

func TestStreamDecoderSkipsMalformedLines(t *testing.T) {
	var d StreamDecoder
	deltas := d.Feed([]byte("data: {not json}\ndata: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n"))
	if len(deltas) != 1 || deltas[0] != "ok" {
		t.Fatalf("malformed line must be skipped without killing the stream, got %v", deltas)
	}
}

func TestStreamDecoderIgnoresInputAfterDone(t *testing.T) {
	var d StreamDecoder
	d.Feed([]byte("data: [DONE]\n"))
	if !d.Done() {
		t.Fatal("expected done")
	}
	if deltas := d.Feed([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"late\"}}]}\n")); len(deltas) != 0 {
		t.Errorf("no increments may be emitted after DONE, got %v", deltas)
	}
}

func TestEncodeStreamDeltaRoundTrip(t *testing.T) {
	var d StreamDecoder
	line := EncodeStreamDelta("some \"quoted\" text")
	deltas := d.Feed([]byte(line + "\n"))
	if len(deltas) != 1 || deltas[0] != "some \"quoted\" text" {
		// The encoder and decoder must agree on framing and escaping.
		t.Fatalf("round trip mismatch: %v", deltas)
	}
}
