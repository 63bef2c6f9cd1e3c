package deocean

import (
	"slices"
	"testing"
)

var (
	sampleLightOn = []byte{0x7E, 0x08, 0x0C, 0x00, 0x1E, 0x9D, 0xFE, 0x01, 0x02, 0x01, 0x0D}
	sampleCover   = []byte{0x55, 0xAA, 0x09, 0x0D, 0x74, 0xC1, 0x5D, 0x78, 0x01, 0x04, 0x61, 0x0D}
)

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestParserSplitFrame(t *testing.T) {
	p := NewParser()

	// Every split point of a frame must yield exactly one frame once the
	// rest arrives.
	for cut := 1; cut < len(sampleCover); cut++ {
		first := slices.Collect(p.Feed(sampleCover[:cut]))
		if len(first) != 0 {
			t.Fatalf("cut %d: decoded %d frames from partial data", cut, len(first))
		}
		if p.Buffered() != cut {
			t.Fatalf("cut %d: Buffered() = %d", cut, p.Buffered())
		}

		rest := slices.Collect(p.Feed(sampleCover[cut:]))
		if len(rest) != 1 {
			t.Fatalf("cut %d: decoded %d frames, want 1", cut, len(rest))
		}
		if rest[0].Position != 97 || !rest[0].HasPosition {
			t.Errorf("cut %d: frame = %+v", cut, rest[0])
		}
		if p.Buffered() != 0 {
			t.Errorf("cut %d: %d bytes left buffered", cut, p.Buffered())
		}
	}
}

func TestParserMultipleFrames(t *testing.T) {
	frames := slices.Collect(ParseFrames(concat(sampleLightOn, sampleCover, sampleLightOn)))
	if len(frames) != 3 {
		t.Fatalf("decoded %d frames, want 3", len(frames))
	}
	if frames[0].Type != TypeLight || frames[1].Type != TypeCover || frames[2].Type != TypeLight {
		t.Errorf("frames decoded out of order: %v", frames)
	}
}

func TestParserResync(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want int
	}{
		{
			name: "garbage before frame",
			data: concat([]byte{0x00, 0x13, 0x37}, sampleLightOn),
			want: 1,
		},
		{
			name: "cover without placeholder",
			data: concat([]byte{0x55, 0x09, 0x0D}, sampleCover),
			want: 1,
		},
		{
			name: "missing stop byte",
			data: concat([]byte{0x7E, 0x05, 0x0D, 0x00, 0x1E, 0x9D, 0xFE, 0xFF}, sampleLightOn),
			want: 1,
		},
		{
			name: "unknown control code",
			data: concat([]byte{0x7E, 0x08, 0x0C, 0x00, 0x1E, 0x9D, 0xFE, 0x01, 0x12, 0x34, 0x0D}, sampleCover),
			want: 1,
		},
		{
			name: "zero address",
			data: concat([]byte{0x7E, 0x05, 0x0D, 0x00, 0x00, 0x00, 0x00, 0x0D}, sampleLightOn),
			want: 1,
		},
		{
			name: "unknown function",
			data: concat([]byte{0x7E, 0x05, 0x42, 0x00, 0x1E, 0x9D, 0xFE, 0x0D}, sampleLightOn),
			want: 1,
		},
		{
			name: "only noise",
			data: []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := slices.Collect(ParseFrames(tt.data))
			if len(got) != tt.want {
				t.Errorf("decoded %d frames, want %d: %v", len(got), tt.want, got)
			}
		})
	}
}

func TestParserStats(t *testing.T) {
	p := NewParser()
	bad := []byte{0x7E, 0x08, 0x0C, 0x00, 0x1E, 0x9D, 0xFE, 0x01, 0x12, 0x34, 0x0D}

	for range p.Feed(concat([]byte{0x00, 0x00}, bad, sampleLightOn)) {
	}

	stats := p.Stats()
	if stats.FramesDecoded != 1 {
		t.Errorf("FramesDecoded = %d, want 1", stats.FramesDecoded)
	}
	if stats.DecodeErrors != 1 {
		t.Errorf("DecodeErrors = %d, want 1", stats.DecodeErrors)
	}
	if want := uint64(2 + len(bad)); stats.BytesDiscarded != want {
		t.Errorf("BytesDiscarded = %d, want %d", stats.BytesDiscarded, want)
	}
}

func TestParserEarlyBreakKeepsRemainder(t *testing.T) {
	p := NewParser()
	for range p.Feed(concat(sampleLightOn, sampleCover)) {
		break
	}
	if p.Buffered() != len(sampleCover) {
		t.Fatalf("Buffered() = %d, want %d", p.Buffered(), len(sampleCover))
	}

	rest := slices.Collect(p.Feed(nil))
	if len(rest) != 1 || rest[0].Type != TypeCover {
		t.Errorf("remaining frames = %v", rest)
	}
}

func TestParserReset(t *testing.T) {
	p := NewParser()
	for range p.Feed(sampleCover[:5]) {
	}
	p.Reset()
	if p.Buffered() != 0 {
		t.Fatalf("Buffered() after Reset = %d", p.Buffered())
	}

	// The tail of the dropped frame is noise; the next frame still decodes.
	got := slices.Collect(p.Feed(concat(sampleCover[5:], sampleLightOn)))
	if len(got) != 1 || got[0].Type != TypeLight {
		t.Errorf("frames after Reset = %v", got)
	}
}
