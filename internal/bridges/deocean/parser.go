package deocean

import (
	"encoding/binary"
	"fmt"
	"iter"
	"sync/atomic"
)

// minFrameProbe is the number of bytes needed to read a frame header.
const minFrameProbe = 3

// Parser reassembles frames from a byte stream.
//
// TCP reads may split a frame or carry several at once, so bytes that do
// not yet form a complete frame stay buffered until the next Feed. Corrupt
// input is skipped and the parser resynchronises on the next plausible
// frame; nothing in the stream can stop it from making progress.
//
// Thread Safety:
//   - A Parser is owned by a single reader (the gateway receive loop).
//   - Stats may be read concurrently.
type Parser struct {
	buf []byte

	logSink

	framesDecoded  atomic.Uint64
	decodeErrors   atomic.Uint64
	bytesDiscarded atomic.Uint64
}

// ParserStats holds parser counters.
type ParserStats struct {
	FramesDecoded  uint64
	DecodeErrors   uint64
	BytesDiscarded uint64
}

// NewParser creates an empty parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseFrames decodes every complete frame in data. Trailing bytes of an
// incomplete frame are ignored.
func ParseFrames(data []byte) iter.Seq[Frame] {
	return NewParser().Feed(data)
}

// SetLogger sets the logger for this parser.
func (p *Parser) SetLogger(logger Logger) {
	p.set(logger)
}

// Feed appends data to the internal buffer and returns a sequence over the
// frames that are complete. Frames are decoded lazily as the sequence is
// consumed; if iteration stops early the remaining bytes stay buffered.
//
// Parameters:
//   - data: Bytes from the latest read (may be empty)
//
// Returns:
//   - iter.Seq[Frame]: Decoded frames in stream order
func (p *Parser) Feed(data []byte) iter.Seq[Frame] {
	p.buf = append(p.buf, data...)

	return func(yield func(Frame) bool) {
		for {
			frame, ok, more := p.step()
			if !more {
				return
			}
			if !ok {
				continue
			}
			if !yield(frame) {
				return
			}
		}
	}
}

// Buffered returns the number of bytes waiting for the rest of a frame.
func (p *Parser) Buffered() int {
	return len(p.buf)
}

// Reset drops any buffered bytes. Used when the underlying stream is
// replaced, since a partial frame from a closed socket can never complete.
func (p *Parser) Reset() {
	p.buf = nil
}

// Stats returns the parser counters.
func (p *Parser) Stats() ParserStats {
	return ParserStats{
		FramesDecoded:  p.framesDecoded.Load(),
		DecodeErrors:   p.decodeErrors.Load(),
		BytesDiscarded: p.bytesDiscarded.Load(),
	}
}

// step consumes at most one frame from the head of the buffer.
//
// Returns:
//   - frame: The decoded frame, valid when ok is true
//   - ok: A frame was decoded
//   - more: The buffer may hold further frames; false means wait for data
func (p *Parser) step() (frame Frame, ok, more bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logWarn("frame decode panicked, skipping one byte", "panic", fmt.Sprint(r))
			p.skip(1)
			frame, ok, more = Frame{}, false, true
		}
	}()

	buf := p.buf
	if len(buf) < minFrameProbe {
		return Frame{}, false, false
	}

	typ := TypeCode(buf[0])
	if !typ.Valid() {
		p.skip(1)
		return Frame{}, false, true
	}

	header := lightHeaderSize
	declared := int(buf[1])
	if typ == TypeCover {
		if buf[1] != coverPlaceholder {
			p.logWarn("cover frame without placeholder, resyncing",
				"got", fmt.Sprintf("0x%02X", buf[1]))
			p.skip(1)
			return Frame{}, false, true
		}
		header = coverHeaderSize
		// The cover length also counts the placeholder.
		declared = int(buf[2]) - 1
		if declared < 0 {
			p.skip(1)
			return Frame{}, false, true
		}
	}

	size := header + declared + 1
	if len(buf) < size {
		return Frame{}, false, false
	}

	raw := buf[:size]
	if raw[size-1] != stopByte {
		p.logDebug("frame without stop byte, discarding", "data", hexDump(raw))
		p.skip(size)
		return Frame{}, false, true
	}

	payload := raw[header:]
	fn := FuncCode(payload[0])
	if !fn.Valid() {
		p.skip(1)
		return Frame{}, false, true
	}

	frame = Frame{Type: typ, Func: fn}
	if fn != FuncSearch {
		if len(payload) < minClassifiedPayload {
			p.logDebug("frame too short for an address, discarding", "data", hexDump(raw))
			p.skip(size)
			return Frame{}, false, true
		}
		frame.Address = Address(binary.BigEndian.Uint32(payload[1 : 1+addressBytes]))
		if frame.Address == 0 {
			p.skip(size)
			return Frame{}, false, true
		}
		if err := classifyTail(&frame, payload); err != nil {
			p.decodeErrors.Add(1)
			p.logWarn("skipping undecodable frame", "error", err, "data", hexDump(raw))
			p.skip(size)
			return Frame{}, false, true
		}
	}

	p.discard(size)
	p.framesDecoded.Add(1)
	return frame, true, true
}

// skip drops n bytes that did not produce a frame.
func (p *Parser) skip(n int) {
	p.bytesDiscarded.Add(uint64(min(n, len(p.buf))))
	p.discard(n)
}

// discard drops n bytes from the head of the buffer.
func (p *Parser) discard(n int) {
	if n > len(p.buf) {
		n = len(p.buf)
	}
	p.buf = p.buf[n:]
	if len(p.buf) == 0 {
		p.buf = nil
	}
}
