package events

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"iter"

	"github.com/rs/zerolog"
)

const maxLineSize = 10 * 1024 * 1024

// Decoder reads engine events from a newline-delimited JSON stream.
//
// Blank and malformed lines are skipped, as are lines longer than
// maxLineSize, which are dropped as soon as they grow past it. A line without
// its trailing newline at EOF is held back and completed by later reads, so a
// Decoder can follow a file that is still being written.
type Decoder struct {
	r       *bufio.Reader
	partial []byte
	// discarding is set while the rest of an oversized line is read past.
	discarding bool
	maxLine    int
	line       int
	skipped    int
	logger     zerolog.Logger
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader, logger zerolog.Logger) *Decoder {
	return &Decoder{
		r:       bufio.NewReaderSize(r, 64*1024),
		maxLine: maxLineSize,
		logger:  logger,
	}
}

// Next returns the next well-formed event. It returns io.EOF when no complete
// line is available.
func (d *Decoder) Next() (EngineEvent, error) {
	for {
		chunk, err := d.r.ReadSlice('\n')
		if !d.discarding {
			d.partial = append(d.partial, chunk...)
			if len(d.partial) > d.maxLine {
				d.skip("line exceeds maximum size", nil)
				d.partial = d.partial[:0]
				d.discarding = true
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			return EngineEvent{}, err
		}

		d.line++
		if d.discarding {
			d.discarding = false
			continue
		}
		line := bytes.TrimSpace(d.partial)
		if len(line) == 0 {
			d.partial = d.partial[:0]
			continue
		}
		ev, ok := d.decode(line)
		d.partial = d.partial[:0]
		if ok {
			return ev, nil
		}
	}
}

// Flush decodes a final line that was never newline-terminated.
func (d *Decoder) Flush() (EngineEvent, bool) {
	line := bytes.TrimSpace(d.partial)
	d.partial = d.partial[:0]
	if d.discarding {
		d.discarding = false
		return EngineEvent{}, false
	}
	if len(line) == 0 {
		return EngineEvent{}, false
	}
	d.line++
	return d.decode(line)
}

// All yields every remaining event, including a trailing unterminated line.
// The sequence ends at EOF or on a read error and cannot be restarted.
func (d *Decoder) All() iter.Seq[EngineEvent] {
	return func(yield func(EngineEvent) bool) {
		for {
			ev, err := d.Next()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					d.logger.Debug().Err(err).Msg("Event stream read failed")
					return
				}
				if last, ok := d.Flush(); ok {
					yield(last)
				}
				return
			}
			if !yield(ev) {
				return
			}
		}
	}
}

// Skipped returns how many non-blank lines could not be decoded.
func (d *Decoder) Skipped() int {
	return d.skipped
}

func (d *Decoder) decode(line []byte) (EngineEvent, bool) {
	var ev EngineEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		d.skip("malformed event line", err)
		return EngineEvent{}, false
	}
	if n := len(ev.populated()); n != 1 {
		d.skip("event line has no single known variant", nil)
		return EngineEvent{}, false
	}
	return ev, true
}

func (d *Decoder) skip(reason string, err error) {
	d.skipped++
	d.logger.Debug().Err(err).Int("line", d.line).Msg(reason)
}
