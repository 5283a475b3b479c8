// Package stream decodes the RAG backend's incremental wire protocol. The backend delivers an
// answer as a sequence of newline-delimited frames of the form "data: <token>", closed by a frame
// whose payload is the literal terminator "[DONE]". Chunks arrive with arbitrary boundaries, so a
// frame may be split across reads; the assembler carries the undecoded remainder between feeds.
package stream

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
)

const (
	frameMarker = "data: "
	terminator  = "[DONE]"
)

// ErrUnterminated reports that the channel closed before the terminator frame arrived. It is a
// completion signal rather than a failure: consumers should finalize the in-progress message the
// same way they would on a terminator, so the UI never shows a permanently loading message when
// the server closes early.
var ErrUnterminated = errors.New("stream ended without terminator")

// Assembler turns raw protocol chunks into discrete answer tokens. It is a single-use object:
// once the terminator has been observed no further input is processed, and a new query requires
// a new Assembler.
type Assembler struct {
	buf  string
	done bool
}

// NewAssembler creates an Assembler with an empty carry-over buffer.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// Feed consumes one raw chunk and returns the tokens completed by it, in arrival order. A chunk
// may complete zero, one, or many frames. The trailing data after the last newline is not a
// complete frame and is retained for the next feed. Lines without the frame marker are protocol
// noise (comments, keep-alives) and are discarded. After the terminator frame, Feed returns nil.
func (a *Assembler) Feed(chunk string) []string {
	if a.done {
		return nil
	}

	lines := strings.Split(a.buf+chunk, "\n")
	a.buf = lines[len(lines)-1]

	var tokens []string
	for _, line := range lines[:len(lines)-1] {
		payload, ok := strings.CutPrefix(line, frameMarker)
		if !ok {
			continue
		}
		payload = strings.TrimSpace(payload)
		if payload == terminator {
			a.done = true
			a.buf = ""
			break
		}
		tokens = append(tokens, payload)
	}
	return tokens
}

// Done reports whether the terminator frame has been observed.
func (a *Assembler) Done() bool {
	return a.done
}

// Decode reads r to completion and yields one token per well-formed frame. The iterator is finite
// and not restartable. Reaching the terminator ends the iteration cleanly and leaves the rest of
// r unread; end-of-input without a terminator yields ErrUnterminated as the final pair.
func Decode(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		a := NewAssembler()
		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				for _, token := range a.Feed(string(buf[:n])) {
					if !yield(token, nil) {
						return
					}
				}
				if a.Done() {
					return
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					yield("", ErrUnterminated)
					return
				}
				yield("", fmt.Errorf("error reading stream: %w", err))
				return
			}
		}
	}
}
