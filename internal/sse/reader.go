// Package sse reads Server-Sent Events from a text/event-stream body.
//
// Frames are parsed by go-sse's standalone reader, which does no
// reconnecting of its own; this package turns its iterator into the
// blocking Next that stream consumers call. Reconnection stays with the
// caller.
package sse

import (
	"bufio"
	"bytes"
	"io"
	"iter"

	gosse "github.com/tmaxmax/go-sse"
)

// maxEventSize bounds a single event. Device lists for a house comfortably
// fit; anything larger is treated as a broken stream.
const maxEventSize = 1 << 20

const defaultEventType = "message"

var byteOrderMark = []byte("\ufeff")

// Event is one dispatched server-sent event.
type Event struct {
	// ID is the last event id seen on the stream.
	ID string
	// Name is the event type; empty for unnamed events and for the
	// default "message" type.
	Name string
	// Data is the event payload with multi-line data joined by "\n".
	Data []byte
}

// Reader parses events from an event stream. It is not safe for
// concurrent use.
type Reader struct {
	next func() (gosse.Event, error, bool)
	stop func()
	err  error
}

// NewReader returns a Reader consuming r.
func NewReader(r io.Reader) *Reader {
	events := gosse.Read(stripBOM(r), &gosse.ReadConfig{MaxEventSize: maxEventSize})
	next, stop := iter.Pull2(iter.Seq2[gosse.Event, error](events))
	return &Reader{next: next, stop: stop}
}

// Next blocks until a complete event is available. It returns io.EOF when
// the stream ends; a trailing event without its blank line is never
// returned. Once Next has returned an error it keeps returning it.
func (r *Reader) Next() (Event, error) {
	if r.err != nil {
		return Event{}, r.err
	}

	ev, err, ok := r.next()
	if !ok {
		return Event{}, r.finish(io.EOF)
	}
	if err != nil {
		return Event{}, r.finish(err)
	}

	name := ev.Type
	if name == defaultEventType {
		name = ""
	}
	return Event{ID: ev.LastEventID, Name: name, Data: []byte(ev.Data)}, nil
}

func (r *Reader) finish(err error) error {
	r.err = err
	r.stop()
	return err
}

// stripBOM drops one leading U+FEFF, which the event-stream format
// ignores.
func stripBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(byteOrderMark)); err == nil && bytes.Equal(head, byteOrderMark) {
		//nolint:errcheck // Peek already buffered these bytes
		br.Discard(len(byteOrderMark))
	}
	return br
}
