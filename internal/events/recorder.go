package events

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/engagement-simulator/core"
)

// Recorder writes every event it receives to w as a length-delimited
// protobuf Struct. The first write error is kept and later events are
// dropped.
type Recorder struct {
	mu  sync.Mutex
	w   io.Writer
	n   int
	err error
}

// NewRecorder returns a recorder writing to w.
func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{w: w}
}

// Attach subscribes the recorder to bus.
func (r *Recorder) Attach(bus *Bus) (detach func()) {
	return bus.Subscribe(r.Record)
}

// Record encodes and writes e.
func (r *Recorder) Record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	msg, err := Encode(e)
	if err != nil {
		r.err = err
		return
	}
	if _, err := protodelim.MarshalTo(r.w, msg); err != nil {
		r.err = fmt.Errorf("write event: %w", err)
		return
	}
	r.n++
}

// Count returns the number of events written.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Err returns the first error encountered.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Encode converts e to its wire form.
func Encode(e Event) (*structpb.Struct, error) {
	fields := map[string]any{
		"kind":     e.Kind.String(),
		"time":     e.Time,
		"agent":    e.Agent,
		"position": []any{e.Position.X, e.Position.Y, e.Position.Z},
	}
	if e.Other != "" {
		fields["other"] = e.Other
	}
	if e.Detail != "" {
		fields["detail"] = e.Detail
	}
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", e.Kind, err)
	}
	return msg, nil
}

// Decode is the inverse of Encode.
func Decode(msg *structpb.Struct) Event {
	f := msg.GetFields()
	e := Event{
		Kind:   parseKind(f["kind"].GetStringValue()),
		Time:   f["time"].GetNumberValue(),
		Agent:  f["agent"].GetStringValue(),
		Other:  f["other"].GetStringValue(),
		Detail: f["detail"].GetStringValue(),
	}
	if p := f["position"].GetListValue().GetValues(); len(p) == 3 {
		e.Position = core.Vec3{X: p[0].GetNumberValue(), Y: p[1].GetNumberValue(), Z: p[2].GetNumberValue()}
	}
	return e
}

// ReadAll decodes every event in a log written by a Recorder.
func ReadAll(r io.Reader) ([]Event, error) {
	br := bufio.NewReader(r)
	var out []Event
	for {
		msg := &structpb.Struct{}
		err := protodelim.UnmarshalFrom(br, msg)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("read event %d: %w", len(out), err)
		}
		out = append(out, Decode(msg))
	}
}

func parseKind(s string) Kind {
	for k := KindHit; k <= KindEvaded; k++ {
		if k.String() == s {
			return k
		}
	}
	return Kind(-1)
}
