package registry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/noretmy/escrow-backend/pkg/enums"
)

// ErrNoDecoder is returned by Decode for an event type and version nobody bound.
var ErrNoDecoder = errors.New("no decoder bound")

// Decoder turns an envelope's data field into a typed payload.
type Decoder func(data json.RawMessage) (any, error)

// Binding attaches a Decoder to one schema version of an event type.
type Binding struct {
	EventType enums.OutboxEventType
	Version   int
	Decode    Decoder
}

// JSON binds eventType@version to a plain JSON decode into *T.
func JSON[T any](eventType enums.OutboxEventType, version int) Binding {
	return Binding{
		EventType: eventType,
		Version:   version,
		Decode: func(data json.RawMessage) (any, error) {
			out := new(T)
			if err := json.Unmarshal(data, out); err != nil {
				return nil, err
			}
			return out, nil
		},
	}
}

type schemaKey struct {
	eventType enums.OutboxEventType
	version   int
}

// Decoders is a fixed set of versioned payload decoders used by consumers.
// It is immutable once built and safe for concurrent use.
type Decoders struct {
	bound map[schemaKey]Decoder
}

// NewDecoders builds the set, rejecting incomplete or duplicate bindings.
func NewDecoders(bindings ...Binding) (*Decoders, error) {
	d := &Decoders{bound: make(map[schemaKey]Decoder, len(bindings))}
	for _, b := range bindings {
		if b.EventType == "" || b.Version <= 0 || b.Decode == nil {
			return nil, fmt.Errorf("incomplete decoder binding for %q@v%d", b.EventType, b.Version)
		}
		key := schemaKey{eventType: b.EventType, version: b.Version}
		if _, dup := d.bound[key]; dup {
			return nil, fmt.Errorf("decoder for %s@v%d bound twice", b.EventType, b.Version)
		}
		d.bound[key] = b.Decode
	}
	return d, nil
}

// MustDecoders is NewDecoders for package-level tables; it panics on a bad binding.
func MustDecoders(bindings ...Binding) *Decoders {
	d, err := NewDecoders(bindings...)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Decoders) Has(eventType enums.OutboxEventType, version int) bool {
	_, ok := d.bound[schemaKey{eventType: eventType, version: version}]
	return ok
}

func (d *Decoders) Decode(eventType enums.OutboxEventType, version int, data json.RawMessage) (any, error) {
	decode, ok := d.bound[schemaKey{eventType: eventType, version: version}]
	if !ok {
		return nil, fmt.Errorf("%w: %s@v%d", ErrNoDecoder, eventType, version)
	}
	return decode(data)
}
