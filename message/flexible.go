// Package message defines the flexible, self-describing message format used
// on the notification, control, and metadata topics.
//
// A Flexible message is a JSON object with an "id" discriminator. On the
// wire it is encoded as JSON or CBOR; decoding auto-detects the encoding,
// so clients may pick either without negotiation.
package message

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/c360/devlink/errors"
)

// Well-known field keys.
const (
	KeyID           = "id"
	KeyValue        = "value"
	KeyOptionValues = "option-values"
	KeySample       = "sample"
	KeyStatus       = "status"
	KeyExplanation  = "explanation"
	KeyOptionName   = "option-name"
	KeyStreamName   = "stream-name"
	KeyControl      = "control"
)

// Status values carried in the KeyStatus field. A reply with no status is
// implicitly ok.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Server-originated discovery message ids.
const (
	IDDeviceHeader  = "device-header"
	IDDeviceOptions = "device-options"
	IDStreamHeader  = "stream-header"
	IDStreamOptions = "stream-options"
)

// Client-originated control message ids handled by the core. Any other id
// is offered to the externally registered custom-control callback.
const (
	IDSetOption   = "set-option"
	IDQueryOption = "query-option"
)

// Format selects the wire encoding of a Flexible message.
type Format int

const (
	// FormatJSON encodes the message as a JSON object (default).
	FormatJSON Format = iota
	// FormatCBOR encodes the message as a CBOR map.
	FormatCBOR
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatCBOR:
		return "cbor"
	default:
		return "unknown"
	}
}

// cborDec decodes CBOR maps into map[string]any recursively so both
// encodings produce the same in-memory shape.
var cborDec cbor.DecMode

func init() {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	cborDec = dm
}

// Flexible is a self-describing message body. Field values follow the JSON
// object model: strings, numbers, booleans, nil, []any and nested maps.
type Flexible map[string]any

// Decode parses a wire body, auto-detecting JSON vs CBOR: a body whose
// first byte is '{' is JSON, anything else is treated as CBOR.
func Decode(data []byte) (Flexible, error) {
	if len(data) == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "Flexible", "Decode", "empty body")
	}

	var f Flexible
	if data[0] == '{' {
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, errors.WrapInvalid(err, "Flexible", "Decode", "parse JSON body")
		}
	} else {
		if err := cborDec.Unmarshal(data, &f); err != nil {
			return nil, errors.WrapInvalid(err, "Flexible", "Decode", "parse CBOR body")
		}
	}
	return f, nil
}

// Encode serializes the message in the given format.
func (f Flexible) Encode(format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		data, err := json.Marshal(f)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Flexible", "Encode", "marshal JSON body")
		}
		return data, nil
	case FormatCBOR:
		data, err := cbor.Marshal(f)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Flexible", "Encode", "marshal CBOR body")
		}
		return data, nil
	default:
		return nil, errors.WrapInvalid(fmt.Errorf("unknown format %d", format),
			"Flexible", "Encode", "select encoding")
	}
}

// IsValid reports whether the message is structurally usable: a non-empty
// object. Callers needing an id use ID and handle its error.
func (f Flexible) IsValid() bool {
	return len(f) > 0
}

// ID returns the required "id" discriminator.
func (f Flexible) ID() (string, error) {
	return f.StringField(KeyID)
}

// StringField returns the named field, which must be a string.
func (f Flexible) StringField(key string) (string, error) {
	v, ok := f[key]
	if !ok {
		return "", fmt.Errorf("field '%s' is missing", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field '%s' should be a string; got %v", key, v)
	}
	return s, nil
}

// OptString returns the named string field, or def when absent. A present
// non-string value is an error.
func (f Flexible) OptString(key, def string) (string, error) {
	if _, ok := f[key]; !ok {
		return def, nil
	}
	return f.StringField(key)
}

// FloatField returns the named field as a float64, accepting any numeric
// representation the JSON and CBOR decoders produce.
func (f Flexible) FloatField(key string) (float64, error) {
	v, ok := f[key]
	if !ok {
		return 0, fmt.Errorf("field '%s' is missing", key)
	}
	return asFloat(key, v)
}

func asFloat(key string, v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("field '%s' should be a number; got %v", key, v)
	}
}

// Field returns the raw field value.
func (f Flexible) Field(key string) (any, bool) {
	v, ok := f[key]
	return v, ok
}

// Clone returns a shallow copy. Handlers clone before echoing the control
// payload into a reply so later mutation cannot alias.
func (f Flexible) Clone() Flexible {
	out := make(Flexible, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// String renders the message as compact JSON for logging, shortened to keep
// log lines readable.
func (f Flexible) String() string {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Sprintf("<unprintable: %v>", err)
	}
	const maxLogged = 300
	if len(data) > maxLogged {
		return string(data[:maxLogged]) + "..."
	}
	return string(data)
}
