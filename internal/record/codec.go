//
//
package record

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Format selects the wire encoding of a pushed record.
type Format string

const (
	FormatJSON Format = "json"
	FormatCBOR Format = "cbor"

	// FormatRow is the flat legacy JSON row. It is chosen by the route,
	// never by the client, so ParseFormat does not accept it.
	FormatRow Format = "row"
)

// ParseFormat maps a query value to a Format. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCBOR:
		return FormatCBOR, nil
	default:
		return "", &ValidationError{Field: "format", Reason: fmt.Sprintf("unsupported format %q", s)}
	}
}

// Binary reports whether frames in this format must travel as binary messages.
func (f Format) Binary() bool {
	return f == FormatCBOR
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	if cborEnc, err = opts.EncMode(); err != nil {
		panic("record: CBOR encoder initialization failed: " + err.Error())
	}
	if cborDec, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic("record: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode serializes r in the given format.
func Encode(r Record, f Format) ([]byte, error) {
	switch f {
	case FormatJSON, "":
		return json.Marshal(r)
	case FormatCBOR:
		return cborEnc.Marshal(r)
	case FormatRow:
		return json.Marshal(r.Row())
	default:
		return nil, fmt.Errorf("record: unknown format %q", f)
	}
}

// Decode is the inverse of Encode.
func Decode(data []byte, f Format) (Record, error) {
	var r Record
	var err error
	switch f {
	case FormatJSON, "":
		err = json.Unmarshal(data, &r)
	case FormatCBOR:
		err = cborDec.Unmarshal(data, &r)
	case FormatRow:
		var row Row
		err = json.Unmarshal(data, &row)
		r = row.Record()
	default:
		err = fmt.Errorf("record: unknown format %q", f)
	}
	return r, err
}
