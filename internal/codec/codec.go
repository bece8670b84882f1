// Package codec encodes request commands for the sensor node and decodes
// its JSON telemetry replies. It does no I/O.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"wotnode-gateway/internal/telemetry"
)

// Command is a request code understood by the sensor node. Each command is
// exactly one byte on the wire.
type Command byte

const (
	GetAllSensorsData Command = 0x61
)

var commandNames = map[Command]string{
	GetAllSensorsData: "GetAllSensorsData",
}

func (c Command) Valid() bool {
	_, ok := commandNames[c]
	return ok
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(0x%02X)", byte(c))
}

// Encode returns the command byte followed by params. A nil params is the
// same as an empty one.
func Encode(cmd Command, params []byte) []byte {
	out := make([]byte, 0, 1+len(params))
	out = append(out, byte(cmd))
	return append(out, params...)
}

// IsCommand reports whether payload is a bare known command, which is what
// the gateway hears when its own broadcast loops back on the shared port.
func IsCommand(payload []byte) bool {
	return len(payload) == 1 && Command(payload[0]).Valid()
}

// Reply field names, as sent by the node.
const (
	FieldTemperature    = "temperature"
	FieldAvgTemperature = "avgTemperature"
	FieldHumidity       = "humidity"
	FieldAvgHumidity    = "avgHumidity"
	FieldVoltage        = "voltage"
	FieldFreeRAM        = "freeRam"
)

var (
	ErrMalformed    = errors.New("malformed payload")
	ErrMissingField = errors.New("missing or invalid field")
)

// DecodeError is returned by Decode. Err is ErrMalformed or ErrMissingField;
// Field is set for the latter.
type DecodeError struct {
	Field string
	Err   error
	Cause error
}

func (e *DecodeError) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("decode: %v: %q", e.Err, e.Field)
	case e.Cause != nil:
		return fmt.Sprintf("decode: %v: %v", e.Err, e.Cause)
	default:
		return fmt.Sprintf("decode: %v", e.Err)
	}
}

func (e *DecodeError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// Reply is the node's wire representation of a reading.
type Reply struct {
	Temperature    float64 `json:"temperature"`
	AvgTemperature float64 `json:"avgTemperature"`
	Humidity       float64 `json:"humidity"`
	AvgHumidity    float64 `json:"avgHumidity"`
	Voltage        float64 `json:"voltage"`
	FreeRAM        int64   `json:"freeRam"`
}

// EncodeReply renders s the way the sensor node sends it.
func EncodeReply(s telemetry.Snapshot) ([]byte, error) {
	return json.Marshal(Reply{
		Temperature:    s.Temperature,
		AvgTemperature: s.AverageTemperature,
		Humidity:       s.Humidity,
		AvgHumidity:    s.AverageHumidity,
		Voltage:        s.Voltage,
		FreeRAM:        s.FreeMemoryBytes,
	})
}

// Decode parses a reply datagram. Leading and trailing padding (NULs,
// whitespace, control bytes) is ignored. All six fields must be present and
// numeric; otherwise no snapshot is returned. ReceivedAt is left zero.
func Decode(raw []byte) (telemetry.Snapshot, error) {
	text := bytes.TrimFunc(raw, func(r rune) bool { return r <= ' ' })

	dec := json.NewDecoder(bytes.NewReader(text))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return telemetry.Snapshot{}, &DecodeError{Err: ErrMalformed, Cause: err}
	}
	if obj == nil {
		return telemetry.Snapshot{}, &DecodeError{Err: ErrMalformed, Cause: errors.New("not an object")}
	}
	if dec.More() {
		return telemetry.Snapshot{}, &DecodeError{Err: ErrMalformed, Cause: errors.New("trailing data")}
	}

	var (
		s   telemetry.Snapshot
		err error
	)
	floats := []struct {
		name string
		dst  *float64
	}{
		{FieldTemperature, &s.Temperature},
		{FieldAvgTemperature, &s.AverageTemperature},
		{FieldHumidity, &s.Humidity},
		{FieldAvgHumidity, &s.AverageHumidity},
		{FieldVoltage, &s.Voltage},
	}
	for _, f := range floats {
		if *f.dst, err = floatField(obj, f.name); err != nil {
			return telemetry.Snapshot{}, err
		}
	}
	if s.FreeMemoryBytes, err = intField(obj, FieldFreeRAM); err != nil {
		return telemetry.Snapshot{}, err
	}
	return s, nil
}

func number(obj map[string]any, name string) (json.Number, error) {
	v, ok := obj[name]
	if !ok {
		return "", &DecodeError{Field: name, Err: ErrMissingField}
	}
	n, ok := v.(json.Number)
	if !ok {
		return "", &DecodeError{Field: name, Err: ErrMissingField}
	}
	return n, nil
}

func floatField(obj map[string]any, name string) (float64, error) {
	n, err := number(obj, name)
	if err != nil {
		return 0, err
	}
	f, err := n.Float64()
	if err != nil {
		return 0, &DecodeError{Field: name, Err: ErrMissingField, Cause: err}
	}
	return f, nil
}

// intField accepts integral JSON numbers, including exponent forms like 1.024e5.
func intField(obj map[string]any, name string) (int64, error) {
	n, err := number(obj, name)
	if err != nil {
		return 0, err
	}
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, &DecodeError{Field: name, Err: ErrMissingField}
	}
	return int64(f), nil
}
