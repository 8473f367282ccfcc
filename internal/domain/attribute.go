package domain

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// ValueKind tags which concrete type an AttributeValue holds. Go has no
// std::variant; a small tagged struct with typed accessors plays the same
// role the original NodeData value union does.
type ValueKind int

const (
	ValueInt32 ValueKind = iota
	ValueFloat32
	ValueBool
	ValueString
)

func (k ValueKind) String() string {
	switch k {
	case ValueInt32:
		return "int32"
	case ValueFloat32:
		return "float32"
	case ValueBool:
		return "bool"
	case ValueString:
		return "string"
	default:
		return "unknown"
	}
}

// AttributeValue is the value half of an attribute entry.
type AttributeValue struct {
	Kind ValueKind
	i32  int32
	f32  float32
	b    bool
	s    string
}

func NewInt32Value(v int32) AttributeValue     { return AttributeValue{Kind: ValueInt32, i32: v} }
func NewFloat32Value(v float32) AttributeValue { return AttributeValue{Kind: ValueFloat32, f32: v} }
func NewBoolValue(v bool) AttributeValue       { return AttributeValue{Kind: ValueBool, b: v} }
func NewStringValue(v string) AttributeValue   { return AttributeValue{Kind: ValueString, s: v} }

func (v AttributeValue) Int32() (int32, bool)     { return v.i32, v.Kind == ValueInt32 }
func (v AttributeValue) Float32() (float32, bool) { return v.f32, v.Kind == ValueFloat32 }
func (v AttributeValue) Bool() (bool, bool)       { return v.b, v.Kind == ValueBool }
func (v AttributeValue) String() (string, bool)   { return v.s, v.Kind == ValueString }

// GoString renders the value for logging regardless of kind.
func (v AttributeValue) GoString() string {
	switch v.Kind {
	case ValueInt32:
		return fmt.Sprintf("%d", v.i32)
	case ValueFloat32:
		return fmt.Sprintf("%g", v.f32)
	case ValueBool:
		return fmt.Sprintf("%t", v.b)
	case ValueString:
		return v.s
	default:
		return "<invalid>"
	}
}

// GobEncode serializes the value as a kind tag followed by the payload of
// that kind only. The concrete fields are unexported (callers go through the
// typed accessors), so gob needs an explicit encoding; spec §6.1's
// bit-exact serialization requirement makes the format deliberately fixed:
// big-endian for the numeric kinds, raw bytes for strings.
func (v AttributeValue) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(v.Kind))
	switch v.Kind {
	case ValueInt32:
		if err := binary.Write(&buf, binary.BigEndian, v.i32); err != nil {
			return nil, err
		}
	case ValueFloat32:
		if err := binary.Write(&buf, binary.BigEndian, math.Float32bits(v.f32)); err != nil {
			return nil, err
		}
	case ValueBool:
		if v.b {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case ValueString:
		buf.WriteString(v.s)
	default:
		return nil, fmt.Errorf("attribute value has unknown kind %d", v.Kind)
	}
	return buf.Bytes(), nil
}

// GobDecode is GobEncode's inverse.
func (v *AttributeValue) GobDecode(data []byte) error {
	if len(data) < 1 {
		return fmt.Errorf("attribute value: empty encoding")
	}
	*v = AttributeValue{Kind: ValueKind(data[0])}
	payload := data[1:]
	switch v.Kind {
	case ValueInt32:
		if err := binary.Read(bytes.NewReader(payload), binary.BigEndian, &v.i32); err != nil {
			return err
		}
	case ValueFloat32:
		var bits uint32
		if err := binary.Read(bytes.NewReader(payload), binary.BigEndian, &bits); err != nil {
			return err
		}
		v.f32 = math.Float32frombits(bits)
	case ValueBool:
		if len(payload) != 1 {
			return fmt.Errorf("attribute value: malformed bool encoding")
		}
		v.b = payload[0] == 1
	case ValueString:
		v.s = string(payload)
	default:
		return fmt.Errorf("attribute value: unknown kind %d", v.Kind)
	}
	return nil
}

// ValueType distinguishes attributes that change over time (DYNAMIC) from
// attributes fixed at insert time (STATIC), mirroring node_data.h's
// ValueType enum.
type ValueType int

const (
	ValueDynamic ValueType = iota
	ValueStatic
)

func (t ValueType) String() string {
	if t == ValueStatic {
		return "static"
	}
	return "dynamic"
}

// Entry is one (key -> value, timestamp, type) attribute record.
type Entry struct {
	Key       string
	Value     AttributeValue
	Timestamp int64 // monotone logical clock, not wall time
	Type      ValueType
}
