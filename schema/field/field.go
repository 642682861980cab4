package field

import (
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Type is the value type of an attribute.
type Type uint8

// Attribute value types.
const (
	TypeInvalid Type = iota
	TypeString
	TypeInt
	TypeFloat
	TypeBool
	TypeTime
	TypeBytes
)

var typeNames = [...]string{
	TypeInvalid: "invalid",
	TypeString:  "string",
	TypeInt:     "int",
	TypeFloat:   "float",
	TypeBool:    "bool",
	TypeTime:    "time",
	TypeBytes:   "bytes",
}

// String returns the type name as used in model files.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Type(" + strconv.Itoa(int(t)) + ")"
}

// Valid reports if the type is a known attribute type.
func (t Type) Valid() bool {
	return t > TypeInvalid && int(t) < len(typeNames)
}

// ParseType returns the Type with the given name.
func ParseType(name string) (Type, error) {
	for i, n := range typeNames {
		if n == name && Type(i) != TypeInvalid {
			return Type(i), nil
		}
	}
	return TypeInvalid, fmt.Errorf("field: unknown type %q", name)
}

// Coerce converts a value read from a store driver or decoder into the
// canonical Go type of t: string, int64, float64, bool, time.Time or []byte.
// A nil value is returned as is.
func (t Type) Coerce(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case TypeString:
		switch v := v.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		}
	case TypeInt:
		switch v := v.(type) {
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case int8:
			return int64(v), nil
		case int16:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case uint8:
			return int64(v), nil
		case uint16:
			return int64(v), nil
		case uint32:
			return int64(v), nil
		case uint64:
			if v > math.MaxInt64 {
				return nil, fmt.Errorf("field: value %d overflows int64", v)
			}
			return int64(v), nil
		case []byte:
			return strconv.ParseInt(string(v), 10, 64)
		case string:
			return strconv.ParseInt(v, 10, 64)
		}
	case TypeFloat:
		switch v := v.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case int:
			return float64(v), nil
		case []byte:
			return strconv.ParseFloat(string(v), 64)
		case string:
			return strconv.ParseFloat(v, 64)
		}
	case TypeBool:
		switch v := v.(type) {
		case bool:
			return v, nil
		case int64:
			return v != 0, nil
		case int:
			return v != 0, nil
		case []byte:
			return strconv.ParseBool(string(v))
		case string:
			return strconv.ParseBool(v)
		}
	case TypeTime:
		switch v := v.(type) {
		case time.Time:
			return v, nil
		case string:
			return time.Parse(time.RFC3339Nano, v)
		case []byte:
			return time.Parse(time.RFC3339Nano, string(v))
		}
	case TypeBytes:
		switch v := v.(type) {
		case []byte:
			return v, nil
		case string:
			// YAML and JSON fixtures carry binary values base64 encoded.
			return base64.StdEncoding.DecodeString(v)
		}
	default:
		return nil, fmt.Errorf("field: invalid type %v", t)
	}
	return nil, fmt.Errorf("field: cannot convert %T to %v", v, t)
}

// Descriptor holds the model description of an attribute.
type Descriptor struct {
	Name     string
	Type     Type
	Optional bool
	Comment  string
}

// Builder is the fluent builder for attribute descriptors.
type Builder struct {
	desc *Descriptor
}

func newBuilder(name string, t Type) *Builder {
	return &Builder{desc: &Descriptor{Name: name, Type: t}}
}

// New returns a builder for an attribute of the given type.
func New(name string, t Type) *Builder { return newBuilder(name, t) }

// String returns a builder for a string attribute.
func String(name string) *Builder { return newBuilder(name, TypeString) }

// Int returns a builder for a 64-bit integer attribute.
func Int(name string) *Builder { return newBuilder(name, TypeInt) }

// Float returns a builder for a float attribute.
func Float(name string) *Builder { return newBuilder(name, TypeFloat) }

// Bool returns a builder for a boolean attribute.
func Bool(name string) *Builder { return newBuilder(name, TypeBool) }

// Time returns a builder for a time attribute.
func Time(name string) *Builder { return newBuilder(name, TypeTime) }

// Bytes returns a builder for a binary attribute.
func Bytes(name string) *Builder { return newBuilder(name, TypeBytes) }

// Optional marks the attribute as optional. Required attributes must be
// set on every object before it can be committed.
func (b *Builder) Optional() *Builder {
	b.desc.Optional = true
	return b
}

// Comment sets the attribute comment.
func (b *Builder) Comment(c string) *Builder {
	b.desc.Comment = c
	return b
}

// Descriptor returns the attribute descriptor.
func (b *Builder) Descriptor() *Descriptor {
	return b.desc
}
