package field_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/velomigrate/schema/field"
)

func TestBuilders(t *testing.T) {
	t.Parallel()

	fd := field.String("name").Comment("display name").Descriptor()
	assert.Equal(t, "name", fd.Name)
	assert.Equal(t, field.TypeString, fd.Type)
	assert.False(t, fd.Optional)
	assert.Equal(t, "display name", fd.Comment)

	fd = field.Time("born").Optional().Descriptor()
	assert.Equal(t, field.TypeTime, fd.Type)
	assert.True(t, fd.Optional)

	for b, want := range map[*field.Builder]field.Type{
		field.Int("a"):   field.TypeInt,
		field.Float("b"): field.TypeFloat,
		field.Bool("c"):  field.TypeBool,
		field.Bytes("d"): field.TypeBytes,
	} {
		assert.Equal(t, want, b.Descriptor().Type)
	}
}

func TestParseType(t *testing.T) {
	t.Parallel()

	for _, typ := range []field.Type{field.TypeString, field.TypeInt, field.TypeFloat, field.TypeBool, field.TypeTime, field.TypeBytes} {
		got, err := field.ParseType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, got)
		assert.True(t, got.Valid())
	}
	_, err := field.ParseType("invalid")
	assert.Error(t, err)
	assert.False(t, field.TypeInvalid.Valid())
	assert.Equal(t, "Type(42)", field.Type(42).String())
}

func TestCoerce(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	tests := []struct {
		name    string
		typ     field.Type
		in      any
		want    any
		wantErr bool
	}{
		{name: "nil", typ: field.TypeString, in: nil, want: nil},
		{name: "string", typ: field.TypeString, in: "a", want: "a"},
		{name: "string_bytes", typ: field.TypeString, in: []byte("a"), want: "a"},
		{name: "int_int8", typ: field.TypeInt, in: int8(7), want: int64(7)},
		{name: "int_uint32", typ: field.TypeInt, in: uint32(7), want: int64(7)},
		{name: "int_bytes", typ: field.TypeInt, in: []byte("42"), want: int64(42)},
		{name: "int_overflow", typ: field.TypeInt, in: uint64(1 << 63), wantErr: true},
		{name: "int_from_bool", typ: field.TypeInt, in: true, wantErr: true},
		{name: "float_int", typ: field.TypeFloat, in: int64(2), want: float64(2)},
		{name: "float_bytes", typ: field.TypeFloat, in: []byte("1.5"), want: 1.5},
		{name: "bool_int", typ: field.TypeBool, in: int64(1), want: true},
		{name: "bool_zero", typ: field.TypeBool, in: int64(0), want: false},
		{name: "bool_string", typ: field.TypeBool, in: "true", want: true},
		{name: "time", typ: field.TypeTime, in: now, want: now},
		{name: "time_string", typ: field.TypeTime, in: now.Format(time.RFC3339Nano), want: now},
		{name: "bytes", typ: field.TypeBytes, in: []byte{1, 2}, want: []byte{1, 2}},
		{name: "bytes_base64", typ: field.TypeBytes, in: "AQI=", want: []byte{1, 2}},
		{name: "invalid_type", typ: field.TypeInvalid, in: "x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.typ.Coerce(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
