package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_CoerceTo(t *testing.T) {
	tests := []struct {
		name    string
		in      Value
		kind    ValueKind
		want    Value
		wantErr bool
	}{
		{name: "string to int", in: StringValue("404"), kind: KindInt, want: IntValue(404)},
		{name: "string to float", in: StringValue("12.5"), kind: KindFloat, want: FloatValue(12.5)},
		{name: "string to bool", in: StringValue("true"), kind: KindBool, want: BoolValue(true)},
		{name: "int to string", in: IntValue(7), kind: KindString, want: StringValue("7")},
		{name: "integral float to int", in: FloatValue(3), kind: KindInt, want: IntValue(3)},
		{name: "bad int degrades to string", in: StringValue("abc"), kind: KindInt, want: StringValue("abc"), wantErr: true},
		{name: "fractional float to int", in: FloatValue(1.5), kind: KindInt, want: StringValue("1.5"), wantErr: true},
		{name: "same kind", in: BoolValue(false), kind: KindBool, want: BoolValue(false)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.CoerceTo(tt.kind)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValue_IsEmpty(t *testing.T) {
	assert.True(t, NullValue().IsEmpty())
	assert.True(t, StringValue("  ").IsEmpty())
	assert.False(t, StringValue("x").IsEmpty())
	assert.False(t, IntValue(0).IsEmpty())
	assert.False(t, BoolValue(false).IsEmpty())
}

func TestValue_Equal(t *testing.T) {
	assert.True(t, IntValue(200).Equal(FloatValue(200)))
	assert.True(t, StringValue("200").Equal(IntValue(200)))
	assert.False(t, StringValue("a").Equal(StringValue("b")))
}

func TestValueOf(t *testing.T) {
	tests := []struct {
		in   interface{}
		want Value
	}{
		{in: "x", want: StringValue("x")},
		{in: float64(150), want: IntValue(150)},
		{in: 1.25, want: FloatValue(1.25)},
		{in: json.Number("42"), want: IntValue(42)},
		{in: json.Number("4.2"), want: FloatValue(4.2)},
		{in: true, want: BoolValue(true)},
		{in: nil, want: NullValue()},
	}
	for _, tt := range tests {
		got, ok := ValueOf(tt.in)
		require.True(t, ok)
		assert.Equal(t, tt.want, got)
	}

	_, ok := ValueOf(map[string]interface{}{})
	assert.False(t, ok)
}

func TestParseValueKind(t *testing.T) {
	k, err := ParseValueKind("integer")
	require.NoError(t, err)
	assert.Equal(t, KindInt, k)

	k, err = ParseValueKind("")
	require.NoError(t, err)
	assert.Equal(t, KindString, k)

	_, err = ParseValueKind("date")
	assert.Error(t, err)
}
