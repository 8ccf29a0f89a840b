package message

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAutoDetectsEncoding(t *testing.T) {
	src := Flexible{
		KeyID:         IDSetOption,
		KeyOptionName: "exposure",
		KeyValue:      150.0,
	}

	jsonBody, err := src.Encode(FormatJSON)
	require.NoError(t, err)
	require.Equal(t, byte('{'), jsonBody[0])

	cborBody, err := src.Encode(FormatCBOR)
	require.NoError(t, err)
	require.NotEqual(t, byte('{'), cborBody[0])

	fromJSON, err := Decode(jsonBody)
	require.NoError(t, err)
	fromCBOR, err := Decode(cborBody)
	require.NoError(t, err)

	jID, err := fromJSON.ID()
	require.NoError(t, err)
	cID, err := fromCBOR.ID()
	require.NoError(t, err)
	assert.Equal(t, jID, cID)

	jVal, err := fromJSON.FloatField(KeyValue)
	require.NoError(t, err)
	cVal, err := fromCBOR.FloatField(KeyValue)
	require.NoError(t, err)
	assert.Equal(t, jVal, cVal)
}

func TestDecodeNestedCBORMaps(t *testing.T) {
	body, err := cbor.Marshal(map[string]any{
		"id": "custom",
		"nested": map[string]any{
			"inner": "v",
		},
	})
	require.NoError(t, err)

	f, err := Decode(body)
	require.NoError(t, err)

	nested, ok := f.Field("nested")
	require.True(t, ok)
	m, ok := nested.(map[string]any)
	require.True(t, ok, "nested CBOR maps should decode as map[string]any, got %T", nested)
	assert.Equal(t, "v", m["inner"])
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode(nil)
	assert.Error(t, err)

	_, err = Decode([]byte("{not json"))
	assert.Error(t, err)
}

func TestStringFieldErrors(t *testing.T) {
	f := Flexible{"num": 5.0}

	_, err := f.StringField("absent")
	require.Error(t, err)
	assert.Equal(t, "field 'absent' is missing", err.Error())

	_, err = f.StringField("num")
	require.Error(t, err)
	assert.Equal(t, "field 'num' should be a string; got 5", err.Error())
}

func TestOptString(t *testing.T) {
	f := Flexible{"name": "color", "num": 1.0}

	v, err := f.OptString("name", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "color", v)

	v, err = f.OptString("missing", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", v)

	_, err = f.OptString("num", "fallback")
	assert.Error(t, err, "present non-string value is an error")
}

func TestFloatFieldAcceptsNumericTypes(t *testing.T) {
	f := Flexible{
		"f64": float64(1.5),
		"i64": int64(2),
		"u64": uint64(3),
		"int": 4,
	}
	for key, want := range map[string]float64{"f64": 1.5, "i64": 2, "u64": 3, "int": 4} {
		v, err := f.FloatField(key)
		require.NoError(t, err, key)
		assert.Equal(t, want, v, key)
	}

	_, err := f.FloatField("absent")
	assert.Error(t, err)
}

func TestIDRequiresStringField(t *testing.T) {
	_, err := Flexible{}.ID()
	assert.Error(t, err)

	_, err = Flexible{KeyID: 7.0}.ID()
	assert.Error(t, err)

	id, err := Flexible{KeyID: "query-option"}.ID()
	require.NoError(t, err)
	assert.Equal(t, IDQueryOption, id)
}

func TestCloneDoesNotAlias(t *testing.T) {
	orig := Flexible{KeyID: "x", "a": 1.0}
	clone := orig.Clone()
	clone["a"] = 2.0
	assert.Equal(t, 1.0, orig["a"])
}

func TestStringTruncatesLongMessages(t *testing.T) {
	long := make([]any, 200)
	for i := range long {
		long[i] = "xxxxxxxxxx"
	}
	f := Flexible{KeyID: "big", "payload": long}
	s := f.String()
	assert.LessOrEqual(t, len(s), 310)
	assert.Contains(t, s, "...")
}
