package bsondoc

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mobiletoly/go-docstore/document"
)

func sampleDocument(t *testing.T) *document.Document {
	t.Helper()
	d, err := document.FromMap(map[string]any{
		"name":   "Jane",
		"age":    41,
		"score":  9.5,
		"active": true,
		"tags":   []any{"a", int64(2), nil},
		"addr":   map[string]any{"city": "Oslo", "zip": int64(150)},
		"born":   time.Date(1984, 5, 6, 7, 8, 9, 0, time.UTC),
		"blob":   []byte{1, 2, 3},
	})
	require.NoError(t, err)
	d.Meta.SchemaVersion = "3"
	return d
}

func TestCodec_RoundTrip(t *testing.T) {
	c := NewCodec(document.FieldNames{})
	d := sampleDocument(t)

	data, err := c.Encode(d)
	require.NoError(t, err)

	meta := document.Meta{ID: uuid.New(), ContentType: "person", Version: 2}
	back, err := c.Decode(data, meta)
	require.NoError(t, err)

	assert.True(t, back.EqualFields(d), "fields differ: %v vs %v", back.Fields(), d.Fields())
	assert.Equal(t, "3", back.Meta.SchemaVersion)
	assert.Equal(t, meta.ID, back.Meta.ID)
	assert.Equal(t, int64(2), back.Meta.Version)
	assert.Equal(t, d.Keys(), back.Keys())
}

func TestCodec_RoundTripKeepsNormalizedTimes(t *testing.T) {
	c := NewCodec(document.FieldNames{})
	d := document.New()
	require.NoError(t, d.Set("at", time.Date(2025, 3, 4, 5, 6, 7, 987654321, time.UTC)))

	data, err := c.Encode(d)
	require.NoError(t, err)
	back, err := c.Decode(data, document.Meta{})
	require.NoError(t, err)

	before, _ := d.Get("at")
	after, _ := back.Get("at")
	assert.Equal(t, before, after)
	assert.True(t, back.EqualFields(d))
}

func TestCodec_EncodeDropsReservedFields(t *testing.T) {
	c := NewCodec(document.FieldNames{})
	d := document.New()
	require.NoError(t, d.Set("$id", "spoofed"))
	require.NoError(t, d.Set("$version", 99))
	require.NoError(t, d.Set("title", "x"))

	data, err := c.Encode(d)
	require.NoError(t, err)

	var m bson.M
	require.NoError(t, bson.Unmarshal(data, &m))
	assert.Equal(t, bson.M{"title": "x"}, m)
}

func TestCodec_InteropWithBSONLibrary(t *testing.T) {
	data, err := bson.Marshal(bson.D{
		{Key: "n", Value: int32(5)},
		{Key: "s", Value: "str"},
		{Key: "$schemaVersion", Value: "1.2"},
	})
	require.NoError(t, err)

	c := NewCodec(document.FieldNames{})
	d, err := c.Decode(data, document.Meta{})
	require.NoError(t, err)

	n, ok := d.Int("n")
	require.True(t, ok)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, "1.2", d.Meta.SchemaVersion)
	assert.False(t, d.Has("$schemaVersion"))
}

func TestCodec_DecodeMalformed(t *testing.T) {
	c := NewCodec(document.FieldNames{})
	_, err := c.Decode([]byte("not bson at all"), document.Meta{})
	var de *DecodeError
	require.ErrorAs(t, err, &de)

	id := uuid.New()
	shell := c.DecodeOrFault([]byte{1, 2, 3}, document.Meta{ID: id})
	assert.True(t, shell.Meta.Faulty)
	assert.NotEmpty(t, shell.Meta.Fault)
	assert.Equal(t, id, shell.Meta.ID)

	_, err = c.Decode(nil, document.Meta{})
	require.ErrorAs(t, err, &de)
}

func TestCodec_DecodeRejectsUnsupportedTypes(t *testing.T) {
	c := NewCodec(document.FieldNames{})
	payloads := map[string]bson.M{
		"decimal128": {"price": primitive.NewDecimal128(1, 0)},
		"regex":      {"pattern": primitive.Regex{Pattern: "^a", Options: "i"}},
		"javascript": {"fn": primitive.JavaScript("return 1")},
		"nested":     {"outer": bson.M{"price": primitive.NewDecimal128(0, 5)}},
	}
	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			raw, err := bson.Marshal(payload)
			require.NoError(t, err)

			_, err = c.Decode(raw, document.Meta{})
			var de *DecodeError
			require.ErrorAs(t, err, &de)
			assert.True(t, c.DecodeOrFault(raw, document.Meta{}).Meta.Faulty)
		})
	}
}

func TestCodec_InjectOverridesRootFields(t *testing.T) {
	c := NewCodec(document.FieldNames{})
	d := sampleDocument(t)
	data, err := c.Encode(d)
	require.NoError(t, err)

	id := uuid.New()
	out, err := c.Inject(data, document.Meta{ID: id, Reference: 36, Version: 4, ContentType: "person"})
	require.NoError(t, err)

	raw := bson.Raw(out)
	require.NoError(t, raw.Validate())
	assert.Equal(t, id.String(), raw.Lookup("$id").StringValue())
	assert.Equal(t, "10", raw.Lookup("$reference").StringValue())
	assert.Equal(t, int64(4), raw.Lookup("$version").Int64())
	assert.Equal(t, "Jane", raw.Lookup("name").StringValue())
	assert.Equal(t, "3", raw.Lookup("$schemaVersion").StringValue())
}

func TestReader_OverrideReplacesInPlace(t *testing.T) {
	data, err := bson.Marshal(bson.D{
		{Key: "a", Value: "1"},
		{Key: "b", Value: "2"},
	})
	require.NoError(t, err)

	r, err := NewReader(data)
	require.NoError(t, err)
	r.Override("a", "over").Override("z", int64(26))

	var keys []string
	values := map[string]any{}
	for r.Next() {
		v, err := r.Value()
		require.NoError(t, err)
		keys = append(keys, r.Key())
		values[r.Key()] = v
	}
	require.NoError(t, r.Err())
	assert.Equal(t, []string{"a", "b", "z"}, keys)
	assert.Equal(t, "over", values["a"])
	assert.Equal(t, "2", values["b"])
	assert.Equal(t, int64(26), values["z"])

	v, ok, err := r.Lookup("b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", v)

	_, ok, err = r.Lookup("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}
