package docstore

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mobiletoly/go-docstore/bsondoc"
	"github.com/mobiletoly/go-docstore/document"
)

func changesOf(types map[int]ChangeType, n int) []*Change {
	out := make([]*Change, n)
	for i := 0; i < n; i++ {
		out[i] = &Change{Token: int64(i + 1), Type: types[i], ID: uuid.New(), ContentType: "orders"}
	}
	return out
}

func TestPartitioned_GroupsByTypePreservingOrder(t *testing.T) {
	types := map[int]ChangeType{
		0: ChangeUpdate, 1: ChangeCreate, 2: ChangeUpdate,
		3: ChangeDelete, 4: ChangeUpdate, 5: ChangeCreate,
		6: ChangeDelete, 7: ChangeCreate, 8: ChangeDelete,
	}
	changes := changesOf(types, 9)
	cc := NewChangeCollection(changes, 0)

	got := cc.Partitioned()
	require.Len(t, got, 9)

	want := []int{1, 5, 7, 0, 2, 4, 3, 6, 8}
	for i, idx := range want {
		assert.Same(t, changes[idx], got[i], "position %d", i)
	}
	// Original slice untouched
	assert.Same(t, changes[0], cc.Changes[0])
}

func TestPartitioned_FaultyLast(t *testing.T) {
	types := map[int]ChangeType{0: ChangeFaulty, 1: ChangeDelete, 2: ChangeCreate, 3: ChangeFaulty}
	changes := changesOf(types, 4)
	got := NewChangeCollection(changes, 0).Partitioned()

	assert.Equal(t, []ChangeType{ChangeCreate, ChangeDelete, ChangeFaulty, ChangeFaulty},
		[]ChangeType{got[0].Type, got[1].Type, got[2].Type, got[3].Type})
	assert.Same(t, changes[0], got[2])
	assert.Same(t, changes[3], got[3])
}

func TestNewChangeCollection_CountsAndToken(t *testing.T) {
	types := map[int]ChangeType{0: ChangeCreate, 1: ChangeUpdate, 2: ChangeUpdate, 3: ChangeDelete, 4: ChangeFaulty}
	cc := NewChangeCollection(changesOf(types, 5), 0)

	assert.Equal(t, ChangeCounts{Total: 5, Created: 1, Updated: 2, Deleted: 1, Faulty: 1}, cc.Count)
	assert.Equal(t, int64(5), cc.Token)
	assert.Equal(t, 5, cc.Len())
}

func TestNewChangeCollection_EmptyKeepsToken(t *testing.T) {
	cc := NewChangeCollection(nil, 42)
	assert.Equal(t, int64(42), cc.Token)
	assert.Zero(t, cc.Len())
	assert.Empty(t, cc.Partitioned())
}

func TestChangeType_String(t *testing.T) {
	assert.Equal(t, "create", ChangeCreate.String())
	assert.Equal(t, "update", ChangeUpdate.String())
	assert.Equal(t, "delete", ChangeDelete.String())
	assert.Equal(t, "faulty", ChangeFaulty.String())
	assert.Equal(t, "unknown", ChangeType(99).String())
}

func TestChange_EntityIsLazyAndCached(t *testing.T) {
	codec := bsondoc.NewCodec(document.FieldNames{}.WithDefaults())
	doc := document.New()
	doc.Set("total", int64(12))
	raw, err := codec.Encode(doc)
	require.NoError(t, err)

	ch := &Change{Token: 1, Type: ChangeCreate, ID: uuid.New(), ContentType: "orders", Raw: raw, area: "shop", codec: codec}
	e1 := ch.Entity()
	e2 := ch.Entity()
	assert.Same(t, e1, e2)
	assert.False(t, e1.Meta.Faulty)
	assert.Equal(t, ch.ID, e1.Meta.ID)
	assert.Equal(t, "shop", e1.Meta.Area)
	v, ok := e1.Get("total")
	require.True(t, ok)
	assert.EqualValues(t, 12, v)
}

func TestChange_EntityForDeleteAndFaulty(t *testing.T) {
	id := uuid.New()
	del := &Change{Type: ChangeDelete, ID: id, ContentType: "orders", area: "shop"}
	e := del.Entity()
	assert.Equal(t, id, e.Meta.ID)
	assert.Equal(t, "orders", e.Meta.ContentType)
	assert.Empty(t, e.Keys())

	bad := &Change{Type: ChangeFaulty, ID: id, ContentType: "orders", Fault: "broken payload", area: "shop"}
	f := bad.Entity()
	assert.True(t, f.Meta.Faulty)
	assert.Equal(t, "broken payload", f.Meta.Fault)
}

func TestToChangeResponse(t *testing.T) {
	names := document.FieldNames{}.WithDefaults()
	codec := bsondoc.NewCodec(names)
	doc := document.New()
	doc.Set("status", "open")
	raw, err := codec.Encode(doc)
	require.NoError(t, err)

	ch := &Change{Token: 7, Type: ChangeUpdate, ID: uuid.New(), ContentType: "orders", Reference: 36, Version: 2, Raw: raw, area: "shop", codec: codec}
	resp := ch.ToChangeResponse(names)
	assert.Equal(t, "update", resp.Type)
	assert.Equal(t, "10", resp.Reference)
	assert.Equal(t, "open", resp.Document["status"])

	broken := &Change{Token: 8, Type: ChangeCreate, ID: uuid.New(), ContentType: "orders", Raw: []byte{1, 2, 3}, area: "shop", codec: codec}
	resp = broken.ToChangeResponse(names)
	assert.Equal(t, "faulty", resp.Type)
	assert.NotEmpty(t, resp.Fault)
	assert.Nil(t, resp.Document)
}

func TestNewChange_UndecodablePayloadIsFaulty(t *testing.T) {
	store := offlineStore()
	log := newArea(store, "shop", store.config.area("shop")).ChangeLog()

	good := document.New()
	require.NoError(t, good.Set("price", 10))
	goodRaw, err := store.codec.Encode(good)
	require.NoError(t, err)
	badRaw, err := bson.Marshal(bson.M{"price": primitive.NewDecimal128(1, 0)})
	require.NoError(t, err)

	now := time.Now()
	row := func(token int64, action string, data []byte) changeRow {
		return changeRow{Token: token, Fid: uuid.New(), Reference: token, ContentType: "orders",
			Created: now, Updated: now, Data: data, Action: action}
	}
	changes := []*Change{
		log.newChange(row(1, actionCreate, badRaw)),
		log.newChange(row(2, actionCreate, goodRaw)),
		log.newChange(row(3, actionUpdate, badRaw)),
		log.newChange(row(4, actionDelete, nil)),
	}

	bad := changes[0]
	assert.Equal(t, ChangeFaulty, bad.Type)
	assert.NotEmpty(t, bad.Fault)
	assert.True(t, bad.Entity().Meta.Faulty)
	assert.Equal(t, bad.Fault, bad.Entity().Meta.Fault)

	ok := changes[1]
	assert.Equal(t, ChangeCreate, ok.Type)
	assert.Same(t, ok.Entity(), ok.Entity())
	price, _ := ok.Entity().Int("price")
	assert.Equal(t, int64(10), price)

	cc := NewChangeCollection(changes, 0)
	assert.Equal(t, ChangeCounts{Total: 4, Created: 1, Deleted: 1, Faulty: 2}, cc.Count)
	assert.Equal(t, []int64{2, 4, 1, 3}, tokens(cc.Partitioned()))

	// The HTTP rendering agrees with the classification.
	for _, ch := range cc.Changes {
		assert.Equal(t, ch.Type.String(), ch.ToChangeResponse(store.Fields()).Type, "token %d", ch.Token)
	}
}
