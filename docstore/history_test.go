package docstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobiletoly/go-docstore/document"
)

func historyVersions(docs []*document.Document) []int64 {
	out := make([]int64, len(docs))
	for i, d := range docs {
		out[i] = d.Meta.Version
	}
	return out
}

func TestHistory_CapturesPreImages(t *testing.T) {
	env := newTestEnv(t, &Config{Areas: map[string]AreaConfig{"shop": {History: true}}})
	shop := env.area(t, "shop")
	require.True(t, shop.History().Enabled())

	d, err := shop.Insert(env.ctx, "orders", mustDoc(t, map[string]any{"status": "new"}))
	require.NoError(t, err)
	for _, s := range []string{"paid", "shipped"} {
		_, err = shop.Update(env.ctx, d.Meta.ID, mustDoc(t, map[string]any{"status": s}))
		require.NoError(t, err)
	}

	v0, err := shop.History().Get(env.ctx, d.Meta.ID, 0)
	require.NoError(t, err)
	require.NotNil(t, v0)
	status, _ := v0.String("status")
	assert.Equal(t, "new", status)
	assert.Equal(t, d.Meta.Reference, v0.Meta.Reference)
	assert.False(t, v0.Meta.Deleted)

	current, err := shop.History().Get(env.ctx, d.Meta.ID, 2)
	require.NoError(t, err)
	assert.Nil(t, current, "the live version is not in history")

	list, err := shop.History().List(env.ctx, d.Meta.ID, Range{})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 0}, historyVersions(list))

	limited, err := shop.History().List(env.ctx, d.Meta.ID, Range{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, historyVersions(limited))

	_, err = shop.Delete(env.ctx, d.Meta.ID)
	require.NoError(t, err)

	deleted, err := shop.History().Deleted(env.ctx, "orders", Range{})
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.True(t, deleted[0].Meta.Deleted)
	assert.Equal(t, int64(2), deleted[0].Meta.Version)
	status, _ = deleted[0].String("status")
	assert.Equal(t, "shipped", status)

	none, err := shop.History().Deleted(env.ctx, "invoices", Range{})
	require.NoError(t, err)
	assert.Empty(t, none)

	future := time.Now().Add(time.Hour)
	past := time.Now().Add(-time.Hour)
	window, err := shop.History().List(env.ctx, d.Meta.ID, Range{From: past, To: future})
	require.NoError(t, err)
	assert.Len(t, window, 3)
}

func TestHistory_Prune(t *testing.T) {
	env := newTestEnv(t, &Config{DefaultArea: AreaConfig{History: true}})
	shop := env.area(t, "shop")

	d, err := shop.Insert(env.ctx, "orders", document.New())
	require.NoError(t, err)
	_, err = shop.Update(env.ctx, d.Meta.ID, document.New())
	require.NoError(t, err)

	removed, err := shop.History().DeleteOlderThan(env.ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)

	removed, err = shop.History().Delete(env.ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	list, err := shop.History().List(env.ctx, d.Meta.ID, Range{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestHistory_Decorators(t *testing.T) {
	env := newTestEnv(t, &Config{DefaultArea: AreaConfig{History: true}})
	shop := env.area(t, "shop")

	require.NoError(t, shop.History().AddDecorator(DecoratorFunc(func(_ context.Context, snap *document.Document) (*document.Document, error) {
		return snap, snap.Set("archived_by", "auditor")
	})))
	assert.ErrorIs(t, shop.History().AddDecorator(nil), ErrValidation)

	d, err := shop.Insert(env.ctx, "orders", mustDoc(t, map[string]any{"n": 1}))
	require.NoError(t, err)
	_, err = shop.Update(env.ctx, d.Meta.ID, mustDoc(t, map[string]any{"n": 2}))
	require.NoError(t, err)

	snap, err := shop.History().Get(env.ctx, d.Meta.ID, 0)
	require.NoError(t, err)
	require.NotNil(t, snap)
	by, _ := snap.String("archived_by")
	assert.Equal(t, "auditor", by)

	live, err := shop.Get(env.ctx, d.Meta.ID)
	require.NoError(t, err)
	assert.False(t, live.Has("archived_by"))
}

func TestHistory_DecoratorErrorAbortsWrite(t *testing.T) {
	env := newTestEnv(t, &Config{DefaultArea: AreaConfig{History: true}})
	shop := env.area(t, "shop")
	boom := errors.New("boom")
	require.NoError(t, shop.History().AddDecorator(DecoratorFunc(func(context.Context, *document.Document) (*document.Document, error) {
		return nil, boom
	})))

	d, err := shop.Insert(env.ctx, "orders", mustDoc(t, map[string]any{"n": 1}))
	require.NoError(t, err)
	_, err = shop.Update(env.ctx, d.Meta.ID, mustDoc(t, map[string]any{"n": 2}))
	assert.ErrorIs(t, err, boom)

	live, err := shop.Get(env.ctx, d.Meta.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), live.Meta.Version)
}

func TestHistory_Disabled(t *testing.T) {
	env := newTestEnv(t, nil)
	shop := env.area(t, "shop")
	assert.False(t, shop.History().Enabled())

	err := shop.History().AddDecorator(DecoratorFunc(func(_ context.Context, d *document.Document) (*document.Document, error) {
		return d, nil
	}))
	assert.ErrorIs(t, err, ErrHistoryDisabled)

	d, err := shop.Insert(env.ctx, "orders", document.New())
	require.NoError(t, err)
	_, err = shop.Update(env.ctx, d.Meta.ID, document.New())
	require.NoError(t, err)

	list, err := shop.History().List(env.ctx, d.Meta.ID, Range{})
	require.NoError(t, err)
	assert.Empty(t, list)
	snap, err := shop.History().Get(env.ctx, uuid.New(), 0)
	require.NoError(t, err)
	assert.Nil(t, snap)
}
