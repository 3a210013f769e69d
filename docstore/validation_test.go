package docstore

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAreaName(t *testing.T) {
	valid := []string{"shop", "Shop.Orders", "tenant-1_data", "a", strings.Repeat("x", maxAreaNameLen)}
	for _, name := range valid {
		assert.NoError(t, validateAreaName(name), name)
	}

	invalid := []string{"", "has space", "semi;colon", `quo"te`, "slash/name", strings.Repeat("x", maxAreaNameLen+1)}
	for _, name := range invalid {
		err := validateAreaName(name)
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, ErrInvalidAreaName), name)
		assert.True(t, errors.Is(err, ErrValidation), name)
	}
}

func TestValidateAreaName_ReservedSuffixes(t *testing.T) {
	for _, name := range []string{"orders.seed", "orders.changelog", "orders.history", ".seed"} {
		err := validateAreaName(name)
		require.Error(t, err, name)
		assert.ErrorIs(t, err, ErrInvalidAreaName, name)

		_, err = offlineStore().Area(name)
		assert.ErrorIs(t, err, ErrInvalidAreaName, name)
	}

	// Suffixes only collide at the end of the name.
	for _, name := range []string{"orders.seeds", "orders.history.v2", "changelog", "seed.orders"} {
		assert.NoError(t, validateAreaName(name), name)
	}

	// No admitted area resolves any of its tables to a table of another area.
	names := []string{"orders", "orders.v2", "orders-seed", "orders.seeds", "orders.changelog2"}
	owner := map[string]string{}
	for _, name := range names {
		require.NoError(t, validateAreaName(name), name)
		ts := newTableSet("docstore", name)
		for _, table := range []string{ts.main, ts.seed, ts.changelog, ts.history} {
			prev, taken := owner[table]
			assert.False(t, taken, "%s is shared by %s and %s", table, prev, name)
			owner[table] = name
		}
	}
}

func TestValidateSchemaName(t *testing.T) {
	assert.NoError(t, validateSchemaName("docstore"))
	assert.NoError(t, validateSchemaName("_tenant_42"))

	for _, name := range []string{"", "Upper", "1starts_with_digit", "has-dash", "drop;table"} {
		err := validateSchemaName(name)
		require.Error(t, err, name)
		assert.ErrorIs(t, err, ErrValidation)
		assert.False(t, errors.Is(err, ErrInvalidAreaName), name)
	}
}

func TestValidateContentType(t *testing.T) {
	assert.NoError(t, validateContentType("orders"))
	assert.ErrorIs(t, validateContentType(""), ErrValidation)
	assert.ErrorIs(t, validateContentType("   "), ErrValidation)
}

func TestNotFoundError(t *testing.T) {
	err := error(&NotFoundError{Area: "shop"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "shop")

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "shop", nf.Area)
}

func TestConfigDefaults(t *testing.T) {
	cfg := (*Config)(nil).withDefaults()
	assert.Equal(t, DefaultSchema, cfg.Schema)
	assert.Equal(t, "$id", cfg.Fields.ID)
	assert.NotNil(t, cfg.Migrations)

	cfg = (&Config{
		DefaultArea: AreaConfig{SchemaVersion: "1"},
		Areas:       map[string]AreaConfig{"audit": {History: true, PageSize: 10}},
	}).withDefaults()

	shop := cfg.area("shop")
	assert.Equal(t, "1", shop.SchemaVersion)
	assert.Equal(t, DefaultPollInterval, shop.PollInterval)
	assert.Equal(t, DefaultPageSize, shop.PageSize)

	audit := cfg.area("audit")
	assert.True(t, audit.History)
	assert.Equal(t, 10, audit.PageSize)
	assert.Empty(t, audit.SchemaVersion)
}

func TestTableNamingIsStablePerArea(t *testing.T) {
	a := newTableSet("docstore", "shop")
	b := newTableSet("docstore", "shop")
	c := newTableSet("other", "shop")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a.key, c.key)
	assert.Equal(t, `"docstore"."shop"`, a.main)
	assert.Equal(t, `"docstore"."shop.changelog"`, a.changelog)
	assert.Equal(t, advisoryKey(areaID("docstore", "shop")), advisoryKey(areaID("docstore", "shop")))
	assert.NotEqual(t, notifyChannel(areaID("docstore", "shop")), notifyChannel(areaID("docstore", "orders")))
}
