package docstore

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobiletoly/go-docstore/bsondoc"
)

// offlineStore builds a store that never touches a database. Requests that
// fail before any query can be served by it.
func offlineStore() *Store {
	cfg := (&Config{}).withDefaults()
	return &Store{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		config: cfg,
		codec:  bsondoc.NewCodec(cfg.Fields),
		areas:  make(map[string]*Area),
		subs:   make(map[*Subscription]struct{}),
	}
}

func bearer(t *testing.T, jwtAuth *JWTAuth, areas ...string) string {
	t.Helper()
	token, err := jwtAuth.GenerateToken("reader", areas, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestHTTPHandlers_RequestValidation(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret")
	store := offlineStore()
	mux := NewHTTPHandlers(store, store.logger).Routes(jwtAuth)

	all := bearer(t, jwtAuth)
	shopOnly := bearer(t, jwtAuth, "shop")

	tests := []struct {
		name   string
		path   string
		auth   string
		status int
		code   string
	}{
		{"no token", "/areas/shop/changes", "", http.StatusUnauthorized, ""},
		{"area not granted", "/areas/audit/changes", shopOnly, http.StatusForbidden, "forbidden"},
		{"invalid area name", "/areas/bad$name/count", all, http.StatusBadRequest, "invalid_request"},
		{"negative since", "/areas/shop/changes?since=-1", all, http.StatusBadRequest, "invalid_request"},
		{"since not a number", "/areas/shop/changes?since=abc", all, http.StatusBadRequest, "invalid_request"},
		{"limit too large", "/areas/shop/changes?limit=1001", all, http.StatusBadRequest, "invalid_request"},
		{"limit zero", "/areas/shop/changes?limit=0", shopOnly, http.StatusBadRequest, "invalid_request"},
		{"deletes not bool", "/areas/shop/changes?deletes=maybe", all, http.StatusBadRequest, "invalid_request"},
		{"id not uuid", "/areas/shop/documents/42", all, http.StatusBadRequest, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.code != "" {
				var body ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, tt.code, body.Error)
				assert.NotEmpty(t, body.Message)
			}
		})
	}
}

func TestHTTPHandlers_ClosedStore(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret")
	store := offlineStore()
	require.NoError(t, store.Close())
	mux := NewHTTPHandlers(store, nil).Routes(jwtAuth)

	req := httptest.NewRequest(http.MethodGet, "/areas/shop/count", nil)
	req.Header.Set("Authorization", bearer(t, jwtAuth))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHTTPHandlers_Health(t *testing.T) {
	mux := NewHTTPHandlers(offlineStore(), nil).Routes(NewJWTAuth("test-secret"))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestHTTPHandlers_EndToEnd(t *testing.T) {
	env := newTestEnv(t, nil)
	shop := env.area(t, "shop")
	jwtAuth := NewJWTAuth("test-secret")
	srv := httptest.NewServer(NewHTTPHandlers(env.store, nil).Routes(jwtAuth))
	defer srv.Close()
	token := bearer(t, jwtAuth, "shop")

	get := func(path string, out any) int {
		req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", token)
		resp, err := srv.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		if out != nil && resp.StatusCode == http.StatusOK {
			require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
		}
		return resp.StatusCode
	}

	a, err := shop.Insert(env.ctx, "orders", mustDoc(t, map[string]any{"total": 3}))
	require.NoError(t, err)
	b, err := shop.Insert(env.ctx, "orders", mustDoc(t, map[string]any{"total": 4}))
	require.NoError(t, err)
	_, err = shop.Update(env.ctx, a.Meta.ID, mustDoc(t, map[string]any{"total": 5}))
	require.NoError(t, err)
	_, err = shop.Delete(env.ctx, b.Meta.ID)
	require.NoError(t, err)

	var changes ChangesResponse
	require.Equal(t, http.StatusOK, get("/areas/shop/changes?partitioned=true", &changes))
	require.Len(t, changes.Changes, 4)
	assert.Equal(t, CountsResponse{Total: 4, Created: 2, Updated: 1, Deleted: 1}, changes.Counts)
	assert.Equal(t, []string{"create", "create", "update", "delete"},
		[]string{changes.Changes[0].Type, changes.Changes[1].Type, changes.Changes[2].Type, changes.Changes[3].Type})
	assert.EqualValues(t, 5, changes.Changes[2].Document["total"])
	assert.Nil(t, changes.Changes[3].Document)

	var noDeletes ChangesResponse
	require.Equal(t, http.StatusOK, get("/areas/shop/changes?deletes=false&limit=10", &noDeletes))
	assert.Len(t, noDeletes.Changes, 3)
	assert.Equal(t, changes.Token, noDeletes.Token)

	var tail ChangesResponse
	require.Equal(t, http.StatusOK, get("/areas/shop/changes?since="+strconv.FormatInt(changes.Token, 10), &tail))
	assert.Empty(t, tail.Changes)
	assert.Equal(t, changes.Token, tail.Token)

	var doc map[string]any
	require.Equal(t, http.StatusOK, get("/areas/shop/documents/"+a.Meta.ID.String(), &doc))
	assert.Equal(t, a.Meta.ID.String(), doc["$id"])
	assert.EqualValues(t, 1, doc["$version"])
	assert.EqualValues(t, 5, doc["total"])

	assert.Equal(t, http.StatusNotFound, get("/areas/shop/documents/"+b.Meta.ID.String(), nil))

	var count CountResponse
	require.Equal(t, http.StatusOK, get("/areas/shop/count?content_type=orders", &count))
	assert.Equal(t, CountResponse{Area: "shop", ContentType: "orders", Count: 1}, count)
}
