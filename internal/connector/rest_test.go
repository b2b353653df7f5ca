package connector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeG12/DStream/internal/catalog"
	"github.com/codeG12/DStream/internal/config"
	"github.com/codeG12/DStream/internal/errs"
	"github.com/codeG12/DStream/internal/protocol"
	"github.com/codeG12/DStream/internal/state"
)

type captureEmitter struct {
	msgs []protocol.Message
}

func (e *captureEmitter) Emit(m protocol.Message) error {
	e.msgs = append(e.msgs, m)
	return nil
}

func (e *captureEmitter) records() []map[string]interface{} {
	var out []map[string]interface{}
	for _, m := range e.msgs {
		if m.Type == protocol.TypeRecord {
			out = append(out, m.Record)
		}
	}
	return out
}

func writeJSON(t *testing.T, w http.ResponseWriter, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func usersEntry() catalog.Entry {
	return catalog.Entry{
		Stream:            "users",
		Schema:            catalog.Schema{Fields: []catalog.Field{{Name: "id", Type: catalog.TypeInteger}}},
		KeyProperties:     []string{"id"},
		ReplicationMethod: catalog.FullTable,
	}
}

func TestRESTRequiresURL(t *testing.T) {
	cfg := &config.Connector{Name: "api", Type: "rest", Connection: config.Connection{Path: "x"}}
	_, err := openREST(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrConfigInvalid))
}

func TestRESTReadFollowsNextToken(t *testing.T) {
	var apiKeys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKeys = append(apiKeys, r.Header.Get("X-API-Key"))
		if r.URL.Query().Get("next_token") == "" {
			writeJSON(t, w, map[string]interface{}{
				"data":       []map[string]interface{}{{"id": 1}, {"id": 2}},
				"next_token": "t2",
			})
			return
		}
		writeJSON(t, w, map[string]interface{}{
			"data": []map[string]interface{}{{"id": 3}},
		})
	}))
	defer srv.Close()

	cfg := &config.Connector{
		Name:       "api",
		Type:       "rest",
		Connection: config.Connection{URL: srv.URL},
		Auth:       &config.Auth{Type: "api_key", Key: "s3cret"},
	}
	c, err := openREST(context.Background(), cfg)
	require.NoError(t, err)

	sink := &captureEmitter{}
	require.NoError(t, c.Read(context.Background(), usersEntry(), nil, sink))

	rows := sink.records()
	require.Len(t, rows, 3)
	assert.Equal(t, float64(3), rows[2]["id"])
	// Every page, the cursor hop included, carries the key header.
	assert.Equal(t, []string{"s3cret", "s3cret"}, apiKeys)
}

func TestRESTReadFollowsNextLink(t *testing.T) {
	var bearers []string
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		bearers = append(bearers, r.Header.Get("Authorization"))
		writeJSON(t, w, map[string]interface{}{
			"data": []map[string]interface{}{{"id": 1}},
			"next": srv.URL + "/users_page2",
		})
	})
	mux.HandleFunc("/users_page2", func(w http.ResponseWriter, r *http.Request) {
		bearers = append(bearers, r.Header.Get("Authorization"))
		writeJSON(t, w, map[string]interface{}{
			"data": []map[string]interface{}{{"id": 2}},
		})
	})

	cfg := &config.Connector{
		Name:       "api",
		Type:       "rest",
		Connection: config.Connection{URL: srv.URL},
		Auth:       &config.Auth{Type: "bearer", Token: "tok"},
	}
	c, err := openREST(context.Background(), cfg)
	require.NoError(t, err)

	sink := &captureEmitter{}
	require.NoError(t, c.Read(context.Background(), usersEntry(), nil, sink))

	require.Len(t, sink.records(), 2)
	// The next link is absolute, so auth must be re-applied on the hop.
	assert.Equal(t, []string{"Bearer tok", "Bearer tok"}, bearers)
}

func TestRESTReadAdvancesPageNumbers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := 1
		if p := r.URL.Query().Get("page"); p != "" {
			page = 2
		}
		if page == 1 {
			writeJSON(t, w, map[string]interface{}{
				"data": []map[string]interface{}{{"id": 1}, {"id": 2}},
				"page": 1,
			})
			return
		}
		writeJSON(t, w, map[string]interface{}{
			"data": []map[string]interface{}{},
			"page": 2,
		})
	}))
	defer srv.Close()

	cfg := &config.Connector{Name: "api", Type: "rest", Connection: config.Connection{URL: srv.URL}}
	c, err := openREST(context.Background(), cfg)
	require.NoError(t, err)

	sink := &captureEmitter{}
	require.NoError(t, c.Read(context.Background(), usersEntry(), nil, sink))
	assert.Len(t, sink.records(), 2)
}

func TestRESTReadFiltersByBookmark(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]interface{}{
			"data": []map[string]interface{}{
				{"id": 1, "updated_at": "2024-03-01T00:00:00Z"},
				{"id": 2, "updated_at": "2024-03-02T00:00:00Z"},
				{"id": 3, "updated_at": "2024-03-03T00:00:00Z"},
			},
		})
	}))
	defer srv.Close()

	cfg := &config.Connector{Name: "api", Type: "rest", Connection: config.Connection{URL: srv.URL}}
	c, err := openREST(context.Background(), cfg)
	require.NoError(t, err)

	entry := catalog.Entry{
		Stream: "users",
		Schema: catalog.Schema{Fields: []catalog.Field{
			{Name: "id", Type: catalog.TypeInteger},
			{Name: "updated_at", Type: catalog.TypeTimestamp},
		}},
		KeyProperties:     []string{"id"},
		ReplicationMethod: catalog.Incremental,
		ReplicationKey:    "updated_at",
	}
	since := &state.Record{
		Stream: "users", Table: "users",
		BookmarkColumn: "updated_at",
		BookmarkValue:  "2024-03-02T00:00:00Z",
		BookmarkType:   state.BookmarkTimestamp,
	}

	sink := &captureEmitter{}
	require.NoError(t, c.Read(context.Background(), entry, since, sink))

	rows := sink.records()
	require.Len(t, rows, 1)
	assert.Equal(t, float64(3), rows[0]["id"])
}

func TestRESTOAuth2FetchesToken(t *testing.T) {
	var grant map[string]string
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&grant))
		writeJSON(t, w, map[string]string{"access_token": "tok123"})
	}))
	defer tokenSrv.Close()

	var auth string
	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		writeJSON(t, w, map[string]interface{}{"data": []map[string]interface{}{{"id": 1}}})
	}))
	defer apiSrv.Close()

	cfg := &config.Connector{
		Name:       "api",
		Type:       "rest",
		Connection: config.Connection{URL: apiSrv.URL},
		Auth: &config.Auth{
			Type:         "oauth2",
			ClientID:     "cid",
			ClientSecret: "cs",
			RefreshToken: "rt",
			TokenURL:     tokenSrv.URL,
		},
	}
	c, err := openREST(context.Background(), cfg)
	require.NoError(t, err)

	sink := &captureEmitter{}
	require.NoError(t, c.Read(context.Background(), usersEntry(), nil, sink))

	assert.Equal(t, "refresh_token", grant["grant_type"])
	assert.Equal(t, "cid", grant["client_id"])
	assert.Equal(t, "rt", grant["refresh_token"])
	assert.Equal(t, "Bearer tok123", auth)
}

func TestRESTOAuth2RequiresTokenURL(t *testing.T) {
	cfg := &config.Connector{
		Name:       "api",
		Type:       "rest",
		Connection: config.Connection{URL: "http://api.example.com"},
		Auth:       &config.Auth{Type: "oauth2", ClientID: "cid"},
	}
	_, err := openREST(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrConfigInvalid))
}

func TestRESTDiscoverInfersSchema(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]interface{}{
			"data": []map[string]interface{}{
				{"id": 1, "name": "ada", "score": 9.5, "updated_at": "2024-03-01T00:00:00Z"},
				{"id": 2, "name": nil},
			},
		})
	}))
	defer srv.Close()

	cfg := &config.Connector{
		Name:       "api",
		Type:       "rest",
		Connection: config.Connection{URL: srv.URL},
		Streams:    []string{"users"},
	}
	c, err := openREST(context.Background(), cfg)
	require.NoError(t, err)

	entries, err := c.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entry := entries[0]
	assert.Equal(t, "users", entry.Stream)
	assert.Equal(t, []string{"id"}, entry.KeyProperties)
	assert.Equal(t, catalog.Incremental, entry.ReplicationMethod)
	assert.Equal(t, "updated_at", entry.ReplicationKey)

	id, ok := entry.Schema.Field("id")
	require.True(t, ok)
	assert.Equal(t, catalog.TypeInteger, id.Type)

	name, ok := entry.Schema.Field("name")
	require.True(t, ok)
	assert.Equal(t, catalog.TypeString, name.Type)
	assert.True(t, name.Nullable)

	score, ok := entry.Schema.Field("score")
	require.True(t, ok)
	assert.Equal(t, catalog.TypeFloat, score.Type)
	assert.True(t, score.Nullable)

	updated, ok := entry.Schema.Field("updated_at")
	require.True(t, ok)
	assert.Equal(t, catalog.TypeTimestamp, updated.Type)
}

func TestRESTDiscoverRequiresStreams(t *testing.T) {
	cfg := &config.Connector{Name: "api", Type: "rest", Connection: config.Connection{URL: "http://api.example.com"}}
	c, err := openREST(context.Background(), cfg)
	require.NoError(t, err)

	_, err = c.Discover(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrConfigInvalid))
}
