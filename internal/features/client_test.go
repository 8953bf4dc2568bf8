package features

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClient_TokenFetchedOnceAndReused(t *testing.T) {
	var tokenCalls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/generateToken", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "publisher", r.Form.Get("username"))
		assert.Equal(t, "hunter2", r.Form.Get("password"))

		fmt.Fprintf(w, `{"token": "tok-123", "expires": %d}`, time.Now().Add(time.Hour).UnixMilli())
	})
	mux.HandleFunc("/0/query", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "tok-123", r.Form.Get("token"))
		fmt.Fprint(w, `{"features": []}`)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL, "publisher", "hunter2", 5*time.Second, discardLogger())
	layer := c.Layer(0)

	_, err := layer.QueryByReachID(context.Background(), "2270")
	require.NoError(t, err)
	_, err = layer.QueryByReachID(context.Background(), "2270")
	require.NoError(t, err)

	assert.Equal(t, int64(1), tokenCalls.Load(), "token should be cached across requests")
}

func TestClient_AnonymousSkipsToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/generateToken", func(w http.ResponseWriter, _ *http.Request) {
		t.Error("generateToken should not be called for anonymous access")
	})
	mux.HandleFunc("/3/query", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Empty(t, r.Form.Get("token"))
		fmt.Fprint(w, `{"features": []}`)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL, "", "", 5*time.Second, discardLogger())
	_, err := c.Layer(3).Query(context.Background(), "1=1")
	require.NoError(t, err)
}

func TestClient_TokenError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"error": {"code": 400, "message": "Invalid credentials"}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "publisher", "wrong", 5*time.Second, discardLogger())
	_, err := c.Layer(0).Query(context.Background(), "1=1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid credentials")
}

func TestLayer_QueryByReachID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2/query", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "reach_id = '2270'", r.Form.Get("where"))
		assert.Equal(t, "*", r.Form.Get("outFields"))

		fmt.Fprint(w, `{
			"features": [
				{"attributes": {"reach_id": "2270", "kind": "putin"}, "geometry": {"x": -121.7, "y": 45.7}},
				{"attributes": {"reach_id": "2270", "kind": "takeout"}, "geometry": {"x": -121.5, "y": 45.9}}
			]
		}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "", 5*time.Second, discardLogger())
	feats, err := c.Layer(2).QueryByReachID(context.Background(), "2270")
	require.NoError(t, err)

	require.Len(t, feats, 2)
	assert.Equal(t, "putin", feats[0].StringAttr("kind"))
	pt, ok := feats[0].Geometry.Point()
	require.True(t, ok)
	assert.Equal(t, orb.Point{-121.7, 45.7}, pt)
}

func TestLayer_QueryByReachID_EscapesQuotes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "reach_id = '22''70'", r.Form.Get("where"))
		fmt.Fprint(w, `{"features": []}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "", 5*time.Second, discardLogger())
	_, err := c.Layer(0).QueryByReachID(context.Background(), "22'70")
	require.NoError(t, err)
}

func TestLayer_AddFeatures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/0/applyEdits", r.URL.Path)
		require.NoError(t, r.ParseForm())

		var adds []Feature
		require.NoError(t, json.Unmarshal([]byte(r.Form.Get("adds")), &adds))
		require.Len(t, adds, 1)
		assert.Equal(t, "2270", adds[0].StringAttr("reach_id"))
		require.NotNil(t, adds[0].Geometry)
		assert.Len(t, adds[0].Geometry.Paths, 1)

		fmt.Fprint(w, `{"addResults": [{"objectId": 99, "success": true}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "", 5*time.Second, discardLogger())
	err := c.Layer(0).AddFeatures(context.Background(), []Feature{{
		Attributes: map[string]any{"reach_id": "2270"},
		Geometry:   PolylineGeometry(orb.LineString{{-121.7, 45.7}, {-121.5, 45.9}}),
	}})
	require.NoError(t, err)
}

func TestLayer_AddFeatures_RejectedAdd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"addResults": [{"objectId": 0, "success": false}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "", 5*time.Second, discardLogger())
	err := c.Layer(0).AddFeatures(context.Background(), []Feature{{
		Attributes: map[string]any{"reach_id": "2270"},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
}

func TestLayer_DeleteByReachID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/1/query", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "true", r.Form.Get("returnIdsOnly"))
		fmt.Fprint(w, `{"objectIds": [4, 7]}`)
	})
	mux.HandleFunc("/1/applyEdits", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "4,7", r.Form.Get("deletes"))
		fmt.Fprint(w, `{"deleteResults": [{"objectId": 4, "success": true}, {"objectId": 7, "success": true}]}`)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL, "", "", 5*time.Second, discardLogger())
	n, err := c.Layer(1).DeleteByReachID(context.Background(), "2270")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestLayer_DeleteByReachID_NothingToDelete(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/1/query", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"objectIds": []}`)
	})
	mux.HandleFunc("/1/applyEdits", func(w http.ResponseWriter, _ *http.Request) {
		t.Error("applyEdits should not be called with no ids")
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL, "", "", 5*time.Second, discardLogger())
	n, err := c.Layer(1).DeleteByReachID(context.Background(), "2270")
	require.NoError(t, err)
	assert.Zero(t, n)
}
