package dvr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListDevices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/devices", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"DeviceID": "dev-1", "FriendlyName": "Living Room", "Provider": "hdhomerun"},
			{"DeviceID": "dev-2", "FriendlyName": "TVE", "Provider": "tve"}
		]`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	sources, err := client.ListDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "dev-1", sources[0].ID)
	assert.Equal(t, "Living Room", sources[0].Name)
	assert.Equal(t, "hdhomerun", sources[0].Provider)
}

func TestListChannels_MergesDevices(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/devices", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"DeviceID": "dev-1", "FriendlyName": "Tuner"},
			{"DeviceID": "dev-2", "FriendlyName": "Streams"}
		]`))
	})
	mux.HandleFunc("/devices/dev-1/channels", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"ID": "ch-1", "GuideNumber": "5.1", "GuideName": "NBC", "Callsign": "WNBC", "Affiliate": "NBC"}
		]`))
	})
	mux.HandleFunc("/devices/dev-2/channels", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"ID": "ch-2", "GuideNumber": "100", "GuideName": "ESPN"}
		]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	channels, err := client.ListChannels(context.Background())
	require.NoError(t, err)
	require.Len(t, channels, 2)

	assert.Equal(t, "ch-1", channels[0].ID)
	assert.Equal(t, "5.1", channels[0].Number)
	assert.Equal(t, "NBC", channels[0].Name)
	assert.Equal(t, "WNBC", channels[0].Callsign)
	assert.Equal(t, "dev-1", channels[0].SourceID)
	assert.Equal(t, "Tuner", channels[0].SourceName)

	assert.Equal(t, "dev-2", channels[1].SourceID)
	assert.Equal(t, "Streams", channels[1].SourceName)
}

func TestListChannels_SkipsFailingDevice(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/devices", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"DeviceID": "dead", "FriendlyName": "Broken"},
			{"DeviceID": "dev-1", "FriendlyName": "Tuner"}
		]`))
	})
	mux.HandleFunc("/devices/dead/channels", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "tuner offline", http.StatusInternalServerError)
	})
	mux.HandleFunc("/devices/dev-1/channels", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"ID": "ch-1", "GuideNumber": "2", "GuideName": "ABC"}]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	channels, err := client.ListChannels(context.Background())
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, "ch-1", channels[0].ID)
}

func TestListChannels_EmptyInventoryIsError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/devices", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"DeviceID": "dev-1", "FriendlyName": "Tuner"}]`))
	})
	mux.HandleFunc("/devices/dev-1/channels", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	_, err := client.ListChannels(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no channels")
}

func TestListCollections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/dvr/collections/channels", r.URL.Path)
		w.Write([]byte(`[
			{"slug": "sports", "name": "Sports", "items": ["ch-1", "ch-2"]},
			{"slug": "news", "name": "News", "items": []}
		]`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	collections, err := client.ListCollections(context.Background())
	require.NoError(t, err)
	require.Len(t, collections, 2)
	assert.Equal(t, "sports", collections[0].Slug)
	assert.Equal(t, []string{"ch-1", "ch-2"}, collections[0].Items)
}

func TestGetCollection_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	_, err := client.GetCollection(context.Background(), "missing")
	require.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestUpdateCollectionItems_PreservesUnknownFields(t *testing.T) {
	var updated map[string]any

	mux := http.NewServeMux()
	mux.HandleFunc("GET /dvr/collections/channels/sports", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"slug": "sports",
			"name": "Sports",
			"items": ["old-1"],
			"image_url": "https://example.com/sports.png",
			"position": 3
		}`))
	})
	mux.HandleFunc("PUT /dvr/collections/channels/sports", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&updated))
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	err := client.UpdateCollectionItems(context.Background(), "sports", []string{"ch-1", "ch-2"})
	require.NoError(t, err)

	require.NotNil(t, updated)
	assert.Equal(t, []any{"ch-1", "ch-2"}, updated["items"])
	assert.Equal(t, "https://example.com/sports.png", updated["image_url"], "unmodelled fields round-trip")
	assert.Equal(t, float64(3), updated["position"])
	assert.Equal(t, "Sports", updated["name"])
}

func TestUpdateCollectionItems_NilItemsWritesEmptyList(t *testing.T) {
	var updated map[string]any

	mux := http.NewServeMux()
	mux.HandleFunc("GET /dvr/collections/channels/empty", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"slug": "empty", "name": "Empty", "items": ["gone"]}`))
	})
	mux.HandleFunc("PUT /dvr/collections/channels/empty", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&updated))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	require.NoError(t, client.UpdateCollectionItems(context.Background(), "empty", nil))
	assert.Equal(t, []any{}, updated["items"], "null would drop the field on the DVR side")
}

func TestUpdateCollectionItems_CreatesMissingCollection(t *testing.T) {
	var created map[string]any

	mux := http.NewServeMux()
	mux.HandleFunc("GET /dvr/collections/channels/ghost", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("PUT /dvr/collections/channels/ghost", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	require.NoError(t, client.UpdateCollectionItems(context.Background(), "ghost", []string{"ch-1"}))
	assert.Equal(t, "ghost", created["slug"])
	assert.Equal(t, []any{"ch-1"}, created["items"])
}

func TestClient_TrailingSlashTrimmed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/devices", r.URL.Path)
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", time.Second)
	_, err := client.ListDevices(context.Background())
	require.NoError(t, err)
}
