package translate_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgsite/orgsite/internal/translate"
)

func TestClientTranslate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/languages":
			_, _ = w.Write([]byte(`[]`))
		case "/translate":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "en", body["source"])
			assert.Equal(t, "text", body["format"])
			assert.Equal(t, "secret", body["api_key"])
			if body["target"] == "xx" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"xx is not supported"}`))
				return
			}
			_, _ = w.Write([]byte(`{"translatedText":"[` + body["target"] + `] ` + body["q"] + `"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := translate.NewClient(srv.URL+"/", "secret")
	require.NoError(t, client.Ping(context.Background()))

	out, err := client.Translate(context.Background(), "Hello", "en", "es")
	require.NoError(t, err)
	assert.Equal(t, "[es] Hello", out)

	_, err = client.Translate(context.Background(), "Hello", "en", "xx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xx is not supported")
}

func TestClientPingFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	assert.Error(t, translate.NewClient(srv.URL, "").Ping(context.Background()))
}
