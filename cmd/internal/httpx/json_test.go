package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type sample struct {
	Name string `json:"name"`
}

func TestWriteError(t *testing.T) {
	r := require.New(t)
	rec := httptest.NewRecorder()

	WriteError(rec, http.StatusConflict, "name_taken", "name already registered")

	r.Equal(http.StatusConflict, rec.Code)
	r.Equal("no-store", rec.Header().Get("Cache-Control"))
	r.Contains(rec.Header().Get("Content-Type"), "application/json")

	var body ErrorResponse
	r.NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	r.Equal(APIError{Code: "name_taken", Message: "name already registered"}, body.Error)
}

func TestDecodeJSON(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		limit   int64
		wantErr bool
	}{
		{name: "ok", body: `{"name":"alice"}`},
		{name: "unknown field", body: `{"name":"alice","admin":true}`, wantErr: true},
		{name: "trailing data", body: `{"name":"alice"} {}`, wantErr: true},
		{name: "not json", body: `name=alice`, wantErr: true},
		{name: "too large", body: `{"name":"` + strings.Repeat("a", 64) + `"}`, limit: 16, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			var dst sample
			err := DecodeJSON(httptest.NewRecorder(), req, tc.limit, &dst)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "alice", dst.Name)
		})
	}
}
