package kvguard

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"

	"github.com/kvguard/kvguard/log"
)

// NewStoreHandler exposes a Store as the REST surface HTTPStore speaks.
// It is the server side of the demo command and the e2e tests.
func NewStoreHandler(s Store) http.Handler {
	r := chi.NewRouter()
	r.Get("/{key}", func(w http.ResponseWriter, req *http.Request) {
		res, err := s.Get(req.Context(), chi.URLParam(req, "key"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, res)
	})
	r.Put("/{key}", func(w http.ResponseWriter, req *http.Request) {
		var body casRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		key := chi.URLParam(req, "key")
		if err := s.Put(req.Context(), key, body.Value, body.OpID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, Written{OpID: body.OpID, Value: body.Value})
	})
	r.Post("/{key}/cas", func(w http.ResponseWriter, req *http.Request) {
		var body casRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		key := chi.URLParam(req, "key")
		res, err := s.CompareAndSwap(req.Context(), key, body.Prev, body.Value, body.OpID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, res)
	})
	return r
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error(err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusConflict
	if errors.Is(err, ErrTimeout) {
		code = http.StatusGatewayTimeout
	}
	http.Error(w, err.Error(), code)
}
