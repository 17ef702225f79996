package kvguard

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/kvguard/kvguard/log"
)

// HTTPStore implements Store against a replica's REST API:
//
//	GET  /{key}      -> 200 {"op":..,"value":..}
//	PUT  /{key}      <- {"op":..,"value":..}
//	POST /{key}/cas  <- {"op":..,"prev":..,"value":..} -> 200 holder
//
// A non-2xx response is an explicit refusal (ErrCanceled). Any transport
// failure maps to ErrTimeout: once the request may have left the
// process, its effect on the store is unknown.
type HTTPStore struct {
	name    string
	base    string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPStore creates a client for one replica. baseURL must carry the
// scheme and host, e.g. http://10.0.0.1:8080.
func NewHTTPStore(name, baseURL string, timeout time.Duration) (*HTTPStore, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "replica %s url", name)
	}
	return &HTTPStore{
		name:    name,
		base:    u.String(),
		timeout: timeout,
		client:  &http.Client{},
	}, nil
}

func (s *HTTPStore) Name() string { return s.name }

type casRequest struct {
	OpID  string `json:"op"`
	Prev  string `json:"prev,omitempty"`
	Value string `json:"value"`
}

func (s *HTTPStore) do(ctx context.Context, method, path string, body interface{}) (Written, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return Written{}, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.base+path, rd)
	if err != nil {
		return Written{}, err
	}
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := s.client.Do(req)
	if err != nil {
		log.Debugf("replica=%s %s %s: %v", s.name, method, path, err)
		return Written{}, errors.Mark(err, ErrTimeout)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		b, _ := io.ReadAll(res.Body)
		log.Debugf("replica=%s %s %s: %s %q", s.name, method, path, res.Status, b)
		return Written{}, errors.Mark(errors.Newf("%s: %s", res.Status, b), ErrCanceled)
	}
	var w Written
	if err := json.NewDecoder(res.Body).Decode(&w); err != nil {
		return Written{}, errors.Mark(err, ErrTimeout)
	}
	return w, nil
}

// Put installs a value unconditionally (used to seed keys)
func (s *HTTPStore) Put(ctx context.Context, key, value, opID string) error {
	_, err := s.do(ctx, http.MethodPut, "/"+url.PathEscape(key), casRequest{OpID: opID, Value: value})
	return err
}

// Get reads the current holder of a key
func (s *HTTPStore) Get(ctx context.Context, key string) (Written, error) {
	return s.do(ctx, http.MethodGet, "/"+url.PathEscape(key), nil)
}

// CompareAndSwap proposes (value, opID) given prevOpID and returns the
// holder the replica reports afterwards
func (s *HTTPStore) CompareAndSwap(ctx context.Context, key, prevOpID, value, opID string) (Written, error) {
	return s.do(ctx, http.MethodPost, "/"+url.PathEscape(key)+"/cas",
		casRequest{OpID: opID, Prev: prevOpID, Value: value})
}
