package httpcache

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/goccy/go-json"
)

// CacheHeader is set to "1" on responses served from the cache.
const CacheHeader = "X-From-Cache"

// Transport is an http.RoundTripper that answers GET requests from the cache
// and stores successful upstream responses.
type Transport struct {
	Cache *Cache
	Next  http.RoundTripper
}

// NewTransport wraps next (http.DefaultTransport when nil).
func NewTransport(cache *Cache, next http.RoundTripper) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Transport{Cache: cache, Next: next}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet || t.Cache == nil {
		return t.Next.RoundTrip(req)
	}

	ctx := req.Context()
	key := Key(req.Method, req.URL.String())

	entry, ok, err := t.Cache.Get(ctx, key)
	if err != nil {
		log.Printf("WARN: httpcache lookup failed for %s: %v", req.URL.Redacted(), err)
	}
	if ok {
		return entry.response(req)
	}

	resp, err := t.Next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	header, err := json.Marshal(resp.Header)
	if err != nil {
		return nil, fmt.Errorf("encode response header: %w", err)
	}
	if err := t.Cache.Put(ctx, key, Entry{
		URL:    req.URL.String(),
		Status: resp.StatusCode,
		Header: header,
		Body:   body,
	}); err != nil {
		log.Printf("WARN: httpcache store failed for %s: %v", req.URL.Redacted(), err)
	}

	return resp, nil
}

func (e Entry) response(req *http.Request) (*http.Response, error) {
	header := make(http.Header)
	if len(e.Header) > 0 {
		if err := json.Unmarshal(e.Header, &header); err != nil {
			return nil, fmt.Errorf("decode cached header: %w", err)
		}
	}
	header.Set(CacheHeader, "1")

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status)),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}, nil
}
