package flume

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
)

// fakeProvider serves the three endpoints the pipeline touches
type fakeProvider struct {
	mu      sync.Mutex
	paths   []string
	devices string
	usage   func(req QueryRequest) string
}

func (p *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.paths = append(p.paths, r.Method+" "+r.URL.Path)
	p.mu.Unlock()

	switch {
	case r.URL.Path == "/oauth/token":
		fmt.Fprintf(w, `{"success":true,"data":[{"token_type":"bearer","access_token":%q,"expires_in":3600,"refresh_token":"r"}]}`,
			stdToken(`{"user_id":42}`))
	case r.URL.Path == "/users/42/devices":
		io.WriteString(w, p.devices)
	case r.URL.Path == "/users/42/devices/sensor-1/query":
		var req QueryRequest
		json.NewDecoder(r.Body).Decode(&req)
		io.WriteString(w, p.usage(req))
	default:
		http.NotFound(w, r)
	}
}

func newTestFetcher(t *testing.T, p *fakeProvider) *Fetcher {
	t.Helper()
	client := newTestClient(t, p)
	f := NewFetcher(client, NewTokenSource(NewTokenManager(client), testCred), WindowPolicy{Location: time.UTC})
	f.now = func() time.Time { return time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC) }
	return f
}

func TestFetch(t *testing.T) {
	p := &fakeProvider{
		devices: `{"data":[{"id":"bridge","type":1},{"id":"sensor-1","type":2}]}`,
		usage: func(req QueryRequest) string {
			q := req.Queries[0]
			if q.SinceDatetime != "2024-01-01 00:00:00" || q.UntilDatetime != "2024-01-01 00:05:00" || q.Bucket != "MIN" {
				return `{"data":[]}`
			}
			return fmt.Sprintf(`{"data":[{%q:[{"datetime":"2024-01-01 00:00:00","value":1.5},{"datetime":"2024-01-01 00:01:00","value":2.0}]}]}`, q.RequestID)
		},
	}
	f := newTestFetcher(t, p)

	res, err := f.Fetch(context.Background(), FetchRequest{Lookback: 5 * time.Minute, Bucket: BucketMinute})
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}

	if res.UserID != 42 || res.Device.ID != "sensor-1" {
		t.Errorf("resolved user=%d device=%q", res.UserID, res.Device.ID)
	}
	if len(res.Samples) != 2 {
		t.Fatalf("got %d samples, want 2", len(res.Samples))
	}
	for _, s := range res.Samples {
		if s.DeviceID != "sensor-1" || s.Bucket != BucketMinute {
			t.Errorf("sample not tagged: %+v", s)
		}
	}
	if res.Samples[0].Value != 1.5 || res.Samples[1].Value != 2.0 {
		t.Errorf("unexpected samples %+v", res.Samples)
	}

	want := []string{
		"POST /oauth/token",
		"GET /users/42/devices",
		"POST /users/42/devices/sensor-1/query",
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if fmt.Sprint(p.paths) != fmt.Sprint(want) {
		t.Errorf("calls = %v, want %v", p.paths, want)
	}
}

func TestFetchStopsAtFailingStage(t *testing.T) {
	p := &fakeProvider{
		devices: `{"data":[{"id":"a","type":2},{"id":"b","type":2}]}`,
		usage:   func(QueryRequest) string { t.Error("query should not run"); return "" },
	}
	f := newTestFetcher(t, p)

	_, err := f.Fetch(context.Background(), FetchRequest{Lookback: time.Minute, Bucket: BucketMinute})
	var devErr *DeviceError
	if !errors.As(err, &devErr) || !errors.Is(err, ErrAmbiguousDevice) {
		t.Fatalf("Fetch() error = %v, want ambiguous DeviceError", err)
	}
}

func TestFetchEmptyWindow(t *testing.T) {
	p := &fakeProvider{
		devices: `{"data":[{"id":"sensor-1","type":2}]}`,
		usage: func(req QueryRequest) string {
			return fmt.Sprintf(`{"data":[{%q:[]}]}`, req.RequestID())
		},
	}
	f := newTestFetcher(t, p)

	res, err := f.Fetch(context.Background(), FetchRequest{Lookback: time.Minute, Bucket: BucketMinute, RequestID: "fixed"})
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if len(res.Samples) != 0 {
		t.Errorf("got %d samples, want 0", len(res.Samples))
	}
	if res.Request.RequestID() != "fixed" {
		t.Errorf("request id = %q, want fixed", res.Request.RequestID())
	}
}
