package flume

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/jgoulah/flumescraper/pkg/models"
)

// Bucket granularities accepted by the query endpoint
const (
	BucketMinute = "MIN"
	BucketHour   = "HR"
	BucketDay    = "DAY"
	BucketMonth  = "MON"
	BucketYear   = "YR"
)

// DateTimeLayout is the wire format of since/until bounds
const DateTimeLayout = models.TimestampLayout

// TimeWindow is the [Since, Until] range of a usage query
type TimeWindow struct {
	Since time.Time
	Until time.Time
}

// SinceString renders Since in the provider's local datetime format
func (w TimeWindow) SinceString() string { return w.Since.Format(DateTimeLayout) }

// UntilString renders Until in the provider's local datetime format
func (w TimeWindow) UntilString() string { return w.Until.Format(DateTimeLayout) }

// WindowPolicy decides which zone the query window is rendered in.
//
// The zero value renders in the caller's local zone, which is what the
// provider's own clients do; the device may live in another zone. Set
// Location or UseDeviceZone to make that choice explicit.
type WindowPolicy struct {
	Location      *time.Location
	UseDeviceZone bool
}

// ZoneFor returns the zone the window for dev is computed in
func (p WindowPolicy) ZoneFor(dev Device) (*time.Location, error) {
	if p.UseDeviceZone && dev.Timezone != "" {
		loc, err := time.LoadLocation(dev.Timezone)
		if err != nil {
			return nil, fmt.Errorf("loading device timezone %q: %w", dev.Timezone, err)
		}
		return loc, nil
	}
	if p.Location != nil {
		return p.Location, nil
	}
	return time.Local, nil
}

// Window computes [now-lookback, now] in the zone chosen for dev
func (p WindowPolicy) Window(now time.Time, lookback time.Duration, dev Device) (TimeWindow, error) {
	if lookback <= 0 {
		return TimeWindow{}, &QueryError{Kind: ErrInvalidWindow, Detail: fmt.Sprintf("lookback must be positive, got %s", lookback)}
	}
	loc, err := p.ZoneFor(dev)
	if err != nil {
		return TimeWindow{}, &QueryError{Kind: ErrInvalidWindow, Err: err}
	}
	until := now.In(loc).Truncate(time.Second)
	// Since carries until's UTC offset so the zone-less strings stay ordered
	// when the window crosses a DST change.
	name, offset := until.Zone()
	since := until.In(time.FixedZone(name, offset)).Add(-lookback)
	return TimeWindow{Since: since, Until: until}, nil
}

// Query is one entry of a usage query request
type Query struct {
	Bucket        string `json:"bucket"`
	SinceDatetime string `json:"since_datetime"`
	UntilDatetime string `json:"until_datetime"`
	RequestID     string `json:"request_id"`
}

// QueryRequest is the body posted to the query endpoint
type QueryRequest struct {
	Queries []Query `json:"queries"`
}

// RequestID returns the correlation id of the first query
func (r QueryRequest) RequestID() string {
	if len(r.Queries) == 0 {
		return ""
	}
	return r.Queries[0].RequestID
}

// BuildQuery creates a single-query request for window. An empty requestID
// is replaced by a random one.
func BuildQuery(window TimeWindow, bucket, requestID string) QueryRequest {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return QueryRequest{
		Queries: []Query{{
			Bucket:        bucket,
			SinceDatetime: window.SinceString(),
			UntilDatetime: window.UntilString(),
			RequestID:     requestID,
		}},
	}
}

type queryReply struct {
	Data *[]map[string]json.RawMessage `json:"data"`
}

type sampleRecord struct {
	Datetime *string  `json:"datetime"`
	Value    *float64 `json:"value"`
}

// QueryUsage posts req and returns the samples of its result set in the
// provider's order. A result set that is present but empty yields zero
// samples and no error; a reply with no result sets at all is ErrEmptyResult.
func (c *Client) QueryUsage(ctx context.Context, token string, userID UserID, deviceID string, req QueryRequest) ([]models.UsageSample, error) {
	requestID := req.RequestID()
	if requestID == "" {
		return nil, &QueryError{Kind: ErrMalformedReply, Detail: "request has no request_id"}
	}

	path := fmt.Sprintf("/users/%d/devices/%s/query", userID, url.PathEscape(deviceID))
	body, err := c.do(ctx, http.MethodPost, path, token, req)
	if err != nil {
		return nil, &QueryError{Kind: ErrTransport, Err: err}
	}

	return parseQueryReply(body, requestID)
}

func parseQueryReply(body []byte, requestID string) ([]models.UsageSample, error) {
	var reply queryReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, &QueryError{Kind: ErrMalformedReply, Err: err}
	}
	if reply.Data == nil {
		return nil, &QueryError{Kind: ErrMalformedReply, Detail: "missing data"}
	}
	if len(*reply.Data) == 0 {
		return nil, &QueryError{Kind: ErrEmptyResult, Detail: "no result sets"}
	}

	var raw json.RawMessage
	for _, entry := range *reply.Data {
		if r, ok := entry[requestID]; ok {
			raw = r
			break
		}
	}
	if raw == nil {
		return nil, &QueryError{Kind: ErrMalformedReply, Detail: fmt.Sprintf("no result set for request_id %q", requestID)}
	}

	var records []json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil || records == nil {
		return nil, &QueryError{Kind: ErrMalformedReply, Detail: fmt.Sprintf("result set %q is not a list", requestID), Err: err}
	}

	samples := make([]models.UsageSample, 0, len(records))
	for i, r := range records {
		var rec sampleRecord
		if err := json.Unmarshal(r, &rec); err != nil {
			return nil, &QueryError{Kind: ErrMalformedSample, Detail: fmt.Sprintf("sample %d", i), Err: err}
		}
		if rec.Datetime == nil || rec.Value == nil {
			return nil, &QueryError{Kind: ErrMalformedSample, Detail: fmt.Sprintf("sample %d lacks datetime or value", i)}
		}
		samples = append(samples, models.UsageSample{
			Timestamp: *rec.Datetime,
			Value:     *rec.Value,
		})
	}

	return samples, nil
}
