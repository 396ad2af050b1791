package flume

import (
	"context"
	"time"

	"github.com/jgoulah/flumescraper/pkg/models"
)

// FetchRequest describes one usage pull
type FetchRequest struct {
	Lookback  time.Duration
	Bucket    string
	RequestID string // Optional, generated when empty
}

// FetchResult is everything resolved on the way to the samples
type FetchResult struct {
	UserID  UserID
	Device  Device
	Window  TimeWindow
	Request QueryRequest
	Samples []models.UsageSample
}

// Fetcher runs token, identity, device and usage stages in order.
// The first failing stage's error is returned as is.
type Fetcher struct {
	client *Client
	tokens *TokenSource
	policy WindowPolicy
	now    func() time.Time
}

// NewFetcher creates a fetcher for the credential held by tokens
func NewFetcher(client *Client, tokens *TokenSource, policy WindowPolicy) *Fetcher {
	return &Fetcher{
		client: client,
		tokens: tokens,
		policy: policy,
		now:    time.Now,
	}
}

// Fetch pulls the samples for the lookback window ending now
func (f *Fetcher) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	tok, err := f.tokens.Current(ctx)
	if err != nil {
		return nil, err
	}

	userID, err := ResolveUserID(tok.AccessToken)
	if err != nil {
		return nil, err
	}

	if tok, err = f.tokens.Current(ctx); err != nil {
		return nil, err
	}
	dev, err := f.client.ResolveReader(ctx, tok.AccessToken, userID)
	if err != nil {
		return nil, err
	}

	window, err := f.policy.Window(f.now(), req.Lookback, dev)
	if err != nil {
		return nil, err
	}
	query := BuildQuery(window, req.Bucket, req.RequestID)

	if tok, err = f.tokens.Current(ctx); err != nil {
		return nil, err
	}
	samples, err := f.client.QueryUsage(ctx, tok.AccessToken, userID, dev.ID, query)
	if err != nil {
		return nil, err
	}

	for i := range samples {
		samples[i].DeviceID = dev.ID
		samples[i].Bucket = req.Bucket
	}

	f.client.logger.Info("Fetched usage",
		"device_id", dev.ID,
		"since", window.SinceString(),
		"until", window.UntilString(),
		"bucket", req.Bucket,
		"samples", len(samples),
	)

	return &FetchResult{
		UserID:  userID,
		Device:  dev,
		Window:  window,
		Request: query,
		Samples: samples,
	}, nil
}
