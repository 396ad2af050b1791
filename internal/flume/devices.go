package flume

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	json "github.com/goccy/go-json"
)

// DeviceTypeReader is the type tag of the usage reading sensor.
// Other types (the bridge, for instance) share the device list.
const DeviceTypeReader = 2

// Device is a resolved reader device
type Device struct {
	ID       string
	Type     int
	Timezone string // IANA zone from the device location, may be empty
}

type devicesReply struct {
	Data json.RawMessage `json:"data"`
}

// deviceRecord only binds the fields the resolver cares about; records of
// other device types may carry different shapes.
type deviceRecord struct {
	ID       json.RawMessage `json:"id"`
	Type     json.RawMessage `json:"type"`
	Location *struct {
		TZ string `json:"tz"`
	} `json:"location"`
}

// ResolveDevice returns the id of the user's single reader device
func (c *Client) ResolveDevice(ctx context.Context, token string, userID UserID) (string, error) {
	dev, err := c.ResolveReader(ctx, token, userID)
	if err != nil {
		return "", err
	}
	return dev.ID, nil
}

// ResolveReader lists the user's devices and returns the single reader.
// Zero or several readers are reported as errors; neither case is guessed.
func (c *Client) ResolveReader(ctx context.Context, token string, userID UserID) (Device, error) {
	params := url.Values{}
	params.Set("user", "false")
	params.Set("location", "true")
	path := fmt.Sprintf("/users/%d/devices?%s", userID, params.Encode())

	body, err := c.do(ctx, http.MethodGet, path, token, nil)
	if err != nil {
		return Device{}, &DeviceError{Kind: ErrTransport, Err: err}
	}

	var reply devicesReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return Device{}, &DeviceError{Kind: ErrMalformedReply, Err: err}
	}
	if len(reply.Data) == 0 || string(reply.Data) == "null" {
		return Device{}, &DeviceError{Kind: ErrMalformedReply, Detail: "missing data"}
	}

	var records []json.RawMessage
	if err := json.Unmarshal(reply.Data, &records); err != nil {
		return Device{}, &DeviceError{Kind: ErrMalformedReply, Detail: "data is not a list", Err: err}
	}

	var readers []Device
	for i, raw := range records {
		var kind struct {
			Type json.RawMessage `json:"type"`
		}
		if err := json.Unmarshal(raw, &kind); err != nil {
			c.logger.Debug("Skipping unparseable device record", "index", i, "error", err)
			continue
		}
		var typ int
		if err := json.Unmarshal(kind.Type, &typ); err != nil || typ != DeviceTypeReader {
			continue
		}

		// A reader that cannot be read fully must not be skipped, or a
		// second reader would be picked in its place.
		var rec deviceRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return Device{}, &DeviceError{Kind: ErrMalformedReply, Detail: fmt.Sprintf("reader record %d", i), Err: err}
		}

		var id string
		if err := json.Unmarshal(rec.ID, &id); err != nil || id == "" {
			return Device{}, &DeviceError{Kind: ErrMalformedReply, Detail: fmt.Sprintf("reader record %d has no string id", i)}
		}

		dev := Device{ID: id, Type: typ}
		if rec.Location != nil {
			dev.Timezone = rec.Location.TZ
		}
		readers = append(readers, dev)
	}

	switch len(readers) {
	case 0:
		return Device{}, &DeviceError{Kind: ErrNoReaderDevice, Detail: fmt.Sprintf("%d devices listed", len(records))}
	case 1:
		c.logger.Debug("Resolved reader device", "device_id", readers[0].ID, "timezone", readers[0].Timezone)
		return readers[0], nil
	default:
		ids := make([]string, 0, len(readers))
		for _, d := range readers {
			ids = append(ids, d.ID)
		}
		return Device{}, &DeviceError{Kind: ErrAmbiguousDevice, Detail: fmt.Sprintf("%d readers: %v", len(readers), ids)}
	}
}
