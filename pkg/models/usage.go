package models

import "time"

// TimestampLayout is the provider's local datetime format (no zone suffix)
const TimestampLayout = "2006-01-02 15:04:05"

// UsageSample is one bucketed water usage reading
type UsageSample struct {
	ID        int     `json:"id,omitempty"`
	DeviceID  string  `json:"device_id,omitempty"`
	Bucket    string  `json:"bucket,omitempty"`
	Timestamp string  `json:"timestamp"` // Local time as reported by the provider
	Value     float64 `json:"value"`     // Gallons
	Published bool    `json:"-"`
}

// Time parses Timestamp in the given location
func (s UsageSample) Time(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(TimestampLayout, s.Timestamp, loc)
}
