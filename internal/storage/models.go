package storage

import (
	"fmt"
	"time"
)

// MarketSample represents one completed monitoring cycle.
type MarketSample struct {
	Timestamp  int64
	Price      float64
	Volume24h  float64
	Change24h  *float64
	BidDepth   float64
	AskDepth   float64
	TotalDepth float64
	SpreadBps  float64
	Source     string
}

// Time returns the sample timestamp as UTC time.
func (s MarketSample) Time() time.Time {
	return time.Unix(s.Timestamp, 0).UTC()
}

// Validate checks the invariants every persisted sample satisfies.
func (s MarketSample) Validate() error {
	if s.Timestamp <= 0 {
		return fmt.Errorf("sample timestamp must be positive, got %d", s.Timestamp)
	}
	if s.TotalDepth < 0 || s.BidDepth < 0 || s.AskDepth < 0 {
		return fmt.Errorf("sample depth must be non-negative")
	}
	if s.SpreadBps < 0 {
		return fmt.Errorf("sample spread must be non-negative, got %f", s.SpreadBps)
	}
	if s.Source == "" {
		return fmt.Errorf("sample source is required")
	}
	return nil
}

// AlertType enumerates the alert rules.
type AlertType string

const (
	AlertDepthDecline AlertType = "DEPTH_DECLINE"
	AlertWideSpread   AlertType = "WIDE_SPREAD"
	AlertLowVRP       AlertType = "LOW_VRP"
)

// AlertTypes lists every alert type in evaluation order.
var AlertTypes = []AlertType{AlertDepthDecline, AlertWideSpread, AlertLowVRP}

// ParseAlertType validates an alert type name.
func ParseAlertType(v string) (AlertType, error) {
	for _, t := range AlertTypes {
		if string(t) == v {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown alert type %q", v)
}

// AlertRecord captures a fired alert rule.
type AlertRecord struct {
	ID         int64
	Timestamp  int64
	AlertType  AlertType
	Message    string
	Value      float64
	Threshold  float64
	Dispatched bool
}

// Field names a numeric market_data column usable in rolling-window queries.
type Field string

const (
	FieldPrice      Field = "price"
	FieldVolume24h  Field = "volume_24h"
	FieldChange24h  Field = "change_24h"
	FieldBidDepth   Field = "bid_depth"
	FieldAskDepth   Field = "ask_depth"
	FieldTotalDepth Field = "total_depth"
	FieldSpreadBps  Field = "spread_bps"
)

// Column returns the column name, rejecting anything outside the enumeration.
func (f Field) Column() (string, error) {
	switch f {
	case FieldPrice, FieldVolume24h, FieldChange24h, FieldBidDepth, FieldAskDepth, FieldTotalDepth, FieldSpreadBps:
		return string(f), nil
	default:
		return "", fmt.Errorf("unknown market_data field %q", string(f))
	}
}
