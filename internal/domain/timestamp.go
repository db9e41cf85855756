package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Accepted timestamp layouts. Values without an offset are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp parses an RFC3339 timestamp, a timezone-less datetime or a
// bare date. Naive values are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q: expected RFC3339 or YYYY-MM-DDTHH:MM:SS", s)
}

func parseOptionalTimestamp(field string, raw *string) (*time.Time, error) {
	if raw == nil {
		return nil, nil
	}
	t, err := ParseTimestamp(*raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return &t, nil
}

// UnmarshalJSON accepts the timestamp forms understood by ParseTimestamp.
func (r *CreateSubscriptionRequest) UnmarshalJSON(data []byte) error {
	type plain CreateSubscriptionRequest
	aux := struct {
		*plain
		EndDate   *string `json:"end_date"`
		StartDate *string `json:"start_date"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	end, err := parseOptionalTimestamp("end_date", aux.EndDate)
	if err != nil {
		return err
	}
	if end != nil {
		r.EndDate = *end
	}
	r.StartDate, err = parseOptionalTimestamp("start_date", aux.StartDate)
	return err
}

// UnmarshalJSON accepts the timestamp forms understood by ParseTimestamp.
func (u *SubscriptionUpdate) UnmarshalJSON(data []byte) error {
	type plain SubscriptionUpdate
	aux := struct {
		*plain
		EndDate *string `json:"end_date"`
	}{plain: (*plain)(u)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	u.EndDate, err = parseOptionalTimestamp("end_date", aux.EndDate)
	return err
}
