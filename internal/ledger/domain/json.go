package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Older flat-file ledgers store local timestamps without a zone, with
// microsecond precision and a "T" separator. Those are read as UTC.
var ledgerTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

type ledgerTime struct {
	time.Time
}

func (t *ledgerTime) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}

	var firstErr error
	for _, layout := range ledgerTimeLayouts {
		parsed, err := time.ParseInLocation(layout, raw, time.UTC)
		if err == nil {
			t.Time = parsed
			return nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *ledgerTime) ptr() *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

// UnmarshalJSON accepts records written by older ledger files, which carry
// zone-less timestamps and no id, dedup key or bookkeeping times.
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	aux := struct {
		*plain
		ObservedAt          ledgerTime  `json:"timestamp"`
		MessageDate         *ledgerTime `json:"message_date,omitempty"`
		DeliveryCompletedAt *ledgerTime `json:"delivery_timestamp"`
		FailedAt            *ledgerTime `json:"failed_at,omitempty"`
		CreatedAt           ledgerTime  `json:"created_at"`
		UpdatedAt           ledgerTime  `json:"updated_at"`
	}{plain: (*plain)(r)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	r.ObservedAt = aux.ObservedAt.Time
	r.MessageDate = aux.MessageDate.ptr()
	r.DeliveryCompletedAt = aux.DeliveryCompletedAt.ptr()
	r.FailedAt = aux.FailedAt.ptr()
	r.CreatedAt = aux.CreatedAt.Time
	r.UpdatedAt = aux.UpdatedAt.Time
	if r.CreatedAt.IsZero() {
		r.CreatedAt = r.ObservedAt
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	if r.DeliveryStatus == "" {
		r.DeliveryStatus = DeliveryStatusPending
	}
	return nil
}
