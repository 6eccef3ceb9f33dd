package api

import (
	"encoding/json"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Codec is the JSON codec for the stamp service. Messages are plain structs;
// protobuf messages nested or passed directly are encoded with protojson.
type Codec struct{}

// Name implements connect.Codec. Registering it under "json" makes it serve
// application/json for both the Connect and gRPC-Web JSON variants.
func (Codec) Name() string { return "json" }

// Marshal implements connect.Codec
func (Codec) Marshal(v any) ([]byte, error) {
	if m, ok := v.(proto.Message); ok {
		return protojson.Marshal(m)
	}
	return json.Marshal(v)
}

// Unmarshal implements connect.Codec
func (Codec) Unmarshal(data []byte, v any) error {
	if m, ok := v.(proto.Message); ok {
		return protojson.UnmarshalOptions{DiscardUnknown: true}.Unmarshal(data, m)
	}
	return json.Unmarshal(data, v)
}

// Time is a protobuf Timestamp that encodes as an RFC 3339 JSON string
type Time struct {
	*timestamppb.Timestamp
}

// NewTime wraps t; the zero time becomes an absent timestamp
func NewTime(t time.Time) Time {
	if t.IsZero() {
		return Time{}
	}
	return Time{timestamppb.New(t)}
}

// NewTimePtr wraps an optional time
func NewTimePtr(t *time.Time) Time {
	if t == nil {
		return Time{}
	}
	return NewTime(*t)
}

// IsZero reports whether the timestamp is absent
func (t Time) IsZero() bool {
	return t.Timestamp == nil
}

// MarshalJSON implements json.Marshaler
func (t Time) MarshalJSON() ([]byte, error) {
	if t.Timestamp == nil {
		return []byte("null"), nil
	}
	return protojson.Marshal(t.Timestamp)
}

// UnmarshalJSON implements json.Unmarshaler
func (t *Time) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		t.Timestamp = nil
		return nil
	}
	ts := &timestamppb.Timestamp{}
	if err := protojson.Unmarshal(data, ts); err != nil {
		return err
	}
	t.Timestamp = ts
	return nil
}
