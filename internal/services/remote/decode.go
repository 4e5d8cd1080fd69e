package remote

import (
	"bytes"
	"encoding/json"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/LeonardoBeccarini/autogrow-agent/internal/model"
)

// layouts accepted for last_watering; the authority may omit the zone.
var lastWateringLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// maxDurationSeconds is the largest value a time.Duration can hold.
const maxDurationSeconds = float64(math.MaxInt64) / float64(time.Second)

// decodeWateringRecord is strict about pump_active (required, boolean) and
// about the type of every optional field it knows. Unknown fields are
// ignored.
func decodeWateringRecord(raw []byte) (model.RemoteWateringRecord, error) {
	var rec model.RemoteWateringRecord

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return rec, errors.Wrap(err, "decode body")
	}
	if fields == nil {
		return rec, errors.New("body is null")
	}

	pa, ok := fields["pump_active"]
	if !ok {
		return rec, errors.New("missing pump_active")
	}
	if err := strictBool(pa, &rec.PumpActive); err != nil {
		return rec, errors.Wrap(err, "pump_active")
	}

	if v, ok := present(fields, "watering_duration"); ok {
		var secs float64
		if err := json.Unmarshal(v, &secs); err != nil {
			return rec, errors.Wrap(err, "watering_duration")
		}
		if secs < 0 {
			return rec, errors.Errorf("negative watering_duration %v", secs)
		}
		if secs > maxDurationSeconds {
			return rec, errors.Errorf("watering_duration %v out of range", secs)
		}
		rec.WateringDuration = time.Duration(secs * float64(time.Second))
	}
	if v, ok := present(fields, "auto_watering"); ok {
		if err := strictBool(v, &rec.AutoWatering); err != nil {
			return rec, errors.Wrap(err, "auto_watering")
		}
	}
	if v, ok := present(fields, "device_id"); ok {
		if err := json.Unmarshal(v, &rec.DeviceID); err != nil {
			return rec, errors.Wrap(err, "device_id")
		}
	}
	if v, ok := present(fields, "timestamp"); ok {
		var ts float64
		if err := json.Unmarshal(v, &ts); err != nil {
			return rec, errors.Wrap(err, "timestamp")
		}
		sec, frac := math.Modf(ts)
		rec.Timestamp = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}
	if v, ok := present(fields, "last_watering"); ok {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return rec, errors.Wrap(err, "last_watering")
		}
		t, err := parseLastWatering(s)
		if err != nil {
			return rec, err
		}
		rec.LastWatering = &t
	}
	return rec, nil
}

// present reports a field that exists and is not JSON null.
func present(fields map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	v, ok := fields[key]
	if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return nil, false
	}
	return v, true
}

// strictBool refuses null, numbers and strings.
func strictBool(v json.RawMessage, out *bool) error {
	switch string(bytes.TrimSpace(v)) {
	case "true":
		*out = true
	case "false":
		*out = false
	default:
		return errors.Errorf("not a boolean: %s", v)
	}
	return nil
}

func parseLastWatering(s string) (time.Time, error) {
	for _, layout := range lastWateringLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Errorf("last_watering: unrecognised time %q", s)
}
