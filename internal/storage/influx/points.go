package influx

import (
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/autogrow-agent/internal/model"
)

const (
	measurementEvent    = "watering_event"
	measurementSnapshot = "sensor_snapshot"
)

func EventToPoint(ev model.WateringEvent) *write.Point {
	tags := map[string]string{
		"device_id": ev.DeviceID,
		"kind":      string(ev.Kind),
		"reason":    string(ev.Reason),
	}
	fields := map[string]interface{}{
		"pump_active": ev.PumpActive,
		"duration_s":  ev.Duration.Seconds(),
	}
	if ev.CycleID != "" {
		fields["cycle_id"] = ev.CycleID
	}
	if ev.Ran > 0 {
		fields["ran_s"] = ev.Ran.Seconds()
	}
	return influxdb2.NewPoint(measurementEvent, tags, fields, ev.At)
}

func SnapshotToPoint(id model.DeviceIdentity, s model.SensorSnapshot) *write.Point {
	tags := map[string]string{
		"device_id":   id.DeviceID,
		"sensor_type": id.SensorType,
	}
	fields := map[string]interface{}{
		"temperature": s.Temperature,
		"humidity":    s.Humidity,
		"lux":         int64(s.LightLevel),
		"pump_active": s.ActuatorActive,
	}
	return influxdb2.NewPoint(measurementSnapshot, tags, fields, s.SampledAt)
}
