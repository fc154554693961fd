package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/skobkin/berryweather/internal/domain"
)

const (
	deviceManufacturer = "ESAP"
	deviceModel        = "BerryWeather satellite"
)

type sensorSpec struct {
	Key         string
	Field       string
	Name        string
	Unit        string
	DeviceClass string
	Icon        string
}

var coreSensors = []sensorSpec{
	{Key: "temperature", Field: "t", Name: "Temperature", Unit: "°C", DeviceClass: "temperature", Icon: "mdi:thermometer"},
	{Key: "humidity", Field: "h", Name: "Humidity", Unit: "%", DeviceClass: "humidity", Icon: "mdi:water-percent"},
	{Key: "pressure", Field: "p", Name: "Pressure", Unit: "hPa", DeviceClass: "pressure", Icon: "mdi:gauge"},
	{Key: "uv", Field: "uv", Name: "UV Index", Unit: "UV Index", Icon: "mdi:sun-wireless"},
}

var extendedSensors = []sensorSpec{
	{Key: "soil_temperature", Field: "st", Name: "Soil Temperature", Unit: "°C", DeviceClass: "temperature", Icon: "mdi:thermometer-lines"},
	{Key: "soil_moisture", Field: "sm", Name: "Soil Moisture", Unit: "%", DeviceClass: "moisture", Icon: "mdi:water"},
	{Key: "rain", Field: "rain", Name: "Rain", Unit: "mm", DeviceClass: "precipitation", Icon: "mdi:weather-rainy"},
	{Key: "uva", Field: "uva", Name: "UVA", Unit: "µW/cm²", Icon: "mdi:sun-wireless-outline"},
	{Key: "uvb", Field: "uvb", Name: "UVB", Unit: "µW/cm²", Icon: "mdi:sun-wireless-outline"},
	{Key: "uvc", Field: "uvc", Name: "UVC", Unit: "µW/cm²", Icon: "mdi:sun-wireless-outline"},
}

type discoveryDevice struct {
	IDs          []string `json:"ids"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"mf"`
	Model        string   `json:"mdl"`
}

// discoveryDocument uses Home Assistant's abbreviated MQTT discovery keys.
type discoveryDocument struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	StateTopic        string          `json:"stat_t"`
	ValueTemplate     string          `json:"val_tpl"`
	Unit              string          `json:"unit_of_meas,omitempty"`
	DeviceClass       string          `json:"dev_cla,omitempty"`
	StateClass        string          `json:"stat_cla"`
	Icon              string          `json:"ic,omitempty"`
	AvailabilityTopic string          `json:"avty_t,omitempty"`
	Device            discoveryDevice `json:"dev"`
}

// Message is one broker publish prepared by the bridge.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

func (b *Bridge) sensors() []sensorSpec {
	if !b.cfg.ExtendedSensors {
		return coreSensors
	}
	out := make([]sensorSpec, 0, len(coreSensors)+len(extendedSensors))
	out = append(out, coreSensors...)
	return append(out, extendedSensors...)
}

// DiscoveryMessages renders the retained config documents for every known
// satellite. The output depends only on configuration and the registry.
func (b *Bridge) DiscoveryMessages() ([]Message, error) {
	sensors := b.sensors()
	known := b.registry.All()
	out := make([]Message, 0, len(known)*len(sensors))
	for _, sat := range known {
		for _, sensor := range sensors {
			payload, err := json.Marshal(b.discoveryDocument(sat, sensor))
			if err != nil {
				return nil, fmt.Errorf("encode discovery for %s %s: %w", sat.DeviceID, sensor.Key, err)
			}
			out = append(out, Message{
				Topic:   DiscoveryTopic(b.cfg.DiscoveryPrefix, sat.DeviceID, sensor.Key),
				Payload: payload,
				QoS:     1,
				Retain:  true,
			})
		}
	}

	return out, nil
}

func (b *Bridge) discoveryDocument(sat domain.KnownSatellite, sensor sensorSpec) discoveryDocument {
	return discoveryDocument{
		Name:              sensor.Name,
		UniqueID:          sat.DeviceID + "_" + sensor.Key,
		StateTopic:        StateTopic(b.cfg.StatePrefix, sat.DeviceID),
		ValueTemplate:     "{{ value_json." + sensor.Field + " }}",
		Unit:              sensor.Unit,
		DeviceClass:       sensor.DeviceClass,
		StateClass:        "measurement",
		Icon:              sensor.Icon,
		AvailabilityTopic: b.cfg.AvailabilityTopic,
		Device: discoveryDevice{
			IDs:          []string{sat.DeviceID},
			Name:         sat.Name,
			Manufacturer: deviceManufacturer,
			Model:        deviceModel,
		},
	}
}
