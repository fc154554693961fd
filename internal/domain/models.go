package domain

import "time"

// Bridge outcome names shared by events, storage and metrics.
const (
	OutcomePublished = "published"
	OutcomeDiscarded = "discarded"
)

// SatelliteStatus is the gateway's view of one satellite's radio link.
type SatelliteStatus struct {
	Address         Address
	DeviceID        string
	Name            string
	Known           bool
	LastHeardAt     time.Time
	RSSI            *int
	SNR             *int
	FramesReceived  int64
	FramesPublished int64
	FramesDiscarded int64
	LastReason      string
	UpdatedAt       time.Time
}

func (s SatelliteStatus) SignalQuality() SignalQuality {
	if s.RSSI == nil || s.SNR == nil {
		return SignalUnknown
	}
	return DetermineSignalQuality(*s.SNR, *s.RSSI)
}

// FrameRecord is one entry of the received-frame log.
type FrameRecord struct {
	ID         int64
	Sender     Address
	DeviceID   string
	Payload    string
	RSSI       int
	SNR        int
	Outcome    string
	Reason     string
	Topic      string
	ReceivedAt time.Time
}
