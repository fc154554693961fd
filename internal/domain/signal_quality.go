package domain

// Link thresholds for the RYLR896/998 at the default SF9/125 kHz parameters.
// The module reports integer RSSI in dBm and SNR in dB.
const (
	SNRGood  = 0
	SNRFair  = -7
	RSSIGood = -100
	RSSIFair = -115
)

type SignalQuality int

const (
	SignalUnknown SignalQuality = iota
	SignalBad
	SignalFair
	SignalGood
)

func (q SignalQuality) String() string {
	switch q {
	case SignalGood:
		return "good"
	case SignalFair:
		return "fair"
	case SignalBad:
		return "bad"
	default:
		return "unknown"
	}
}

func DetermineSignalQuality(snr int, rssi int) SignalQuality {
	if rssi == 0 {
		return SignalUnknown
	}
	if snr >= SNRGood && rssi >= RSSIGood {
		return SignalGood
	}
	if snr >= SNRFair && rssi >= RSSIFair {
		return SignalFair
	}
	return SignalBad
}
