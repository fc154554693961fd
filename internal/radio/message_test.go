package radio

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		payload string
		want    MessageKind
	}{
		{payload: "SATELLITE_BOOT_OK", want: MessageBootAnnounce},
		{payload: "MM_ACK_BOOT", want: MessageBootAck},
		{payload: " MM_ACK_DATA ", want: MessageDataAck},
		{payload: `{"t":22.1,"h":55}`, want: MessageTelemetry},
		{payload: `{"note":"MM_ACK_DATA"}`, want: MessageTelemetry},
		{payload: "{not json", want: MessageUnknown},
		{payload: "[1,2]", want: MessageUnknown},
		{payload: "42", want: MessageUnknown},
		{payload: `"text"`, want: MessageUnknown},
		{payload: "xMM_ACK_DATAx", want: MessageUnknown},
	}
	for _, tt := range tests {
		got := Classify([]byte(tt.payload))
		if got.Kind != tt.want {
			t.Fatalf("%q: expected %v, got %v", tt.payload, tt.want, got.Kind)
		}
	}
	if !Classify([]byte("MM_ACK_BOOT")).IsControl() {
		t.Fatalf("expected boot ack to be a control message")
	}
	if Classify([]byte(`{}`)).IsControl() {
		t.Fatalf("expected telemetry not to be a control message")
	}
}

func TestMatchesToken(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		token   string
		want    bool
	}{
		{name: "exact", payload: "MM_ACK_DATA", token: TokenDataAck, want: true},
		{name: "substring in noise", payload: "xxMM_ACK_DATAyy", token: TokenDataAck, want: true},
		{name: "different token", payload: "MM_ACK_BOOT", token: TokenDataAck, want: false},
		{name: "telemetry mentioning token", payload: `{"x":"MM_ACK_DATA"}`, token: TokenDataAck, want: false},
		{name: "empty token", payload: "MM_ACK_DATA", token: "", want: false},
	}
	for _, tt := range tests {
		if got := MatchesToken([]byte(tt.payload), tt.token); got != tt.want {
			t.Fatalf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}
}
