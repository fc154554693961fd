package radio

import (
	"context"
	"errors"
	"testing"
)

func moduleResponder(failOn string) func(string) []string {
	return func(line string) []string {
		switch {
		case line == failOn:
			return []string{"+ERR=2"}
		case line == "AT+VER?":
			return []string{"+VER=RYLR89C_V1.2.7"}
		case line == "AT+UID?":
			return []string{"+UID=000500010B9F52E3"}
		default:
			return []string{"+OK"}
		}
	}
}

func TestConfigureModule_AppliesSettings(t *testing.T) {
	tr := &fakeTransport{respond: moduleResponder("")}
	link := NewLink(nil, nil, tr)

	info, err := ConfigureModule(context.Background(), link, ModuleSettings{Address: 2, NetworkID: 6, Band: 915000000}, nil)
	if err != nil {
		t.Fatalf("configure module: %v", err)
	}
	if info.Version != "RYLR89C_V1.2.7" || info.UID != "000500010B9F52E3" {
		t.Fatalf("unexpected module info: %+v", info)
	}

	want := []string{"AT", "AT+VER?", "AT+UID?", "AT+MODE=0", "AT+ADDRESS=2", "AT+NETWORKID=6", "AT+BAND=915000000"}
	got := tr.writtenLines()
	if len(got) != len(want) {
		t.Fatalf("expected commands %q, got %q", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("command %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestConfigureModule_AddressRejectionIsFatal(t *testing.T) {
	tr := &fakeTransport{respond: moduleResponder("AT+ADDRESS=2")}
	_, err := ConfigureModule(context.Background(), NewLink(nil, nil, tr), ModuleSettings{Address: 2}, nil)
	if !errors.Is(err, ErrModuleError) {
		t.Fatalf("expected ErrModuleError, got %v", err)
	}
}

func TestConfigureModule_VersionFailureIsNotFatal(t *testing.T) {
	tr := &fakeTransport{respond: moduleResponder("AT+VER?")}
	if _, err := ConfigureModule(context.Background(), NewLink(nil, nil, tr), ModuleSettings{Address: 2}, nil); err != nil {
		t.Fatalf("expected version failure to be tolerated, got %v", err)
	}
}

func TestConfigureModule_RequiresAddress(t *testing.T) {
	if _, err := ConfigureModule(context.Background(), NewLink(nil, nil, &fakeTransport{}), ModuleSettings{}, nil); !errors.Is(err, ErrReservedAddress) {
		t.Fatalf("expected ErrReservedAddress, got %v", err)
	}
}

func TestConfigureModule_SilentModule(t *testing.T) {
	if _, err := ConfigureModule(context.Background(), NewLink(nil, nil, &fakeTransport{}), ModuleSettings{Address: 1, Timeout: 1}, nil); err == nil {
		t.Fatalf("expected error for silent module")
	}
}
