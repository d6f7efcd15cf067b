package ipcalc

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseCIDR(t *testing.T) {
	plan, err := Parse("112.121.163.154/29")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	want := Plan{
		Mode:      ModeCIDR,
		Input:     "112.121.163.154/29",
		Gateway:   "112.121.163.153",
		Hosts:     []string{"112.121.163.154", "112.121.163.155", "112.121.163.156", "112.121.163.157", "112.121.163.158"},
		Prefix:    29,
		Network:   "112.121.163.152",
		Broadcast: "112.121.163.159",
		Netmask:   "255.255.255.248",
	}
	if !reflect.DeepEqual(plan, want) {
		t.Errorf("Parse() = %+v, want %+v", plan, want)
	}
}

func TestParseCIDRSmallBlocks(t *testing.T) {
	tests := []struct {
		input   string
		gateway string
		hosts   []string
	}{
		{"10.0.0.5/32", "10.0.0.5", []string{"10.0.0.5"}},
		{"10.0.0.4/31", "10.0.0.4", []string{"10.0.0.5"}},
		{"10.0.0.4/30", "10.0.0.5", []string{"10.0.0.6"}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			plan, err := ParseCIDR(tt.input)
			if err != nil {
				t.Fatalf("ParseCIDR failed: %v", err)
			}
			if plan.Gateway != tt.gateway || !reflect.DeepEqual(plan.Hosts, tt.hosts) {
				t.Errorf("got gateway %s hosts %v, want %s %v", plan.Gateway, plan.Hosts, tt.gateway, tt.hosts)
			}
		})
	}
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		gateway string
		hosts   []string
		wantErr bool
	}{
		{name: "short end", input: "10.0.0.10-12", gateway: "10.0.0.10", hosts: []string{"10.0.0.11", "10.0.0.12"}},
		{name: "full end", input: "10.0.0.254 - 10.0.1.1", gateway: "10.0.0.254", hosts: []string{"10.0.0.255", "10.0.1.0", "10.0.1.1"}},
		{name: "single", input: "10.0.0.10-10", gateway: "10.0.0.10", hosts: []string{"10.0.0.10"}},
		{name: "reversed", input: "10.0.0.10-5", wantErr: true},
		{name: "missing end", input: "10.0.0.10-", wantErr: true},
		{name: "bad start", input: "10.0.0-12", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := Parse(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", plan)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if plan.Mode != ModeRange || plan.Gateway != tt.gateway || !reflect.DeepEqual(plan.Hosts, tt.hosts) {
				t.Errorf("got %+v", plan)
			}
			if plan.Prefix != 0 || plan.Netmask != "" {
				t.Errorf("range plans carry no prefix, got %+v", plan)
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	if _, err := Parse("  "); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}
	if _, err := Parse("10.0.0.1"); err == nil {
		t.Error("expected error for bare address")
	}
	if _, err := Parse("fe80::/64"); err == nil {
		t.Error("expected error for IPv6 block")
	}
	if _, err := Parse("10.0.0.0/8"); err == nil {
		t.Error("expected error for oversized block")
	}
}

func TestImpliedGateway(t *testing.T) {
	gw, err := ImpliedGateway("192.168.1.10")
	if err != nil || gw != "192.168.1.9" {
		t.Errorf("ImpliedGateway() = %q, %v", gw, err)
	}
	gw, err = ImpliedGateway("192.168.1.0")
	if err != nil || gw != "192.168.0.255" {
		t.Errorf("ImpliedGateway() across octet = %q, %v", gw, err)
	}
	if _, err := ImpliedGateway("0.0.0.0"); err == nil {
		t.Error("expected error for address without predecessor")
	}
}

func TestNetmask(t *testing.T) {
	tests := map[int]string{0: "0.0.0.0", 8: "255.0.0.0", 24: "255.255.255.0", 29: "255.255.255.248", 32: "255.255.255.255", 33: ""}
	for bits, want := range tests {
		if got := Netmask(bits); got != want {
			t.Errorf("Netmask(%d) = %q, want %q", bits, got, want)
		}
	}
}
