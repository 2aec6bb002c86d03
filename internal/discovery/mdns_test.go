// ABOUTME: Tests for mDNS discovery
// ABOUTME: Covers config defaults and TXT record round trips without touching the network
package discovery

import (
	"net"
	"testing"

	"github.com/hashicorp/mdns"
)

func TestNewManager(t *testing.T) {
	mgr := NewManager(Config{ServiceName: "Studio", Port: 8927})
	if mgr == nil {
		t.Fatal("expected manager to be created")
	}
	if mgr.config.Path != "/trackbridge" {
		t.Errorf("expected default path, got %q", mgr.config.Path)
	}
	if mgr.Servers() == nil {
		t.Error("servers channel should not be nil")
	}
	mgr.Stop()
}

func TestTXTRecords(t *testing.T) {
	mgr := NewManager(Config{ServiceName: "Studio", Port: 8927, Room: "main"})

	txt := mgr.txtRecords()
	if len(txt) != 2 || txt[0] != "path=/trackbridge" || txt[1] != "room=main" {
		t.Errorf("unexpected TXT records: %v", txt)
	}
}

func TestServerFromEntry(t *testing.T) {
	entry := &mdns.ServiceEntry{
		Name:       "Studio._trackbridge._tcp.local.",
		AddrV4:     net.IPv4(192, 168, 1, 20),
		Port:       8927,
		InfoFields: []string{"path=/custom", "room=main", "junk"},
	}

	server := serverFromEntry(entry)
	if server.Name != "Studio" {
		t.Errorf("expected name Studio, got %q", server.Name)
	}
	if server.Addr() != "192.168.1.20:8927" {
		t.Errorf("unexpected addr %s", server.Addr())
	}
	if server.Path != "/custom" || server.Room != "main" {
		t.Errorf("unexpected TXT fields: %+v", server)
	}
}
