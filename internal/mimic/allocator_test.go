package mimic

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/hearthwatch/hearthwatch/pkg/models"
)

func testSubnet(t *testing.T) *net.IPNet {
	t.Helper()
	_, subnet, err := net.ParseCIDR("192.168.1.0/24")
	if err != nil {
		t.Fatalf("parse cidr: %v", err)
	}
	return subnet
}

func TestAllocator_SkipsReservedAddresses(t *testing.T) {
	a := NewAllocator(testSubnet(t), "192.168.1.200", 200, 205)

	claimed := []models.VirtualIP{
		{IPAddress: "192.168.1.201"},
		{IPAddress: "192.168.1.202"},
	}
	ip, err := a.Allocate(context.Background(), nil, claimed)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if ip != "192.168.1.203" {
		t.Errorf("allocated %q, want 192.168.1.203 past gateway and claims", ip)
	}
}

func TestAllocator_ExhaustionIsConflict(t *testing.T) {
	a := NewAllocator(testSubnet(t), "", 200, 201)

	claimed := []models.VirtualIP{
		{IPAddress: "192.168.1.200"},
		{IPAddress: "192.168.1.201"},
	}
	_, err := a.Allocate(context.Background(), nil, claimed)
	if !errors.Is(err, models.ErrConflict) {
		t.Errorf("error = %v, want ErrConflict on exhaustion", err)
	}
}

func TestAllocator_DefaultRange(t *testing.T) {
	a := NewAllocator(testSubnet(t), "", 0, 0)
	if a.rangeStart != 200 || a.rangeEnd != 250 {
		t.Errorf("range = [%d, %d], want [200, 250]", a.rangeStart, a.rangeEnd)
	}

	// An inverted range collapses to a single address.
	b := NewAllocator(testSubnet(t), "", 220, 210)
	if b.rangeEnd != 220 {
		t.Errorf("inverted range end = %d, want clamped to start", b.rangeEnd)
	}
}

func TestAllocator_Mask(t *testing.T) {
	a := NewAllocator(testSubnet(t), "", 200, 250)
	if got := a.Mask(); got != "255.255.255.0" {
		t.Errorf("mask = %q, want 255.255.255.0", got)
	}
}
