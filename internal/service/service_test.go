package service

import (
	"errors"
	"net"
	"testing"

	"github.com/pobradovic08/as-infer/internal/wire"
)

func TestPathToString(t *testing.T) {
	got := pathToString([]int{1, 2, 3})
	if got != "1 2 3" {
		t.Errorf("got %q, want %q", got, "1 2 3")
	}
}

func TestPathToString_Empty(t *testing.T) {
	if got := pathToString(nil); got != "" {
		t.Errorf("got %q, want empty string", got)
	}
}

type stubResolver struct {
	org string
	err error
}

func (s stubResolver) OrgByAddr(addr net.IP) (string, error) {
	return s.org, s.err
}

func TestResolveEndpoint_BareASSkipsTranslation(t *testing.T) {
	svc := &Service{}
	as, err := svc.resolveEndpoint(wire.ASEndpoint(65001))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if as != 65001 {
		t.Errorf("got %d, want 65001", as)
	}
}

func TestResolveEndpoint_IPTranslatesViaGeoIP(t *testing.T) {
	svc := &Service{geo: stubResolver{org: "AS15169 Google LLC"}}
	as, err := svc.resolveEndpoint(wire.Endpoint{Addr: "8.8.8.8", Kind: wire.KindIP})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if as != 15169 {
		t.Errorf("got %d, want 15169", as)
	}
}

func TestResolveEndpoint_NoResolverConfiguredFails(t *testing.T) {
	svc := &Service{}
	if _, err := svc.resolveEndpoint(wire.Endpoint{Addr: "8.8.8.8", Kind: wire.KindIP}); err == nil {
		t.Error("expected error when no GeoIP resolver is configured")
	}
}

func TestResolveEndpoint_GeoIPFailurePropagates(t *testing.T) {
	svc := &Service{geo: stubResolver{err: errors.New("lookup failed")}}
	if _, err := svc.resolveEndpoint(wire.Endpoint{Addr: "8.8.8.8", Kind: wire.KindIP}); err == nil {
		t.Error("expected error to propagate from the resolver")
	}
}

func TestResolveEndpoint_InvalidAddress(t *testing.T) {
	svc := &Service{geo: stubResolver{org: "AS1 Example"}}
	if _, err := svc.resolveEndpoint(wire.Endpoint{Addr: "not-an-ip", Kind: wire.KindIP}); err == nil {
		t.Error("expected error for an unparsable address")
	}
}
