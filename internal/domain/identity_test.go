package domain

import "testing"

func TestIdentity_Variants(t *testing.T) {
	t.Parallel()

	d := NewDriverIdentity(DriverProfile{ID: "d-1", FirstName: " Ada ", LastName: "Lovelace", RouteID: "R1"})
	if !d.Valid() || !d.IsDriver() || d.IsRider() {
		t.Fatalf("driver identity=%+v", d)
	}
	if d.RouteID() != "R1" {
		t.Fatalf("RouteID()=%q, want R1", d.RouteID())
	}
	if d.DisplayName() != "Ada Lovelace" {
		t.Fatalf("DisplayName()=%q", d.DisplayName())
	}

	r := NewRiderIdentity(RiderProfile{ID: "r-1", RouteID: "R2"})
	if !r.Valid() || !r.IsRider() || r.IsDriver() {
		t.Fatalf("rider identity=%+v", r)
	}
	if r.RouteID() != "R2" {
		t.Fatalf("RouteID()=%q, want R2", r.RouteID())
	}
}

func TestIdentity_InvalidWhenTagDisagrees(t *testing.T) {
	t.Parallel()

	id := Identity{ID: "x", Role: RoleDriver, Rider: &RiderProfile{ID: "x"}}
	if id.Valid() {
		t.Fatalf("expected invalid identity")
	}
	if (Identity{}).RouteID() != "" {
		t.Fatalf("expected empty route for zero identity")
	}
}

func TestParseRole(t *testing.T) {
	t.Parallel()

	if r, ok := ParseRole("driver"); !ok || r != RoleDriver {
		t.Fatalf("ParseRole(driver)=%q,%v", r, ok)
	}
	if _, ok := ParseRole("admin"); ok {
		t.Fatalf("expected admin to be rejected")
	}
}
