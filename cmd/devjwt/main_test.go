package main

import (
	"net/http/httptest"
	"testing"
)

func TestIdentityFromQuery(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("GET", "/token?id=drv-1&role=driver&route=R7&busNumber=42", nil)
	got, err := identityFromQuery(r)
	if err != nil {
		t.Fatalf("identityFromQuery() err=%v", err)
	}
	if !got.IsDriver() || got.RouteID() != "R7" || got.Driver.BusNumber != "42" {
		t.Fatalf("identity=%+v", got)
	}

	if _, err := identityFromQuery(httptest.NewRequest("GET", "/token?role=rider", nil)); err == nil {
		t.Fatalf("identityFromQuery() expected error without id")
	}
	if _, err := identityFromQuery(httptest.NewRequest("GET", "/token?id=x&role=admin", nil)); err == nil {
		t.Fatalf("identityFromQuery() expected error for unknown role")
	}
}
