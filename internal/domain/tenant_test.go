package domain

import (
	"errors"
	"testing"
)

func TestCheckOrganization(t *testing.T) {
	if err := CheckOrganization("acme-1.eu"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := CheckOrganization(""); !errors.Is(err, ErrTenantRequired) {
		t.Fatalf("expected ErrTenantRequired, got %v", err)
	}
	for _, bad := range []string{"a:b", "-lead", "with space", "a*"} {
		if err := CheckOrganization(bad); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("CheckOrganization(%q) = %v, want ErrInvalidInput", bad, err)
		}
	}
}
