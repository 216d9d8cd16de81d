package domain

import (
	"fmt"
	"regexp"
)

var organizationIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]{0,63}$`)

// CheckOrganization validates an organization id. Ids never contain ':' so
// they can be embedded in store keys.
func CheckOrganization(id string) error {
	if id == "" {
		return ErrTenantRequired
	}
	if !organizationIDRe.MatchString(id) {
		return fmt.Errorf("%w: malformed organization id %q", ErrInvalidInput, id)
	}
	return nil
}
