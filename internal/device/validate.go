package device

import (
	"fmt"
	"regexp"
)

var idRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateID checks that id conforms to device naming rules.
func ValidateID(id string) error {
	if !idRegexp.MatchString(id) {
		return fmt.Errorf("invalid device id %q: must match ^[a-z0-9_-]{1,64}$", id)
	}
	return nil
}
