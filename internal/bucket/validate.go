package bucket

import (
	"fmt"
	"regexp"
	"strings"
)

// S3 bucket naming rules: 3-63 characters of lowercase alphanumerics, dots
// and dashes, starting and ending alphanumeric. Go's regexp has no
// lookahead, so the adjacent-punctuation and IPv4 exclusions are separate
// checks.
var (
	bucketNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)
	ipv4Pattern       = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)
)

// ValidateBucketName rejects names the object store would refuse, before
// any network call is made.
func ValidateBucketName(name string) error {
	if !bucketNamePattern.MatchString(name) {
		return fmt.Errorf("invalid bucket name %q", name)
	}
	for _, seq := range []string{"..", ".-", "-."} {
		if strings.Contains(name, seq) {
			return fmt.Errorf("invalid bucket name %q", name)
		}
	}
	if ipv4Pattern.MatchString(name) {
		return fmt.Errorf("invalid bucket name %q: must not look like an IP address", name)
	}
	return nil
}
