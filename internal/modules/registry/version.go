package registry

import (
	"fmt"
	"strconv"
	"strings"

	apperr "github.com/yungbote/modmon/internal/pkg/errors"
)

var ErrInvalidVersion = fmt.Errorf("%w: version cannot be incremented", apperr.ErrConfiguration)

// IncrementVersion bumps the last dot-separated segment: "1.0.3" becomes
// "1.0.4" and "2.9" becomes "2.10".
func IncrementVersion(version string) (string, error) {
	parts := strings.Split(strings.TrimSpace(version), ".")
	last := parts[len(parts)-1]
	n, err := strconv.ParseUint(last, 10, 63)
	if err != nil {
		return "", fmt.Errorf("%w: %q has non-numeric final segment %q", ErrInvalidVersion, version, last)
	}
	parts[len(parts)-1] = strconv.FormatUint(n+1, 10)
	return strings.Join(parts, "."), nil
}
