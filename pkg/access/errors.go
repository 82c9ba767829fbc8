package access

import (
	"fmt"
	"strings"
)

// ValidationError is returned when the request itself is unusable, before any
// upstream is contacted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConfigError reports resources without an upstream URL. It only carries the
// resource names so it is safe to log.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("missing upstream endpoint for: %s", strings.Join(e.Missing, ", "))
}

// UpstreamError describes a failed call to one validator. It is logged and
// downgraded to a denied decision, never returned to callers of Validate.
type UpstreamError struct {
	Resource   string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s: status %d", e.Resource, e.StatusCode)
	}
	return fmt.Sprintf("upstream %s: %v", e.Resource, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
