package model

import (
	"errors"
	"fmt"
)

// ErrConfigurationMissing is returned when a required setting is absent
var ErrConfigurationMissing = errors.New("configuration missing")

// MissingConfig wraps ErrConfigurationMissing with the offending key
func MissingConfig(key string) error {
	return fmt.Errorf("%w: %s", ErrConfigurationMissing, key)
}

// UpstreamError is a non-2xx response from a remote service
type UpstreamError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s API error (%d): %s", e.Service, e.StatusCode, e.Body)
}

// MalformedResponseError is a 2xx response that could not be understood
type MalformedResponseError struct {
	Service string
	Err     error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s returned malformed response: %v", e.Service, e.Err)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}
