package function

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	ErrFunctionNotFound   = errors.New("function: not found")
	ErrDeploymentNotFound = errors.New("function: deployment not found")
	ErrImageNotFound      = errors.New("function: image not found")
)

// ValidationError is returned when a candidate fails validation. It is produced
// before anything is sent over the network.
type ValidationError struct {
	Fields map[Field]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		keys = append(keys, string(f))
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[Field(k)]))
	}
	return "invalid definition: " + strings.Join(parts, "; ")
}

type UploadError struct {
	Filename string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload of %q failed: %v", e.Filename, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// RegistryError wraps a failed registry call. ID is empty for calls that are
// not bound to a function, such as create or list.
type RegistryError struct {
	Op  string
	ID  string
	Err error
}

func (e *RegistryError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("registry %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("registry %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}

// StatusUnavailable records a live status query that failed. It degrades the
// displayed status and is never treated as fatal.
type StatusUnavailable struct {
	ID  string
	Err error
}

func (e *StatusUnavailable) Error() string {
	return fmt.Sprintf("live status of %s unavailable: %v", e.ID, e.Err)
}

func (e *StatusUnavailable) Unwrap() error {
	return e.Err
}
