package provider

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownProvider indicates a provider name that is not in the registry.
var ErrUnknownProvider = errors.New("unknown provider")

// UnknownProviderError reports an unresolvable provider name together
// with the names that would have been accepted.
type UnknownProviderError struct {
	Name  string
	Known []string
}

func (e *UnknownProviderError) Error() string {
	if len(e.Known) == 0 {
		return fmt.Sprintf("unknown provider %q", e.Name)
	}
	return fmt.Sprintf("unknown provider %q (known: %s)", e.Name, strings.Join(e.Known, ", "))
}

// Unwrap returns ErrUnknownProvider for errors.Is support.
func (e *UnknownProviderError) Unwrap() error { return ErrUnknownProvider }

// ProfileError reports an invalid entry in a provider table.
type ProfileError struct {
	Provider string
	Field    string
	Err      error
}

func (e *ProfileError) Error() string {
	name := e.Provider
	if name == "" {
		name = "<unnamed>"
	}
	return fmt.Sprintf("provider %s: %s: %v", name, e.Field, e.Err)
}

func (e *ProfileError) Unwrap() error { return e.Err }
