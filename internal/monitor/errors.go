package monitor

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrJobNotRunning is returned when a terminal transition targets a job that
// is not in the running state.
var ErrJobNotRunning = errors.New("job is not running")

// Kind tells the task runtime whether an attempt may be retried.
type Kind int

// Error kinds. Unclassified errors are Transient.
const (
	Transient Kind = iota
	Permanent
)

func (k Kind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "transient"
}

// ConfigurationError means the project cannot be scraped as configured.
// Retrying does not help.
type ConfigurationError struct {
	ProjectID int64
	Reason    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("project %d misconfigured: %s", e.ProjectID, e.Reason)
}

// ProviderError wraps a search provider failure.
type ProviderError struct {
	Provider string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Provider == "" {
		return fmt.Sprintf("search failed: %s", msg)
	}
	return fmt.Sprintf("search failed (%s): %s", e.Provider, msg)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// AnalysisError wraps a per-article analysis failure.
type AnalysisError struct {
	URL string
	Err error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analyze %s: %v", e.URL, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// PersistenceError wraps a per-article store failure.
type PersistenceError struct {
	URL string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.URL, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// DeliveryError wraps a per-recipient notification failure.
type DeliveryError struct {
	Recipient string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.Recipient, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ValidationError reports an invalid field on a domain value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Classify returns the retry kind of err.
func Classify(err error) Kind {
	if err == nil {
		return Transient
	}
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return Permanent
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return Permanent
	}
	return Transient
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	return err != nil && Classify(err) == Permanent
}
