package types

import (
	"errors"
	"fmt"
)

// Step identifies the pipeline stage where an operation failed
type Step string

const (
	StepURLParsing       Step = "url_parsing"
	StepReleaseLookup    Step = "release_lookup"
	StepDownloadExtract  Step = "download_and_extract"
	StepFileExtraction   Step = "file_extraction"
	StepValidation       Step = "plugin_validation"
	StepLifecycleInstall Step = "lifecycle_manager_install"
	StepLifecycleExec    Step = "lifecycle_manager_execution"
)

// Sentinel errors shared across package boundaries for errors.Is checks
var (
	ErrNoRelease         = errors.New("repository has no releases")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrUnsupportedFormat = errors.New("unsupported archive format")
	ErrNoPluginRoot      = errors.New("no plugin root found in archive")
	ErrNotFound          = errors.New("plugin not found")
	ErrAlreadyInstalled  = errors.New("plugin already installed")
	ErrInvalidManifest   = errors.New("invalid lifecycle manifest")
	ErrMissingEnv        = errors.New("required environment variable not set")
)

// OpError is a step-tagged operation failure. Message is safe to show
// to users; Details must never contain tokens or decrypted values.
type OpError struct {
	Step        Step                   `json:"step"`
	Message     string                 `json:"message"`
	Err         error                  `json:"-"`
	Suggestions []string               `json:"suggestions,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

func (e *OpError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Step, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Step, e.Message)
}

func (e *OpError) Unwrap() error { return e.Err }

// Fail builds an OpError for a pipeline step
func Fail(step Step, message string, err error) *OpError {
	return &OpError{Step: step, Message: message, Err: err}
}

// WithSuggestions attaches remediation hints
func (e *OpError) WithSuggestions(s ...string) *OpError {
	e.Suggestions = append(e.Suggestions, s...)
	return e
}

// WithDetail attaches a structured detail field
func (e *OpError) WithDetail(key string, value interface{}) *OpError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// AsOpError extracts an OpError from an error chain
func AsOpError(err error) (*OpError, bool) {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}
