package models

import "errors"

// Request-time validation errors, returned synchronously to callers and
// never retried.
var (
	ErrDuplicateSource = errors.New("source URL already exists")
	ErrSourceNotFound  = errors.New("source not found")
	ErrJobNotFound     = errors.New("job not found")
	ErrAlreadyRunning  = errors.New("a job is already pending or running for this source")
	ErrSourceInactive  = errors.New("source is not active")
	ErrJobTerminal     = errors.New("job is already in a terminal state")
)

// ScrapeErrorCode classifies failures recorded on a job. Fetch, parse and
// timeout failures feed the source's fail count and success rate and are
// retried up to the configured attempt ceiling.
type ScrapeErrorCode string

const (
	ErrCodeFetchFailure ScrapeErrorCode = "FETCH_FAILURE"
	ErrCodeParseFailure ScrapeErrorCode = "PARSE_FAILURE"
	ErrCodeTimeout      ScrapeErrorCode = "TIMEOUT"
	ErrCodeCancelled    ScrapeErrorCode = "CANCELLED"
	ErrCodeStale        ScrapeErrorCode = "STALE"
	ErrCodePanic        ScrapeErrorCode = "PANIC"
)

// ScrapeError is a classified execution failure.
type ScrapeError struct {
	Code    ScrapeErrorCode
	Message string
	Err     error
}

func (e *ScrapeError) Error() string {
	if e.Message != "" {
		return string(e.Code) + ": " + e.Message
	}
	if e.Err != nil {
		return string(e.Code) + ": " + e.Err.Error()
	}
	return string(e.Code)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// NewScrapeError wraps err with a failure classification.
func NewScrapeError(code ScrapeErrorCode, msg string, err error) *ScrapeError {
	return &ScrapeError{Code: code, Message: msg, Err: err}
}
