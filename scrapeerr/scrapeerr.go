// Package scrapeerr holds the error kinds shared by the fetch, browser and image layers.
package scrapeerr

import (
	"errors"
	"fmt"
)

var (
	ErrParse          = errors.New("unexpected document structure")
	ErrNotFound       = errors.New("element not found")
	ErrImageFormat    = errors.New("unsupported image data")
	ErrStaleReference = errors.New("stale element reference")
	ErrTimeout        = errors.New("timed out waiting for element")
	ErrFileState      = errors.New("unexpected file state")
)

// FetchError is returned by document and image fetches.
// A zero StatusCode means the request never got a response.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("HTTP %d fetching %s", e.StatusCode, e.URL)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsNetwork reports whether err is a transport level fetch failure.
func IsNetwork(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.StatusCode == 0
}

// IsStatus reports whether err is a non-2xx fetch failure.
func IsStatus(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.StatusCode != 0
}

// ParseError marks a document that is missing an expected element.
type ParseError struct {
	What string
	URL  string
}

func (e *ParseError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("parse: %s not found", e.What)
	}
	return fmt.Sprintf("parse: %s not found in %s", e.What, e.URL)
}

func (e *ParseError) Unwrap() error { return ErrParse }
