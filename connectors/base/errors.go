// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package base

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// ErrorCategory classifies a source failure
type ErrorCategory string

const (
	CategoryAuthentication     ErrorCategory = "authentication"
	CategoryNetwork            ErrorCategory = "network"
	CategoryRateLimit          ErrorCategory = "rate_limit"
	CategoryNotFound           ErrorCategory = "not_found"
	CategoryDataFormat         ErrorCategory = "data_format"
	CategoryServiceUnavailable ErrorCategory = "service_unavailable"
	CategoryUnknown            ErrorCategory = "unknown"
)

// Severity of a categorized failure
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type categoryInfo struct {
	severity  Severity
	retryable bool
	message   string
}

var categories = map[ErrorCategory]categoryInfo{
	CategoryAuthentication:     {SeverityCritical, false, "credentials for this source were rejected"},
	CategoryNetwork:            {SeverityMedium, true, "network problem while contacting the source"},
	CategoryRateLimit:          {SeverityMedium, true, "source rate limit reached, retry after backoff"},
	CategoryNotFound:           {SeverityLow, false, "no data found, try reformulating the query"},
	CategoryDataFormat:         {SeverityLow, false, "source returned data in an unexpected format"},
	CategoryServiceUnavailable: {SeverityHigh, true, "source temporarily unavailable"},
	CategoryUnknown:            {SeverityMedium, true, "unexpected error"},
}

func (c ErrorCategory) info() categoryInfo {
	if info, ok := categories[c]; ok {
		return info
	}
	return categories[CategoryUnknown]
}

// Severity returns the severity of the category
func (c ErrorCategory) Severity() Severity { return c.info().severity }

// Retryable reports whether a failure of this category is worth retrying
func (c ErrorCategory) Retryable() bool { return c.info().retryable }

// UserMessage returns a human readable description of the category
func (c ErrorCategory) UserMessage() string { return c.info().message }

// Categorizer is implemented by errors that know their category
type Categorizer interface {
	Category() ErrorCategory
}

// SourceError represents a failure reported by a source adapter
type SourceError struct {
	Source     string
	Operation  string
	Kind       ErrorCategory
	Message    string
	StatusCode int
	RetryAfter time.Duration
	Cause      error
}

func (e *SourceError) Error() string {
	if e.Cause != nil {
		return e.Source + "." + e.Operation + ": " + e.Message + " (cause: " + e.Cause.Error() + ")"
	}
	return e.Source + "." + e.Operation + ": " + e.Message
}

func (e *SourceError) Unwrap() error {
	return e.Cause
}

// Category implements Categorizer
func (e *SourceError) Category() ErrorCategory {
	if e.Kind == "" {
		return CategoryUnknown
	}
	return e.Kind
}

// NewSourceError creates a new SourceError
func NewSourceError(source, operation string, category ErrorCategory, message string, cause error) *SourceError {
	return &SourceError{
		Source:    source,
		Operation: operation,
		Kind:      category,
		Message:   message,
		Cause:     cause,
	}
}

// NewStatusError creates a SourceError from an HTTP status code
func NewStatusError(source, operation string, statusCode int, body string) *SourceError {
	msg := fmt.Sprintf("unexpected status %d", statusCode)
	if body != "" {
		msg += ": " + body
	}
	return &SourceError{
		Source:     source,
		Operation:  operation,
		Kind:       StatusCategory(statusCode),
		Message:    msg,
		StatusCode: statusCode,
	}
}

type categorized struct {
	category ErrorCategory
	msg      string
}

func (e *categorized) Error() string            { return e.msg }
func (e *categorized) Category() ErrorCategory { return e.category }

// NewCategorized returns a comparable sentinel error carrying a category
func NewCategorized(category ErrorCategory, msg string) error {
	return &categorized{category: category, msg: msg}
}

// StatusCategory maps an HTTP status code to a category
func StatusCategory(code int) ErrorCategory {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return CategoryAuthentication
	case code == http.StatusNotFound || code == http.StatusGone:
		return CategoryNotFound
	case code == http.StatusTooManyRequests:
		return CategoryRateLimit
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return CategoryNetwork
	case code == http.StatusUnprocessableEntity:
		return CategoryDataFormat
	case code >= 500:
		return CategoryServiceUnavailable
	default:
		return CategoryUnknown
	}
}

var messagePatterns = []struct {
	category ErrorCategory
	needles  []string
}{
	{CategoryAuthentication, []string{"authentication", "unauthorized", "forbidden", "invalid api key", "401", "403"}},
	{CategoryRateLimit, []string{"rate limit", "too many requests", "quota", "429"}},
	{CategoryNotFound, []string{"not found", "no results", "404"}},
	{CategoryNetwork, []string{"timeout", "timed out", "connection refused", "connection reset", "no such host", "network", "eof"}},
	{CategoryServiceUnavailable, []string{"unavailable", "bad gateway", "502", "503", "500"}},
	{CategoryDataFormat, []string{"parse", "unmarshal", "invalid character", "json", "syntax", "format"}},
}

// Classify maps any error to a category. Typed errors win over message
// patterns.
func Classify(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	var c Categorizer
	if errors.As(err, &c) {
		return c.Category()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryNetwork
	}
	if errors.Is(err, context.Canceled) {
		return CategoryUnknown
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return CategoryNetwork
	}

	msg := strings.ToLower(err.Error())
	for _, p := range messagePatterns {
		for _, needle := range p.needles {
			if strings.Contains(msg, needle) {
				return p.category
			}
		}
	}
	return CategoryUnknown
}

// IsRetryable reports whether err is worth retrying
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err).Retryable()
}
