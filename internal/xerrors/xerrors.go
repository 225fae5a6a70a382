// Copyright 2024
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package xerrors provides the error taxonomy the orchestrator uses to
// decide whether to retry, skip, escalate, or abort a pipeline step.
package xerrors

import (
	"errors"
	"fmt"
)

// Kind is one of the dispositions defined for the extraction pipeline.
type Kind string

const (
	TransientNetwork Kind = "transient_network"
	LLMParseError    Kind = "llm_parse_error"
	ValidationError  Kind = "validation_error"
	NoData           Kind = "no_data"
	ScaleAmbiguous   Kind = "scale_ambiguous"
	DataInconsistent Kind = "data_inconsistent"
	Fatal            Kind = "fatal"
)

// Error wraps an underlying cause with a disposition Kind so callers can
// branch on errors.As without string matching.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: cause}
}

func Transient(reason string, cause error) *Error {
	return New(TransientNetwork, reason, cause)
}

func LLMParse(reason string, cause error) *Error {
	return New(LLMParseError, reason, cause)
}

func Validation(reason string) *Error {
	return New(ValidationError, reason, nil)
}

func NoDataErr(reason string) *Error {
	return New(NoData, reason, nil)
}

func ScaleAmbig(reason string) *Error {
	return New(ScaleAmbiguous, reason, nil)
}

func Inconsistent(reason string) *Error {
	return New(DataInconsistent, reason, nil)
}

func FatalErr(reason string, cause error) *Error {
	return New(Fatal, reason, cause)
}

// KindOf returns the Kind of err if it (or something it wraps) is an
// *Error, and false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsTerminal reports whether the Kind should abort the whole company's run.
func IsTerminal(k Kind) bool {
	return k == Fatal
}
