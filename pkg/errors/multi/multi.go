/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package multi collects the per-target errors of a fan-out operation into a
// single error value. Endorsement and query paths gather one error per peer;
// callers see the lone failure when only one target failed, or the whole
// collection otherwise.
package multi

import (
	"fmt"
	"strings"
)

// Errors aggregates several errors into one error value.
type Errors []error

// New collapses the given errors, skipping nils. It returns nil when nothing
// failed and the error itself when exactly one did.
func New(errs ...error) error {
	var collected Errors
	for _, err := range errs {
		if err != nil {
			collected = append(collected, err)
		}
	}
	return collected.ToError()
}

// Append adds err to an existing collection, starting one when errs is not
// already an Errors value.
func Append(errs error, err error) error {
	if err == nil {
		return errs
	}
	collected, ok := errs.(Errors)
	if !ok {
		return New(errs, err)
	}
	return append(collected, err)
}

// ToError reduces the collection back to a plain error value: nil when empty,
// the sole member when it holds one error, the collection itself otherwise.
func (errs Errors) ToError() error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return errs
	}
}

// Error lists every collected error, one numbered entry per target.
func (errs Errors) Error() string {
	switch len(errs) {
	case 0:
		return ""
	case 1:
		return errs[0].Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d errors occurred:", len(errs))
	for i, err := range errs {
		fmt.Fprintf(&b, " [%d] %s", i, err.Error())
	}
	return b.String()
}
