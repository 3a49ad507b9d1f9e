/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package multi

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	assert.Nil(t, New())
	assert.Nil(t, New(nil, nil))

	single := fmt.Errorf("one")
	assert.Equal(t, single, New(nil, single))

	err := New(fmt.Errorf("one"), fmt.Errorf("two"))
	require.Error(t, err)
	errs, ok := err.(Errors)
	require.True(t, ok)
	assert.Len(t, errs, 2)
}

func TestAppend(t *testing.T) {
	err := Append(nil, fmt.Errorf("one"))
	assert.EqualError(t, err, "one")

	err = Append(err, fmt.Errorf("two"))
	errs, ok := err.(Errors)
	require.True(t, ok)
	assert.Len(t, errs, 2)

	// Appending nil leaves the collection alone.
	err = Append(err, nil)
	assert.Len(t, err.(Errors), 2)
}

func TestToError(t *testing.T) {
	assert.Nil(t, Errors{}.ToError())

	single := fmt.Errorf("one")
	assert.Equal(t, single, Errors{single}.ToError())

	err := Errors{fmt.Errorf("one"), fmt.Errorf("two")}.ToError()
	assert.Equal(t, "2 errors occurred: [0] one [1] two", err.Error())
}
