/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package retry

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hyperledger/fabric-client-go/pkg/errors/status"
)

func retryableErr() error {
	return status.New(status.OrdererClientStatus, status.BroadcastFailed.ToInt32(), "rejected", nil)
}

func TestRequiredStopsAfterAttempts(t *testing.T) {
	handler := New(Opts{
		Attempts:       2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		BackoffFactor:  2,
	})

	assert.True(t, handler.Required(retryableErr()))
	assert.True(t, handler.Required(retryableErr()))
	assert.False(t, handler.Required(retryableErr()))
}

func TestRequiredRejectsNonRetryable(t *testing.T) {
	handler := WithAttempts(3)

	assert.False(t, handler.Required(fmt.Errorf("plain error")))
	assert.False(t, handler.Required(status.New(status.ClientStatus,
		status.InvalidArgument.ToInt32(), "bad input", nil)))
	assert.False(t, handler.Required(status.New(status.OrdererServerStatus,
		200, "success is not retried", nil)))
}

func TestDefaultRetryableCodes(t *testing.T) {
	handler := New(Opts{
		Attempts:       5,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		BackoffFactor:  2,
	})

	// Orderer SERVICE_UNAVAILABLE is transient by default.
	assert.True(t, handler.Required(status.New(status.OrdererServerStatus, 503, "busy", nil)))
	assert.True(t, handler.Required(status.New(status.EventClientStatus,
		status.RegistrationFailed.ToInt32(), "no ack", nil)))
}

func TestBackoffGrowsUpToMax(t *testing.T) {
	handler := New(Opts{
		Attempts:       4,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
		BackoffFactor:  2,
	})

	start := time.Now()
	for handler.Required(retryableErr()) {
	}
	// 1 + 2 + 4 + 4 milliseconds of backoff across the four attempts.
	assert.True(t, time.Since(start) >= 11*time.Millisecond)
}
