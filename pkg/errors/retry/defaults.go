/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package retry

import (
	"time"

	"github.com/hyperledger/fabric-client-go/pkg/errors/status"
	grpcCodes "google.golang.org/grpc/codes"
)

const (
	// DefaultAttempts number of retry attempts made by default
	DefaultAttempts = 3
	// DefaultInitialBackoff default initial backoff
	DefaultInitialBackoff = 200 * time.Millisecond
	// DefaultMaxBackoff default maximum backoff
	DefaultMaxBackoff = 5 * time.Second
	// DefaultBackoffFactor default backoff factor
	DefaultBackoffFactor = 2.0
)

// DefaultOpts default retry options
var DefaultOpts = Opts{
	Attempts:       DefaultAttempts,
	InitialBackoff: DefaultInitialBackoff,
	MaxBackoff:     DefaultMaxBackoff,
	BackoffFactor:  DefaultBackoffFactor,
	RetryableCodes: DefaultRetryableCodes,
}

// DefaultRetryableCodes these are the error codes, grouped by source of error,
// that are considered to be transient error conditions by default
var DefaultRetryableCodes = map[status.Group][]status.Code{
	status.GRPCTransportStatus: {
		status.Code(grpcCodes.Unavailable),
		status.Code(grpcCodes.DeadlineExceeded),
	},
	status.OrdererClientStatus: {
		status.ConnectionFailed,
		status.BroadcastFailed,
	},
	status.OrdererServerStatus: {
		status.Code(503), // SERVICE_UNAVAILABLE
		status.Code(500), // INTERNAL_SERVER_ERROR
	},
	status.EventClientStatus: {
		status.ConnectionFailed,
		status.RegistrationFailed,
	},
}
