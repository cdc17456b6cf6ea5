// Package sms owns the notification delivery path: message composition,
// PDU encoding, the serial modem adapter, and the retry controller that
// drives TEXT→PDU fallback. This file centralizes the delivery error
// taxonomy so callers can distinguish hardware-down from transient send
// failures with errors.Is.
package sms

import "errors"

var (
	// ErrModemNotInitialized means the serial channel was never opened or
	// initialization failed; every send reports this until the adapter is
	// re-initialized. Surfaced distinctly from send failures so operators
	// can tell hardware-down from a transient delivery problem.
	ErrModemNotInitialized = errors.New("modem not initialized")

	// ErrSendTimeout means the hardware did not acknowledge within the send
	// timeout. There is no meaningful mid-flight cancellation on the serial
	// channel, so a timeout is treated as a failed attempt.
	ErrSendTimeout = errors.New("send timed out awaiting modem acknowledgment")

	// ErrSendFailureText is a TEXT-mode delivery failure; it triggers the
	// PDU fallback attempt.
	ErrSendFailureText = errors.New("text mode send failed")

	// ErrSendFailurePDU is a PDU-mode delivery failure; after a TEXT
	// failure it marks the job FAILED.
	ErrSendFailurePDU = errors.New("pdu mode send failed")

	// ErrUnencodable means the message cannot be represented in any
	// supported PDU alphabet (should not happen for composed messages).
	ErrUnencodable = errors.New("message not encodable")
)
