// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package si7021

import "errors"

var (
	// ErrNotAcknowledged is returned when the device did not acknowledge its
	// address while probing.
	ErrNotAcknowledged = errors.New("si7021: device did not acknowledge")
	// ErrReadTimeout is returned when the wait budget of a read was spent
	// before the device delivered its bytes.
	ErrReadTimeout = errors.New("si7021: read timeout")
	// ErrNotPresent is returned by bus operations on a device that did not
	// answer the last probe. Call Init to probe again.
	ErrNotPresent = errors.New("si7021: device not present")
	// ErrChecksum is returned when Opts.ValidateCRC is set and a checksum
	// byte does not match its data.
	ErrChecksum = errors.New("si7021: invalid crc")
)
