// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package si7021

import "tinygo.org/x/drivers"

// NewTinyGo returns a device on a TinyGo I²C bus, for use on
// microcontrollers. See New.
func NewTinyGo(b drivers.I2C, opts *Opts) (*Dev, error) {
	return New(NewTxTransport(b), opts)
}
