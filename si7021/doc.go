// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package si7021 controls a Silicon Labs Si7013, Si7020 or Si7021
// humidity/temperature sensor over I²C.
//
// The device answers on the fixed address 0x40. Every operation is a
// command write followed by a read of a few bytes, and the driver never has
// more than one command outstanding. Measurements are decoded with the
// datasheet's fixed point formulas and returned as hundredths of a degree
// and hundredths of a percent, so no floating point is needed on the read
// path. Dev also implements physic.SenseEnv for use with the rest of periph.
//
// # Waiting for data
//
// Reads take a wait budget. A positive budget polls the bus in small steps
// (Opts.PollInterval) and gives up with ErrReadTimeout once the budget is
// spent. NoTimeout waits for as long as it takes, which means a disconnected
// or faulty sensor blocks the caller forever. Use a budget whenever the
// caller cannot afford that.
//
// # Datasheet
//
// https://www.silabs.com/documents/public/data-sheets/Si7021-A20.pdf
package si7021
