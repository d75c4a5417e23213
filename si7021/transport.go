// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package si7021

import (
	"errors"
	"fmt"
)

// Transport is an addressed two-wire bus that separates requesting a read
// from collecting its bytes, so that the driver can poll for data with a
// bounded wait.
type Transport interface {
	// Write sends w to the device at addr. An empty w is an address-only
	// probe. A non-nil error means the device did not acknowledge.
	Write(addr uint16, w []byte) error
	// RequestRead asks the device at addr for n bytes.
	RequestRead(addr uint16, n int)
	// Available returns the number of requested bytes ready to be read.
	Available() int
	// ReadByte returns the next received byte.
	ReadByte() (byte, error)
}

// Txer is implemented by buses that perform a combined write/read
// transaction. Both periph.io/x/conn/v3/i2c.Bus and tinygo.org/x/drivers.I2C
// satisfy it.
type Txer interface {
	Tx(addr uint16, w, r []byte) error
}

var errNoData = errors.New("si7021: no data available")

// TxTransport adapts a Txer to Transport.
//
// A read request is performed as one read transaction. When the device
// rejects it, typically because a conversion is still running, the
// transaction is retried on the next call to Available.
type TxTransport struct {
	bus     Txer
	addr    uint16
	pending int
	buf     []byte
	err     error
}

// NewTxTransport returns a Transport driving bus.
func NewTxTransport(bus Txer) *TxTransport {
	return &TxTransport{bus: bus}
}

// Write implements Transport.
//
// Many Tx implementations return early when there is nothing to transfer, so
// an address-only probe is sent as a single byte read instead, the way
// i2cdetect does for devices that do not like quick writes.
func (t *TxTransport) Write(addr uint16, w []byte) error {
	t.pending = 0
	t.buf = t.buf[:0]
	if len(w) == 0 {
		var b [1]byte
		return t.bus.Tx(addr, nil, b[:])
	}
	return t.bus.Tx(addr, w, nil)
}

// RequestRead implements Transport.
func (t *TxTransport) RequestRead(addr uint16, n int) {
	t.addr = addr
	t.pending = n
	t.buf = t.buf[:0]
	t.fill()
}

// Available implements Transport.
func (t *TxTransport) Available() int {
	if t.pending > 0 {
		t.fill()
	}
	return len(t.buf)
}

// ReadByte implements Transport and io.ByteReader.
func (t *TxTransport) ReadByte() (byte, error) {
	if len(t.buf) == 0 {
		if t.err != nil {
			return 0, fmt.Errorf("si7021: %w", t.err)
		}
		return 0, errNoData
	}
	b := t.buf[0]
	t.buf = t.buf[1:]
	return b, nil
}

// Err returns the error of the last failed read transaction, if any.
func (t *TxTransport) Err() error {
	return t.err
}

func (t *TxTransport) fill() {
	r := make([]byte, t.pending)
	if err := t.bus.Tx(t.addr, nil, r); err != nil {
		t.err = err
		return
	}
	t.err = nil
	t.pending = 0
	t.buf = append(t.buf, r...)
}

func (t *TxTransport) String() string {
	if s, ok := t.bus.(fmt.Stringer); ok {
		return s.String()
	}
	return "tx"
}

var _ Transport = &TxTransport{}
