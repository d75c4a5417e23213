// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package si7021

import (
	"encoding/binary"
	"fmt"

	"github.com/GermanBionicSystems/envsense/common"
)

// Model identifies a member of the Si70xx family. It is byte SNB_3 of the
// serial number.
type Model byte

const (
	Si7013 Model = 0x0d
	Si7020 Model = 0x14
	Si7021 Model = 0x15
)

func (m Model) String() string {
	switch m {
	case Si7013:
		return "Si7013"
	case Si7020:
		return "Si7020"
	case Si7021:
		return "Si7021"
	case 0x00, 0xff:
		return "engineering sample"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(m))
	}
}

// SerialNumber is the 64 bit electronic serial number, SNA_3 first.
type SerialNumber [8]byte

// DeviceID returns the device identification byte.
func (sn SerialNumber) DeviceID() byte {
	return sn[4]
}

// Model returns the device identification byte as a Model. It is not
// validated.
func (sn SerialNumber) Model() Model {
	return Model(sn.DeviceID())
}

// Uint64 returns the serial number as a big-endian integer.
func (sn SerialNumber) Uint64() uint64 {
	return binary.BigEndian.Uint64(sn[:])
}

func (sn SerialNumber) String() string {
	return fmt.Sprintf("%016X", sn.Uint64())
}

// assembleSerial picks the data bytes out of the two serial number reads.
// a is SNA_3, CRC, SNA_2, CRC, SNA_1, CRC, SNA_0, CRC and b is SNB_3, SNB_2,
// CRC, SNB_1, SNB_0, CRC.
func assembleSerial(a, b []byte) SerialNumber {
	return SerialNumber{a[0], a[2], a[4], a[6], b[0], b[1], b[3], b[4]}
}

// validSerialA checks the first serial number read. Each checksum covers all
// data bytes received before it.
func validSerialA(a []byte) bool {
	crc := crcSeed
	for i := 0; i < 8; i += 2 {
		crc = common.CRC8Seed(crc, a[i:i+1])
		if crc != a[i+1] {
			return false
		}
	}
	return true
}

// validSerialB checks the second serial number read, where a checksum
// follows every two data bytes.
func validSerialB(b []byte) bool {
	crc := common.CRC8Seed(crcSeed, b[0:2])
	if crc != b[2] {
		return false
	}
	return common.CRC8Seed(crc, b[3:5]) == b[5]
}
