// Copyright 2021 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package envsense is a container for environmental sensor drivers and the
// tools that publish their readings.
//
// The si7021 package drives the Silicon Labs Si7013/Si7020/Si7021 humidity
// and temperature sensors over periph.io or TinyGo I²C buses. The si7021mon
// command polls one and publishes to MQTT and InfluxDB.
package envsense
