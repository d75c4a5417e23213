// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package si7021

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"
)

// The address-only probe as TxTransport puts it on the wire.
var pbProbe = i2ctest.IO{Addr: DefaultAddress, R: []byte{0x00}}

// Playback for a plain temperature read. 0x656d is 22.76°C.
var pbTemperature = []i2ctest.IO{
	pbProbe,
	{Addr: DefaultAddress, W: []byte{cmdMeasureTemp}},
	{Addr: DefaultAddress, R: []byte{0x65, 0x6d}},
}

// Playback for a combined read. 0x7c82 is 54.79%RH.
var pbCombined = []i2ctest.IO{
	pbProbe,
	{Addr: DefaultAddress, W: []byte{cmdMeasureRH}},
	{Addr: DefaultAddress, R: []byte{0x7c, 0x82}},
	{Addr: DefaultAddress, W: []byte{cmdReadTempPostRH}},
	{Addr: DefaultAddress, R: []byte{0x65, 0x6d}},
}

// Playback for the serial number of a Si7021, checksums included.
var pbSerial = []i2ctest.IO{
	pbProbe,
	{Addr: DefaultAddress, W: []byte{0xfa, 0x0f}},
	{Addr: DefaultAddress, R: []byte{0x12, 0x21, 0x34, 0xb6, 0x56, 0xc1, 0x78, 0x37}},
	{Addr: DefaultAddress, W: []byte{0xfc, 0xc9}},
	{Addr: DefaultAddress, R: []byte{0x15, 0xff, 0xb5, 0x9a, 0xbc, 0x87}},
}

var pbHeater = []i2ctest.IO{
	pbProbe,
	{Addr: DefaultAddress, W: []byte{0xe6, 0x3e}},
	{Addr: DefaultAddress, W: []byte{0xe6, 0x3a}},
}

func getDev(t *testing.T, ops []i2ctest.IO, opts *Opts) (*Dev, *i2ctest.Playback) {
	bus := &i2ctest.Playback{Ops: ops, DontPanic: true}
	dev, err := NewI2C(bus, opts)
	if err != nil {
		t.Fatal(err)
	}
	return dev, bus
}

func closeBus(t *testing.T, bus *i2ctest.Playback) {
	if err := bus.Close(); err != nil {
		t.Error(err)
	}
}

// fakeTransport serves queued replies, one per read request.
type fakeTransport struct {
	mu       sync.Mutex
	nack     bool
	writes   [][]byte
	requests []int
	replies  [][]byte
	// reply, when set, is used once replies is exhausted.
	reply   []byte
	buf     []byte
	stalled atomic.Bool
	// pollDelay is spent in every Available call, like a bus transaction.
	pollDelay time.Duration
}

func (f *fakeTransport) Write(addr uint16, w []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nack {
		return errors.New("nack")
	}
	f.writes = append(f.writes, append([]byte(nil), w...))
	return nil
}

func (f *fakeTransport) RequestRead(addr uint16, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, n)
	f.buf = nil
	if len(f.replies) > 0 {
		f.buf = append([]byte(nil), f.replies[0]...)
		f.replies = f.replies[1:]
	} else if f.reply != nil {
		f.buf = append([]byte(nil), f.reply...)
	}
}

func (f *fakeTransport) Available() int {
	time.Sleep(f.pollDelay)
	if f.stalled.Load() {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buf)
}

func (f *fakeTransport) ReadByte() (byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.buf) == 0 {
		return 0, errNoData
	}
	b := f.buf[0]
	f.buf = f.buf[1:]
	return b, nil
}

func (f *fakeTransport) written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.writes...)
}

func TestDecodeTemperature(t *testing.T) {
	prev := decodeTemperature(0)
	for r := 0; r <= 0xffff; r++ {
		got := decodeTemperature(uint16(r))
		if want := ((17572 * r) >> 16) - 4685; got != want {
			t.Fatalf("decodeTemperature(%d) = %d, want %d", r, got, want)
		}
		if got < prev {
			t.Fatalf("decodeTemperature(%d) = %d < decodeTemperature(%d) = %d", r, got, r-1, prev)
		}
		prev = got
	}
	if got := decodeTemperature(rawValue([]byte{0x65, 0x6d})); got != 2276 {
		t.Errorf("decodeTemperature(0x656d) = %d, want 2276", got)
	}
}

func TestDecodeHumidity(t *testing.T) {
	for r := 0; r <= 0xffff; r++ {
		pct := decodeHumidityPercent(uint16(r))
		if want := ((125 * r) >> 16) - 6; pct != want {
			t.Fatalf("decodeHumidityPercent(%d) = %d, want %d", r, pct, want)
		}
		bp := decodeHumidityBasisPoints(uint16(r))
		if want := ((12500 * r) >> 16) - 600; bp != want {
			t.Fatalf("decodeHumidityBasisPoints(%d) = %d, want %d", r, bp, want)
		}
		// Both truncate, the coarser one can lag by less than one percent.
		if diff := bp - 100*pct; diff < 0 || diff >= 100 {
			t.Fatalf("raw %d: %d basis points vs %d percent", r, bp, pct)
		}
	}
	if got := decodeHumidityBasisPoints(0x7c82); got != 5479 {
		t.Errorf("decodeHumidityBasisPoints(0x7c82) = %d, want 5479", got)
	}
}

func TestCentiFahrenheit(t *testing.T) {
	var tests = []struct {
		c, f int
	}{
		{0, 3200},
		{100, 3380},
		{2276, 7296},
		{2500, 7700},
		{-4000, -4000},
		{-4685, -5233},
	}
	for _, test := range tests {
		if got := centiFahrenheit(test.c); got != test.f {
			t.Errorf("centiFahrenheit(%d) = %d, want %d", test.c, got, test.f)
		}
	}
}

func TestReadingString(t *testing.T) {
	r := Reading{CentiCelsius: -5, CentiFahrenheit: 3191, HumidityBasisPoints: 5479}
	if s, want := r.String(), "-0.05°C 31.91°F 54.79%RH"; s != want {
		t.Errorf("String() = %q, want %q", s, want)
	}
}

func TestTemperature(t *testing.T) {
	dev, bus := getDev(t, pbTemperature, nil)
	if !dev.Present() {
		t.Fatal("device not present")
	}
	c, err := dev.CelsiusHundredths(100 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if c != 2276 {
		t.Errorf("CelsiusHundredths() = %d, want 2276", c)
	}
	closeBus(t, bus)
}

func TestFahrenheit(t *testing.T) {
	dev, bus := getDev(t, pbTemperature, nil)
	f, err := dev.FahrenheitHundredths(NoTimeout)
	if err != nil {
		t.Fatal(err)
	}
	if f != 7296 {
		t.Errorf("FahrenheitHundredths() = %d, want 7296", f)
	}
	closeBus(t, bus)
}

func TestHumidity(t *testing.T) {
	ops := []i2ctest.IO{
		pbProbe,
		{Addr: DefaultAddress, W: []byte{cmdMeasureRH}},
		{Addr: DefaultAddress, R: []byte{0x7c, 0x82}},
		{Addr: DefaultAddress, W: []byte{cmdMeasureRH}},
		{Addr: DefaultAddress, R: []byte{0x7c, 0x82}},
		// Below the formula's zero.
		{Addr: DefaultAddress, W: []byte{cmdMeasureRH}},
		{Addr: DefaultAddress, R: []byte{0x01, 0x00}},
	}
	dev, bus := getDev(t, ops, nil)
	pct, err := dev.HumidityPercent(NoTimeout)
	if err != nil {
		t.Fatal(err)
	}
	if pct != 54 {
		t.Errorf("HumidityPercent() = %d, want 54", pct)
	}
	bp, err := dev.HumidityBasisPoints(NoTimeout)
	if err != nil {
		t.Fatal(err)
	}
	if bp != 5479 {
		t.Errorf("HumidityBasisPoints() = %d, want 5479", bp)
	}
	bp, err = dev.HumidityBasisPoints(NoTimeout)
	if err != nil {
		t.Fatal(err)
	}
	if bp != 0 {
		t.Errorf("HumidityBasisPoints() = %d, want 0", bp)
	}
	closeBus(t, bus)
}

func TestHumidityAndTemperature(t *testing.T) {
	dev, bus := getDev(t, pbCombined, nil)
	r, err := dev.HumidityAndTemperature()
	if err != nil {
		t.Fatal(err)
	}
	want := Reading{CentiCelsius: 2276, CentiFahrenheit: 7296, HumidityBasisPoints: 5479}
	if diff := cmp.Diff(want, r); diff != "" {
		t.Errorf("HumidityAndTemperature() mismatch (-want +got):\n%s", diff)
	}
	closeBus(t, bus)
}

func TestTemperatureAndRH(t *testing.T) {
	dev, bus := getDev(t, pbCombined, nil)
	r, err := dev.TemperatureAndRH()
	if err != nil {
		t.Fatal(err)
	}
	want := CompactReading{CentiCelsius: 2276, HumidityPercent: 54}
	if diff := cmp.Diff(want, r); diff != "" {
		t.Errorf("TemperatureAndRH() mismatch (-want +got):\n%s", diff)
	}
	closeBus(t, bus)
}

func TestSense(t *testing.T) {
	dev, bus := getDev(t, pbCombined, nil)
	e := physic.Env{}
	if err := dev.Sense(&e); err != nil {
		t.Fatal(err)
	}
	if expected := physic.ZeroCelsius + 22760*physic.MilliKelvin; e.Temperature != expected {
		t.Errorf("temperature %s(%d) != %s(%d)", expected, expected, e.Temperature, e.Temperature)
	}
	if expected := 5479 * (physic.PercentRH / 100); e.Humidity != expected {
		t.Errorf("humidity %s(%d) != %s(%d)", expected, expected, e.Humidity, e.Humidity)
	}
	if e.Pressure != 0 {
		t.Errorf("pressure %s != 0", e.Pressure)
	}
	closeBus(t, bus)
}

func TestPostHumidityTemperature(t *testing.T) {
	ops := []i2ctest.IO{
		pbProbe,
		{Addr: DefaultAddress, W: []byte{cmdReadTempPostRH}},
		{Addr: DefaultAddress, R: []byte{0x65, 0x6d}},
	}
	// The post humidity read never carries a checksum.
	dev, bus := getDev(t, ops, &Opts{ValidateCRC: true})
	c, err := dev.CelsiusHundredthsPostHumidity(NoTimeout)
	if err != nil {
		t.Fatal(err)
	}
	if c != 2276 {
		t.Errorf("CelsiusHundredthsPostHumidity() = %d, want 2276", c)
	}
	closeBus(t, bus)
}

func TestChecksum(t *testing.T) {
	ops := []i2ctest.IO{
		pbProbe,
		{Addr: DefaultAddress, W: []byte{cmdMeasureTemp}},
		{Addr: DefaultAddress, R: []byte{0x65, 0x6d, 0xd5}},
		{Addr: DefaultAddress, W: []byte{cmdMeasureRH}},
		{Addr: DefaultAddress, R: []byte{0x7c, 0x82, 0x97}},
		{Addr: DefaultAddress, W: []byte{cmdMeasureTemp}},
		{Addr: DefaultAddress, R: []byte{0x65, 0x6d, 0x00}},
	}
	dev, bus := getDev(t, ops, &Opts{ValidateCRC: true})
	if c, err := dev.CelsiusHundredths(NoTimeout); err != nil || c != 2276 {
		t.Errorf("CelsiusHundredths() = %d, %v", c, err)
	}
	if bp, err := dev.HumidityBasisPoints(NoTimeout); err != nil || bp != 5479 {
		t.Errorf("HumidityBasisPoints() = %d, %v", bp, err)
	}
	if _, err := dev.CelsiusHundredths(NoTimeout); !errors.Is(err, ErrChecksum) {
		t.Errorf("expected ErrChecksum, got %v", err)
	}
	closeBus(t, bus)
}

func TestSerialNumber(t *testing.T) {
	for _, validate := range []bool{false, true} {
		dev, bus := getDev(t, pbSerial, &Opts{ValidateCRC: validate})
		sn, err := dev.SerialNumber(100 * time.Millisecond)
		if err != nil {
			t.Fatal(err)
		}
		want := SerialNumber{0x12, 0x34, 0x56, 0x78, 0x15, 0xff, 0x9a, 0xbc}
		if diff := cmp.Diff(want, sn); diff != "" {
			t.Errorf("SerialNumber() mismatch (-want +got):\n%s", diff)
		}
		if s := sn.String(); s != "1234567815FF9ABC" {
			t.Errorf("String() = %q", s)
		}
		if sn.Model() != Si7021 {
			t.Errorf("Model() = %s, want Si7021", sn.Model())
		}
		closeBus(t, bus)
	}
}

func TestSerialNumberChecksum(t *testing.T) {
	ops := append([]i2ctest.IO(nil), pbSerial...)
	ops[4] = i2ctest.IO{Addr: DefaultAddress, R: []byte{0x15, 0xff, 0xb5, 0x9a, 0xbc, 0x88}}
	dev, bus := getDev(t, ops, &Opts{ValidateCRC: true})
	if _, err := dev.SerialNumber(NoTimeout); !errors.Is(err, ErrChecksum) {
		t.Errorf("expected ErrChecksum, got %v", err)
	}
	closeBus(t, bus)
}

func TestDeviceID(t *testing.T) {
	dev, bus := getDev(t, pbSerial, nil)
	id, err := dev.DeviceID(NoTimeout)
	if err != nil {
		t.Fatal(err)
	}
	if id != 0x15 {
		t.Errorf("DeviceID() = 0x%02x, want 0x15", id)
	}
	closeBus(t, bus)
}

func TestAssembleSerial(t *testing.T) {
	a := []byte{0, 1, 2, 3, 4, 5, 6, 7}
	b := []byte{10, 11, 12, 13, 14, 15}
	want := SerialNumber{0, 2, 4, 6, 10, 11, 13, 14}
	if diff := cmp.Diff(want, assembleSerial(a, b)); diff != "" {
		t.Errorf("assembleSerial() mismatch (-want +got):\n%s", diff)
	}
}

func TestModelString(t *testing.T) {
	var tests = []struct {
		m    Model
		want string
	}{
		{Si7013, "Si7013"},
		{Si7020, "Si7020"},
		{Si7021, "Si7021"},
		{0xff, "engineering sample"},
		{0x32, "unknown(0x32)"},
	}
	for _, test := range tests {
		if s := test.m.String(); s != test.want {
			t.Errorf("Model(0x%02x).String() = %q, want %q", byte(test.m), s, test.want)
		}
	}
}

func TestSetHeater(t *testing.T) {
	dev, bus := getDev(t, pbHeater, nil)
	if err := dev.SetHeater(true); err != nil {
		t.Fatal(err)
	}
	if err := dev.SetHeater(false); err != nil {
		t.Fatal(err)
	}
	closeBus(t, bus)
}

func TestSetResolution(t *testing.T) {
	var tests = []struct {
		reg   byte
		res   Resolution
		write byte
	}{
		{0x3a, RH11T11, 0xbb},
		{0xff, RH12T14, 0x7e},
		{0x3a, RH10T13, 0xba},
		{0x3a, RH8T12, 0x3b},
	}
	for _, test := range tests {
		f := &fakeTransport{replies: [][]byte{{test.reg}}}
		dev, err := New(f, nil)
		if err != nil {
			t.Fatal(err)
		}
		if err := dev.SetResolution(test.res); err != nil {
			t.Fatal(err)
		}
		want := [][]byte{nil, {cmdReadUserReg}, {cmdWriteUserReg, test.write}}
		if diff := cmp.Diff(want, f.written(), cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("%s: writes mismatch (-want +got):\n%s", test.res, diff)
		}
	}
}

func TestPrecision(t *testing.T) {
	f := &fakeTransport{replies: [][]byte{{0x3a}}}
	dev, err := New(f, nil)
	if err != nil {
		t.Fatal(err)
	}
	e := physic.Env{}
	dev.Precision(&e)
	if e.Temperature != 10725098*physic.NanoKelvin {
		t.Errorf("default temperature precision %s", e.Temperature)
	}
	if want := physic.RelativeHumidity(3052); e.Humidity != want {
		t.Errorf("default humidity precision %d, want %d", e.Humidity, want)
	}
	if err := dev.SetResolution(RH8T12); err != nil {
		t.Fatal(err)
	}
	dev.Precision(&e)
	if e.Temperature != 42900391*physic.NanoKelvin {
		t.Errorf("RH8T12 temperature precision %s", e.Temperature)
	}
	if want := physic.RelativeHumidity(48828); e.Humidity != want {
		t.Errorf("RH8T12 humidity precision %d, want %d", e.Humidity, want)
	}
}

func TestReset(t *testing.T) {
	f := &fakeTransport{}
	dev, err := New(f, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.Reset(); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([][]byte{nil, {cmdReset}}, f.written(), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("writes mismatch (-want +got):\n%s", diff)
	}
}

func TestNotPresent(t *testing.T) {
	f := &fakeTransport{nack: true}
	dev, err := New(f, nil)
	if !errors.Is(err, ErrNotAcknowledged) {
		t.Fatalf("expected ErrNotAcknowledged, got %v", err)
	}
	if dev.Present() {
		t.Error("Present() = true after a failed probe")
	}
	if _, err := dev.CelsiusHundredths(NoTimeout); !errors.Is(err, ErrNotPresent) {
		t.Errorf("expected ErrNotPresent, got %v", err)
	}
	if _, err := dev.HumidityAndTemperature(); !errors.Is(err, ErrNotPresent) {
		t.Errorf("expected ErrNotPresent, got %v", err)
	}
	if err := dev.SetHeater(true); !errors.Is(err, ErrNotPresent) {
		t.Errorf("expected ErrNotPresent, got %v", err)
	}

	// The device shows up later.
	f.mu.Lock()
	f.nack = false
	f.mu.Unlock()
	if ok, err := dev.Init(); !ok || err != nil {
		t.Fatalf("Init() = %t, %v", ok, err)
	}
	if !dev.Present() {
		t.Error("Present() = false after a successful probe")
	}
}

func TestOptsAddress(t *testing.T) {
	ops := []i2ctest.IO{
		{Addr: 0x41, R: []byte{0x00}},
		{Addr: 0x41, W: []byte{cmdMeasureTemp}},
		{Addr: 0x41, R: []byte{0x65, 0x6d}},
	}
	dev, bus := getDev(t, ops, &Opts{Addr: 0x41})
	if _, err := dev.CelsiusHundredths(NoTimeout); err != nil {
		t.Fatal(err)
	}
	closeBus(t, bus)
}

func TestReadTimeout(t *testing.T) {
	f := &fakeTransport{}
	dev, err := New(f, nil)
	if err != nil {
		t.Fatal(err)
	}
	f.stalled.Store(true)
	start := time.Now()
	c, err := dev.CelsiusHundredths(5 * time.Millisecond)
	if !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("expected ErrReadTimeout, got %v", err)
	}
	if c != 0 {
		t.Errorf("CelsiusHundredths() = %d on timeout, want 0", c)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %s", elapsed)
	}
	if fh, err := dev.FahrenheitHundredths(5 * time.Millisecond); !errors.Is(err, ErrReadTimeout) || fh != 3200 {
		t.Errorf("FahrenheitHundredths() = %d, %v", fh, err)
	}
	if _, err := dev.SerialNumber(5 * time.Millisecond); !errors.Is(err, ErrReadTimeout) {
		t.Errorf("expected ErrReadTimeout, got %v", err)
	}
	if _, err := dev.HumidityPercent(-time.Millisecond); !errors.Is(err, ErrReadTimeout) {
		t.Errorf("expected ErrReadTimeout, got %v", err)
	}
}

func TestReadTimeoutDeadline(t *testing.T) {
	const budget = 30 * time.Millisecond
	data := []struct {
		name string
		opts Opts
		poll time.Duration
	}{
		{"poll interval longer than budget", Opts{PollInterval: time.Second}, 0},
		{"slow bus", Opts{PollInterval: time.Millisecond}, 10 * time.Millisecond},
	}
	for _, line := range data {
		t.Run(line.name, func(t *testing.T) {
			f := &fakeTransport{pollDelay: line.poll}
			dev, err := New(f, &line.opts)
			if err != nil {
				t.Fatal(err)
			}
			f.stalled.Store(true)
			start := time.Now()
			if _, err := dev.CelsiusHundredths(budget); !errors.Is(err, ErrReadTimeout) {
				t.Fatalf("expected ErrReadTimeout, got %v", err)
			}
			if elapsed := time.Since(start); elapsed > 2*budget {
				t.Errorf("timeout of %s took %s", budget, elapsed)
			}
		})
	}
}

func TestNoTimeoutBlocks(t *testing.T) {
	f := &fakeTransport{reply: []byte{0x65, 0x6d}}
	dev, err := New(f, nil)
	if err != nil {
		t.Fatal(err)
	}
	f.stalled.Store(true)
	type result struct {
		c   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		c, err := dev.CelsiusHundredths(NoTimeout)
		done <- result{c, err}
	}()
	select {
	case r := <-done:
		t.Fatalf("read returned %d, %v while the bus was stalled", r.c, r.err)
	case <-time.After(50 * time.Millisecond):
	}
	present := make(chan bool, 1)
	go func() { present <- dev.Present() }()
	select {
	case p := <-present:
		if !p {
			t.Error("Present() = false")
		}
	case <-time.After(time.Second):
		t.Fatal("Present() waited for the stalled read")
	}
	// Release the bus so the reader can finish.
	f.stalled.Store(false)
	select {
	case r := <-done:
		if r.err != nil || r.c != 2276 {
			t.Errorf("CelsiusHundredths() = %d, %v", r.c, r.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("read did not return after the bus was released")
	}
}

func TestSenseContinuous(t *testing.T) {
	f := &fakeTransport{reply: []byte{0x7c, 0x82}}
	dev, err := New(f, &Opts{ReadTimeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	ch, err := dev.SenseContinuous(5 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dev.SenseContinuous(5 * time.Millisecond); err == nil {
		t.Error("expected error for a second SenseContinuous")
	}
	for i := 0; i < 3; i++ {
		select {
		case e := <-ch:
			if expected := 5479 * (physic.PercentRH / 100); e.Humidity != expected {
				t.Errorf("humidity %s != %s", e.Humidity, expected)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("no reading received")
		}
	}
	if err := dev.Halt(); err != nil {
		t.Fatal(err)
	}
	for range ch {
	}
	if err := dev.Halt(); err != nil {
		t.Error(err)
	}
}
