// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package si7021

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GermanBionicSystems/envsense/common"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// DefaultAddress is the fixed I²C address of the Si70xx family.
const DefaultAddress uint16 = 0x40

// NoTimeout as a wait budget makes a read wait until the device answers,
// without limit.
const NoTimeout time.Duration = 0

const (
	cmdMeasureRH      byte = 0xe5
	cmdMeasureTemp    byte = 0xe3
	cmdReadTempPostRH byte = 0xe0
	cmdReset          byte = 0xfe
	cmdReadUserReg    byte = 0xe7
	cmdWriteUserReg   byte = 0xe6

	// User register values written by SetHeater.
	userRegHeaterOn  byte = 0x3e
	userRegHeaterOff byte = 0x3a

	// Resolution is selected by bits D7 and D0 of the user register.
	userRegResolutionMask byte = 0x81

	// Datasheet maximum for a soft reset.
	resetDuration = 15 * time.Millisecond

	// Seed of the checksum the device appends to its data.
	crcSeed byte = 0x00
)

var (
	cmdReadSerial1 = []byte{0xfa, 0x0f}
	cmdReadSerial2 = []byte{0xfc, 0xc9}
)

// Resolution selects the measurement resolution of humidity and temperature.
type Resolution byte

const (
	// RH12T14 is the power-on default: 12 bit humidity, 14 bit temperature.
	RH12T14 Resolution = 0x00
	RH8T12  Resolution = 0x01
	RH10T13 Resolution = 0x80
	RH11T11 Resolution = 0x81
)

// bits returns the humidity and temperature resolution in bits.
func (r Resolution) bits() (rh, temp int) {
	switch r & Resolution(userRegResolutionMask) {
	case RH8T12:
		return 8, 12
	case RH10T13:
		return 10, 13
	case RH11T11:
		return 11, 11
	default:
		return 12, 14
	}
}

func (r Resolution) String() string {
	rh, temp := r.bits()
	return fmt.Sprintf("RH %d bit, T %d bit", rh, temp)
}

// Opts holds the configuration options for the device.
type Opts struct {
	// Addr overrides the bus address. 0 means DefaultAddress.
	Addr uint16
	// ReadTimeout is the wait budget used by the calls that do not take one:
	// HumidityAndTemperature, TemperatureAndRH, Sense and the user register
	// read in SetResolution. NoTimeout, the default, waits forever.
	ReadTimeout time.Duration
	// PollInterval is the step between two checks for available data while
	// waiting. Default is 1ms. Leave 0 to use default.
	PollInterval time.Duration
	// ConversionDelay is slept between a command and the read that collects
	// its result. Some bus masters cannot stretch the clock long enough for
	// a conversion; 25ms covers the slowest one. Default is 0.
	ConversionDelay time.Duration
	// ValidateCRC reads the checksum bytes the device appends to
	// measurements and serial numbers and returns ErrChecksum when they do
	// not match. Default is false.
	ValidateCRC bool
}

// DefaultOpts holds the default configuration options for the device.
var DefaultOpts = Opts{
	Addr:         DefaultAddress,
	ReadTimeout:  NoTimeout,
	PollInterval: time.Millisecond,
}

// Reading is a combined humidity and temperature measurement.
type Reading struct {
	CentiCelsius        int
	CentiFahrenheit     int
	HumidityBasisPoints uint
}

func (r Reading) String() string {
	return fmt.Sprintf("%s°C %s°F %s%%RH",
		formatHundredths(r.CentiCelsius),
		formatHundredths(r.CentiFahrenheit),
		formatHundredths(int(r.HumidityBasisPoints)))
}

// CompactReading is a temperature and a whole percent humidity.
type CompactReading struct {
	CentiCelsius    int
	HumidityPercent uint
}

// Dev represents a Si70xx humidity/temperature sensor.
type Dev struct {
	t       Transport
	opts    Opts
	name    string
	mu      sync.Mutex
	present atomic.Bool
	res     Resolution
	stop    chan struct{}
	wg      sync.WaitGroup
}

// New returns a device talking over t and probes it. The returned Dev is
// usable even when the probe fails; Present reports the outcome and bus
// operations return ErrNotPresent until Init succeeds. The Opts can be nil.
func New(t Transport, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	d := &Dev{t: t, opts: *opts, name: "si7021"}
	if d.opts.Addr == 0 {
		d.opts.Addr = DefaultAddress
	}
	if d.opts.PollInterval <= 0 {
		d.opts.PollInterval = time.Millisecond
	}
	if s, ok := t.(fmt.Stringer); ok {
		d.name = fmt.Sprintf("si7021{%s}", s)
	}
	_, err := d.Init()
	return d, err
}

// NewI2C returns a device on the periph I²C bus b. See New.
func NewI2C(b i2c.Bus, opts *Opts) (*Dev, error) {
	d, err := New(NewTxTransport(b), opts)
	if p, ok := b.(i2c.Pins); ok {
		d.name = fmt.Sprintf("si7021{%s, SCL=%s, SDA=%s}", b, p.SCL(), p.SDA())
	}
	return d, err
}

// Init probes the device address and records whether the device
// acknowledged. It does not retry.
func (d *Dev) Init() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.present.Store(false)
	if err := d.t.Write(d.opts.Addr, nil); err != nil {
		return false, fmt.Errorf("si7021: probing 0x%02x: %w: %w", d.opts.Addr, ErrNotAcknowledged, err)
	}
	d.present.Store(true)
	return true, nil
}

// Present returns the result of the last probe. It does not touch the bus
// and does not wait for a read in progress.
func (d *Dev) Present() bool {
	return d.present.Load()
}

// CelsiusHundredths measures the temperature. On error the returned value
// is 0.
func (d *Dev) CelsiusHundredths(timeout time.Duration) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	raw, err := d.measure(cmdMeasureTemp, d.opts.ValidateCRC, timeout)
	if err != nil {
		return 0, err
	}
	return decodeTemperature(raw), nil
}

// FahrenheitHundredths measures the temperature in Fahrenheit. It is derived
// from CelsiusHundredths, including its 0°C result on error, so a failed
// read returns 3200 along with the error.
func (d *Dev) FahrenheitHundredths(timeout time.Duration) (int, error) {
	c, err := d.CelsiusHundredths(timeout)
	return centiFahrenheit(c), err
}

// CelsiusHundredthsPostHumidity returns the temperature sampled during the
// last humidity measurement without starting a new conversion. It is only
// meaningful right after HumidityPercent or HumidityBasisPoints.
func (d *Dev) CelsiusHundredthsPostHumidity(timeout time.Duration) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.celsiusPostHumidity(timeout)
}

// HumidityPercent measures the relative humidity in whole percent. Negative
// results of the conversion formula are reported as 0.
func (d *Dev) HumidityPercent(timeout time.Duration) (uint, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	raw, err := d.measure(cmdMeasureRH, d.opts.ValidateCRC, timeout)
	if err != nil {
		return 0, err
	}
	return clampUnsigned(decodeHumidityPercent(raw)), nil
}

// HumidityBasisPoints measures the relative humidity in hundredths of a
// percent. Negative results of the conversion formula are reported as 0.
func (d *Dev) HumidityBasisPoints(timeout time.Duration) (uint, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.humidityBasisPoints(timeout)
}

// HumidityAndTemperature measures humidity and then fetches the temperature
// sampled with it. It waits up to Opts.ReadTimeout for each of the two
// reads; with the default NoTimeout it blocks forever if the bus hangs.
func (d *Dev) HumidityAndTemperature() (Reading, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.humidityAndTemperature()
}

// TemperatureAndRH is HumidityAndTemperature with humidity in whole percent
// and without the Fahrenheit value.
func (d *Dev) TemperatureAndRH() (CompactReading, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var r CompactReading
	raw, err := d.measure(cmdMeasureRH, d.opts.ValidateCRC, d.opts.ReadTimeout)
	if err != nil {
		return r, err
	}
	r.HumidityPercent = clampUnsigned(decodeHumidityPercent(raw))
	if r.CentiCelsius, err = d.celsiusPostHumidity(d.opts.ReadTimeout); err != nil {
		return r, err
	}
	return r, nil
}

// SerialNumber reads the 64 bit electronic serial number.
func (d *Dev) SerialNumber(timeout time.Duration) (SerialNumber, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var sn SerialNumber
	if err := d.checkPresent(); err != nil {
		return sn, err
	}
	// SNA_3, CRC, SNA_2, CRC, SNA_1, CRC, SNA_0, CRC
	a := make([]byte, 8)
	if err := d.command(cmdReadSerial1, a, timeout); err != nil {
		return sn, err
	}
	// SNB_3, SNB_2, CRC, SNB_1, SNB_0, CRC
	b := make([]byte, 6)
	if err := d.command(cmdReadSerial2, b, timeout); err != nil {
		return sn, err
	}
	if d.opts.ValidateCRC && !(validSerialA(a) && validSerialB(b)) {
		return sn, ErrChecksum
	}
	return assembleSerial(a, b), nil
}

// DeviceID returns the device identification byte of the serial number.
// Known values are the Model constants; other values are returned as is.
func (d *Dev) DeviceID(timeout time.Duration) (byte, error) {
	sn, err := d.SerialNumber(timeout)
	if err != nil {
		return 0, err
	}
	return sn.DeviceID(), nil
}

// SetHeater turns the on-chip heater on or off. It writes a fixed user
// register value, which also restores the default resolution. The write is
// not read back.
func (d *Dev) SetHeater(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkPresent(); err != nil {
		return err
	}
	v := userRegHeaterOff
	if on {
		v = userRegHeaterOn
	}
	if err := d.t.Write(d.opts.Addr, []byte{cmdWriteUserReg, v}); err != nil {
		return fmt.Errorf("si7021: setting heater: %w", err)
	}
	d.res = Resolution(v & userRegResolutionMask)
	return nil
}

// SetResolution changes the measurement resolution, keeping every other bit
// of the user register.
func (d *Dev) SetResolution(r Resolution) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	reg, err := d.userRegister(d.opts.ReadTimeout)
	if err != nil {
		return err
	}
	reg = reg&^userRegResolutionMask | byte(r)&userRegResolutionMask
	if err := d.t.Write(d.opts.Addr, []byte{cmdWriteUserReg, reg}); err != nil {
		return fmt.Errorf("si7021: setting resolution: %w", err)
	}
	d.res = r & Resolution(userRegResolutionMask)
	return nil
}

// UserRegister returns the raw user register.
func (d *Dev) UserRegister(timeout time.Duration) (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.userRegister(timeout)
}

// Reset performs a soft reset, restoring the power-on user register.
func (d *Dev) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkPresent(); err != nil {
		return err
	}
	err := d.t.Write(d.opts.Addr, []byte{cmdReset})
	time.Sleep(resetDuration)
	if err != nil {
		return fmt.Errorf("si7021: reset: %w", err)
	}
	d.res = RH12T14
	return nil
}

// Sense implements physic.SenseEnv. The pressure is always 0. It waits up to
// Opts.ReadTimeout for data.
func (d *Dev) Sense(e *physic.Env) error {
	e.Temperature = 0
	e.Pressure = 0
	e.Humidity = 0
	d.mu.Lock()
	defer d.mu.Unlock()
	r, err := d.humidityAndTemperature()
	if err != nil {
		return err
	}
	e.Temperature = centiCelsiusToTemperature(r.CentiCelsius)
	e.Humidity = basisPointsToHumidity(r.HumidityBasisPoints)
	return nil
}

// SenseContinuous implements physic.SenseEnv. It returns a channel that
// receives a measurement every interval until Halt is called. Failed reads
// are skipped.
//
// Each measurement waits up to Opts.ReadTimeout. With NoTimeout a sensor
// that stops answering stalls the loop, and Halt with it.
func (d *Dev) SenseContinuous(interval time.Duration) (<-chan physic.Env, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return nil, errors.New("si7021: SenseContinuous already running")
	}
	if interval <= 0 {
		return nil, errors.New("si7021: invalid interval")
	}
	stop := make(chan struct{})
	d.stop = stop
	ch := make(chan physic.Env, 16)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				var e physic.Env
				if err := d.Sense(&e); err == nil {
					select {
					case ch <- e:
					case <-stop:
						return
					}
				}
			}
		}
	}()
	return ch, nil
}

// Precision implements physic.SenseEnv. It reports the step of the
// configured resolution, never finer than the hundredths the driver returns.
func (d *Dev) Precision(e *physic.Env) {
	d.mu.Lock()
	res := d.res
	d.mu.Unlock()
	rhBits, tBits := res.bits()
	t := physic.Temperature(math.Round(175.72 / float64(int(1)<<tBits) * float64(physic.Kelvin)))
	if minT := 10 * physic.MilliKelvin; t < minT {
		t = minT
	}
	h := physic.RelativeHumidity(math.Round(125.0 / float64(int(1)<<rhBits) * float64(physic.PercentRH)))
	if minH := physic.PercentRH / 100; h < minH {
		h = minH
	}
	e.Temperature = t
	e.Humidity = h
	e.Pressure = 0
}

// Halt stops a running SenseContinuous. It implements conn.Resource.
//
// Halt waits for the measurement in progress to finish. When Opts.ReadTimeout
// is NoTimeout and the sensor stopped answering, it never returns.
func (d *Dev) Halt() error {
	d.mu.Lock()
	stop := d.stop
	d.stop = nil
	d.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	d.wg.Wait()
	return nil
}

func (d *Dev) String() string {
	return d.name
}

func (d *Dev) checkPresent() error {
	if !d.present.Load() {
		return ErrNotPresent
	}
	return nil
}

// measure issues a measurement command and returns the raw count. With
// withCRC the device's checksum byte is read and verified as well.
func (d *Dev) measure(cmd byte, withCRC bool, timeout time.Duration) (uint16, error) {
	if err := d.checkPresent(); err != nil {
		return 0, err
	}
	r := make([]byte, 2, 3)
	if withCRC {
		r = r[:3]
	}
	if err := d.command([]byte{cmd}, r, timeout); err != nil {
		return 0, err
	}
	if withCRC && common.CRC8Seed(crcSeed, r[:2]) != r[2] {
		return 0, ErrChecksum
	}
	return rawValue(r), nil
}

func (d *Dev) celsiusPostHumidity(timeout time.Duration) (int, error) {
	// No checksum is sent for this command.
	raw, err := d.measure(cmdReadTempPostRH, false, timeout)
	if err != nil {
		return 0, err
	}
	return decodeTemperature(raw), nil
}

func (d *Dev) humidityBasisPoints(timeout time.Duration) (uint, error) {
	raw, err := d.measure(cmdMeasureRH, d.opts.ValidateCRC, timeout)
	if err != nil {
		return 0, err
	}
	return clampUnsigned(decodeHumidityBasisPoints(raw)), nil
}

func (d *Dev) humidityAndTemperature() (Reading, error) {
	var r Reading
	var err error
	if r.HumidityBasisPoints, err = d.humidityBasisPoints(d.opts.ReadTimeout); err != nil {
		return r, err
	}
	if r.CentiCelsius, err = d.celsiusPostHumidity(d.opts.ReadTimeout); err != nil {
		return r, err
	}
	r.CentiFahrenheit = centiFahrenheit(r.CentiCelsius)
	return r, nil
}

func (d *Dev) userRegister(timeout time.Duration) (byte, error) {
	if err := d.checkPresent(); err != nil {
		return 0, err
	}
	r := make([]byte, 1)
	if err := d.command([]byte{cmdReadUserReg}, r, timeout); err != nil {
		return 0, err
	}
	return r[0], nil
}

// command writes w and reads len(r) bytes of response.
func (d *Dev) command(w, r []byte, timeout time.Duration) error {
	if err := d.t.Write(d.opts.Addr, w); err != nil {
		return fmt.Errorf("si7021: command 0x%02x: %w", w[0], err)
	}
	if d.opts.ConversionDelay > 0 {
		time.Sleep(d.opts.ConversionDelay)
	}
	if err := d.read(r, timeout); err != nil {
		return fmt.Errorf("si7021: command 0x%02x: %w", w[0], err)
	}
	return nil
}

// read requests len(r) bytes and waits for them. A positive timeout is a
// deadline covering the request and every poll; a negative one allows a
// single check. NoTimeout waits forever.
func (d *Dev) read(r []byte, timeout time.Duration) error {
	end := time.Now().Add(timeout)
	d.t.RequestRead(d.opts.Addr, len(r))
	for d.t.Available() < len(r) {
		wait := d.opts.PollInterval
		if timeout != NoTimeout {
			left := time.Until(end)
			if left <= 0 {
				return ErrReadTimeout
			}
			wait = min(wait, left)
		}
		time.Sleep(wait)
	}
	for i := range r {
		b, err := d.t.ReadByte()
		if err != nil {
			return err
		}
		r[i] = b
	}
	return nil
}

// rawValue returns the big-endian count in the first two bytes.
func rawValue(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

// decodeTemperature converts a raw count to hundredths of a degree Celsius.
func decodeTemperature(raw uint16) int {
	return ((17572 * int(raw)) >> 16) - 4685
}

// decodeHumidityPercent converts a raw count to whole percent.
func decodeHumidityPercent(raw uint16) int {
	return ((125 * int(raw)) >> 16) - 6
}

// decodeHumidityBasisPoints converts a raw count to hundredths of a percent.
func decodeHumidityBasisPoints(raw uint16) int {
	return ((12500 * int(raw)) >> 16) - 600
}

func centiFahrenheit(centiCelsius int) int {
	return int(1.8*float64(centiCelsius) + 3200)
}

func clampUnsigned(v int) uint {
	if v < 0 {
		return 0
	}
	return uint(v)
}

func centiCelsiusToTemperature(c int) physic.Temperature {
	return physic.ZeroCelsius + physic.Temperature(c)*10*physic.MilliKelvin
}

// basisPointsToHumidity converts to physic units, limited to 0..100%.
func basisPointsToHumidity(bp uint) physic.RelativeHumidity {
	h := physic.RelativeHumidity(bp) * (physic.PercentRH / 100)
	if h > 100*physic.PercentRH {
		h = 100 * physic.PercentRH
	}
	return h
}

func formatHundredths(v int) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

var _ conn.Resource = &Dev{}
var _ physic.SenseEnv = &Dev{}
