// Package peripheral composes the GATT services of the device on a BLE stack
// and binds them to the control point, broadcast and firmware update engines.
package peripheral

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/user/ergo-blue/ble"
	"github.com/user/ergo-blue/broadcast"
	"github.com/user/ergo-blue/controlpoint"
	"github.com/user/ergo-blue/device"
	"github.com/user/ergo-blue/logger"
	"github.com/user/ergo-blue/ota"
	"github.com/user/ergo-blue/settings"
	"github.com/user/ergo-blue/wire/chunk"
	"github.com/user/ergo-blue/wire/gatt"
)

var (
	ErrComposed       = errors.New("peripheral: services already composed")
	ErrUnknownProfile = errors.New("peripheral: unknown profile")
	errUnbound        = errors.New("peripheral: characteristic not bound yet")
)

// SensorLocationOther is the Sensor Location value the device reports
const SensorLocationOther = 0x00

// InitialBatteryLevel is exposed until the first battery broadcast
const InitialBatteryLevel = 100

// Parts are the engines the composed services are bound to
type Parts struct {
	Register     settings.Register
	Features     settings.Features
	Info         device.Info
	Router       *broadcast.Router
	Session      *ota.Session
	Restarter    device.Restarter
	RestartDelay time.Duration
}

// Composition describes what Compose built
type Composition struct {
	Profile      settings.Profile
	Name         string
	Services     []uuid.UUID
	Dispatcher   *controlpoint.Dispatcher
	HandleForces *chunk.Notifier
	DeltaTimes   *chunk.Notifier // nil without delta time logging
}

// Composer builds the service table once per boot
type Composer struct {
	stack ble.Stack
	name  string
	parts Parts

	mu       sync.Mutex
	composed bool

	forces gatt.SubscriberSet
	deltas gatt.SubscriberSet
}

// NewComposer creates a composer advertising as name
func NewComposer(stack ble.Stack, name string, parts Parts) *Composer {
	return &Composer{stack: stack, name: name, parts: parts}
}

// binding forwards to a characteristic that only exists once its service
// has been added
type binding struct {
	mu sync.RWMutex
	c  ble.Characteristic
}

func (b *binding) bind(c ble.Characteristic) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.c = c
}

func (b *binding) get() ble.Characteristic {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.c
}

func (b *binding) Indicate(value []byte) error {
	c := b.get()
	if c == nil {
		return errUnbound
	}
	return c.Indicate(value)
}

func (b *binding) Notify(value []byte) error {
	c := b.get()
	if c == nil {
		return errUnbound
	}
	return c.Notify(value)
}

// AdvertisedName is the name the device advertises for profile
func AdvertisedName(name string, profile settings.Profile) string {
	return fmt.Sprintf("%s (%s)", name, profile)
}

// Compose adds the services for profile, sets up the router and starts
// advertising. A device composes once; a profile change takes a restart.
func (c *Composer) Compose(profile settings.Profile) (Composition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.composed {
		return Composition{}, ErrComposed
	}
	if !profile.Valid() {
		return Composition{}, fmt.Errorf("%w %d", ErrUnknownProfile, profile)
	}

	p := c.parts
	dispatcher := controlpoint.NewDispatcher(p.Register, profile, p.Router, p.Restarter, p.RestartDelay)
	comp := Composition{Profile: profile, Dispatcher: dispatcher}
	var chars broadcast.Characteristics

	add := func(svc ble.ServiceConfig) ([]ble.Characteristic, error) {
		out, err := c.stack.AddService(svc)
		if err != nil {
			return nil, fmt.Errorf("peripheral: add service %s: %w", svc.UUID, err)
		}
		comp.Services = append(comp.Services, svc.UUID)
		return out, nil
	}

	// Measurement service of the active profile
	var profileCP binding
	svc, index := measurementService(profile, dispatcher.WriteHandler(&profileCP))
	measurement, err := add(svc)
	if err != nil {
		return Composition{}, err
	}
	chars.Measurement = measurement[index]
	profileCP.bind(measurement[len(measurement)-1])

	if _, err := add(deviceInfoService(p.Info)); err != nil {
		return Composition{}, err
	}

	battery, err := add(ble.ServiceConfig{
		UUID: ble.BatteryServiceUUID,
		Characteristics: []ble.CharacteristicConfig{
			{UUID: ble.BatteryLevelUUID, Properties: ble.PropRead | ble.PropNotify, Value: []byte{InitialBatteryLevel}},
		},
	})
	if err != nil {
		return Composition{}, err
	}
	chars.Battery = battery[0]

	var settingsCP binding
	snap := p.Register.Snapshot()
	settingsChars, err := add(ble.ServiceConfig{
		UUID: ble.SettingsServiceUUID,
		Characteristics: []ble.CharacteristicConfig{
			{
				UUID:       ble.SettingsUUID,
				Properties: ble.PropRead | ble.PropNotify,
				Value:      settings.EncodeCharacteristic(snap, p.Features),
			},
			{
				UUID:       ble.StrokeSettingsUUID,
				Properties: ble.PropRead | ble.PropNotify,
				Value:      settings.EncodeStrokeDetection(snap.StrokeDetection, p.Features.DoublePrecision),
			},
			{
				UUID:       ble.SettingsControlPointUUID,
				Properties: ble.PropWrite | ble.PropIndicate,
				OnWrite:    dispatcher.WriteHandler(&settingsCP),
			},
		},
	})
	if err != nil {
		return Composition{}, err
	}
	chars.Settings, chars.StrokeSettings = settingsChars[0], settingsChars[1]
	settingsCP.bind(settingsChars[2])

	extended := ble.ServiceConfig{
		UUID: ble.ExtendedMetricsServiceUUID,
		Characteristics: []ble.CharacteristicConfig{
			{UUID: ble.ExtendedMetricsUUID, Properties: ble.PropNotify},
			{UUID: ble.HandleForcesUUID, Properties: ble.PropNotify, OnSubscribe: c.track(&c.forces)},
		},
	}
	if p.Features.DeltaTimeLogging {
		extended.Characteristics = append(extended.Characteristics,
			ble.CharacteristicConfig{UUID: ble.DeltaTimesUUID, Properties: ble.PropNotify, OnSubscribe: c.track(&c.deltas)})
	}
	extendedChars, err := add(extended)
	if err != nil {
		return Composition{}, err
	}
	chars.Extended = extendedChars[0]
	comp.HandleForces = chunk.NewNotifier("handle forces", extendedChars[1], &c.forces, c.stack, chunk.Float32Size)
	chars.HandleForces = comp.HandleForces
	if p.Features.DeltaTimeLogging {
		comp.DeltaTimes = chunk.NewNotifier("delta times", extendedChars[2], &c.deltas, c.stack, chunk.Uint32Size)
		chars.DeltaTimes = comp.DeltaTimes
	}

	var tx binding
	otaChars, err := add(ble.ServiceConfig{
		UUID: ble.OTAServiceUUID,
		Characteristics: []ble.CharacteristicConfig{
			{
				UUID:       ble.OTARxUUID,
				Properties: ble.PropWrite | ble.PropWriteNoResponse,
				OnWrite:    p.Session.WriteHandler(&tx, c.stack),
			},
			{UUID: ble.OTATxUUID, Properties: ble.PropNotify | ble.PropIndicate},
		},
	})
	if err != nil {
		return Composition{}, err
	}
	tx.bind(otaChars[1])

	c.stack.SetConnectHandler(c.connectionChanged)
	p.Router.Setup(profile, chars)

	comp.Name = AdvertisedName(c.name, profile)
	if err := c.stack.StartAdvertising(comp.Name, comp.Services); err != nil {
		return Composition{}, fmt.Errorf("peripheral: advertise: %w", err)
	}

	c.composed = true
	logger.Info("PERIPHERAL", "composed %d services for %v, advertising as %q", len(comp.Services), profile, comp.Name)
	return comp, nil
}

// track keeps a chunked characteristic's subscriber set in step with its CCCD
func (c *Composer) track(set *gatt.SubscriberSet) ble.SubscribeHandler {
	return func(conn ble.ConnHandle, notify, indicate bool) {
		set.Update(conn, notify)
		logger.Trace("PERIPHERAL", "conn %d chunk subscription notify=%v (%d subscribers)", conn, notify, set.Len())
	}
}

func (c *Composer) connectionChanged(conn ble.ConnHandle, connected bool) {
	if connected {
		logger.Info("PERIPHERAL", "conn %d connected", conn)
		return
	}
	c.forces.Remove(conn)
	c.deltas.Remove(conn)
	logger.Info("PERIPHERAL", "conn %d disconnected", conn)
}

// measurementService returns the profile service and the index of its
// measurement characteristic. The control point is always last.
func measurementService(profile settings.Profile, onControl ble.WriteHandler) (ble.ServiceConfig, int) {
	feature := broadcast.FeatureValue(profile)
	location := []byte{SensorLocationOther}

	switch profile {
	case settings.ProfileCSC:
		return ble.ServiceConfig{
			UUID: ble.CyclingSpeedCadenceUUID,
			Characteristics: []ble.CharacteristicConfig{
				{UUID: ble.CSCMeasurementUUID, Properties: ble.PropNotify},
				{UUID: ble.CSCFeatureUUID, Properties: ble.PropRead, Value: feature},
				{UUID: ble.SensorLocationUUID, Properties: ble.PropRead, Value: location},
				{UUID: ble.SCControlPointUUID, Properties: ble.PropWrite | ble.PropIndicate, OnWrite: onControl},
			},
		}, 0
	case settings.ProfileCPS:
		return ble.ServiceConfig{
			UUID: ble.CyclingPowerServiceUUID,
			Characteristics: []ble.CharacteristicConfig{
				{UUID: ble.CPMeasurementUUID, Properties: ble.PropNotify},
				{UUID: ble.CPFeatureUUID, Properties: ble.PropRead, Value: feature},
				{UUID: ble.SensorLocationUUID, Properties: ble.PropRead, Value: location},
				{UUID: ble.CPControlPointUUID, Properties: ble.PropWrite | ble.PropIndicate, OnWrite: onControl},
			},
		}, 0
	default:
		return ble.ServiceConfig{
			UUID: ble.FitnessMachineServiceUUID,
			Characteristics: []ble.CharacteristicConfig{
				{UUID: ble.FitnessMachineFeature, Properties: ble.PropRead, Value: feature},
				{UUID: ble.RowerDataUUID, Properties: ble.PropNotify},
				{UUID: ble.FTMSControlPointUUID, Properties: ble.PropWrite | ble.PropIndicate, OnWrite: onControl},
			},
		}, 1
	}
}

func deviceInfoService(info device.Info) ble.ServiceConfig {
	return ble.ServiceConfig{
		UUID: ble.DeviceInfoServiceUUID,
		Characteristics: []ble.CharacteristicConfig{
			{UUID: ble.ManufacturerNameUUID, Properties: ble.PropRead, Value: []byte(info.Manufacturer)},
			{UUID: ble.ModelNumberUUID, Properties: ble.PropRead, Value: []byte(info.Model)},
			{UUID: ble.SerialNumberUUID, Properties: ble.PropRead, Value: []byte(info.Serial)},
			{UUID: ble.FirmwareRevisionUUID, Properties: ble.PropRead, Value: []byte(info.FirmwareRevision)},
		},
	}
}
