package adapter

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/google/gousb"
	"github.com/nixxel-company-limited/ql-usb-server/qlerr"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Interface class codes
// Reference: http://www.usb.org/developers/defined_class
const (
	IfaceClassPrinter = 0x07
)

// VendorBrother is the USB vendor id of Brother Industries.
const VendorBrother = 0x04f9

// Match selects the device to open. Zero fields match anything.
type Match struct {
	Vendor  uint16
	Product uint16
	Serial  string
}

func (m Match) matches(desc *gousb.DeviceDesc) bool {
	if m.Vendor != 0 && desc.Vendor != gousb.ID(m.Vendor) {
		return false
	}
	if m.Product != 0 && desc.Product != gousb.ID(m.Product) {
		return false
	}
	return IsPrinter(desc)
}

// USBAdapter manages USB printer communication
type USBAdapter struct {
	match  Match
	logger *zap.Logger

	usb         *gousb.Context
	device      *gousb.Device
	config      *gousb.Config
	iface       *gousb.Interface
	outEndpoint *gousb.OutEndpoint
	inEndpoint  *gousb.InEndpoint
	name        string
	isOpen      bool
	mu          sync.Mutex

	eventListeners map[EventType][]func(Event)
	listenersMutex sync.RWMutex
}

// NewUSBAdapter creates an adapter for the first printer-class device
// matching m. Nothing is opened until Open.
func NewUSBAdapter(m Match, logger *zap.Logger) *USBAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &USBAdapter{
		match:          m,
		logger:         logger.Named("usb"),
		eventListeners: make(map[EventType][]func(Event)),
	}
}

// IsPrinter reports whether any configuration of the device carries a
// printer-class interface.
func IsPrinter(desc *gousb.DeviceDesc) bool {
	if desc == nil {
		return false
	}
	for _, cfg := range desc.Configs {
		if printerSetting(cfg) != nil {
			return true
		}
	}
	return false
}

func printerSetting(cfg gousb.ConfigDesc) *gousb.InterfaceSetting {
	for _, iface := range cfg.Interfaces {
		for i := range iface.AltSettings {
			if iface.AltSettings[i].Class == IfaceClassPrinter {
				return &iface.AltSettings[i]
			}
		}
	}
	return nil
}

// FindPrinters opens every device matching m. The caller owns the returned
// devices.
func FindPrinters(usb *gousb.Context, m Match) ([]*gousb.Device, error) {
	devices, err := usb.OpenDevices(m.matches)
	if err != nil && len(devices) == 0 {
		return nil, err
	}
	return devices, nil
}

// On adds an event listener
func (a *USBAdapter) On(eventType EventType, handler func(Event)) {
	a.listenersMutex.Lock()
	defer a.listenersMutex.Unlock()

	a.eventListeners[eventType] = append(a.eventListeners[eventType], handler)
}

func (a *USBAdapter) emit(event Event) {
	a.listenersMutex.RLock()
	defer a.listenersMutex.RUnlock()

	for _, handler := range a.eventListeners[event.Type] {
		go handler(event)
	}
}

// Open finds the device, selects a configuration if the device has none
// active, and claims the printer interface. Everything acquired is released
// again if any step fails.
func (a *USBAdapter) Open(ctx context.Context) (err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.isOpen {
		return errors.New("device already open")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	a.usb = gousb.NewContext()
	defer func() {
		if err != nil {
			if rerr := a.release(); rerr != nil {
				a.logger.Warn("Release after failed open", zap.Error(rerr))
			}
			a.emit(Event{Type: EventError, Device: a.name, Error: err})
		}
	}()

	if err := a.selectDevice(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Set auto-detach kernel driver on Linux
	if runtime.GOOS == "linux" {
		if err := a.device.SetAutoDetach(true); err != nil {
			a.logger.Debug("Auto-detach not supported", zap.Error(err))
		}
	}

	cfgNum, err := a.configNumber()
	if err != nil {
		return err
	}
	a.config, err = a.device.Config(cfgNum)
	if err != nil {
		return fmt.Errorf("%w: select config %d: %w", qlerr.ErrDeviceOpenFailed, cfgNum, err)
	}

	setting := printerSetting(a.config.Desc)
	if setting == nil {
		return fmt.Errorf("%w: no printer interface in config %d", qlerr.ErrInterfaceClaimFailed, cfgNum)
	}
	a.iface, err = a.config.Interface(setting.Number, setting.Alternate)
	if err != nil {
		return fmt.Errorf("%w: interface %d alt %d: %w",
			qlerr.ErrInterfaceClaimFailed, setting.Number, setting.Alternate, err)
	}

	if err := a.resolveEndpoints(); err != nil {
		return err
	}

	a.isOpen = true
	a.logger.Info("Printer opened",
		zap.String("device", a.name),
		zap.Int("config", cfgNum),
		zap.Int("interface", setting.Number),
		zap.Bool("can_read", a.inEndpoint != nil))
	a.emit(Event{Type: EventOpen, Device: a.name})

	return nil
}

func (a *USBAdapter) selectDevice() error {
	devices, err := FindPrinters(a.usb, a.match)
	if err != nil {
		return fmt.Errorf("%w: %w", qlerr.ErrDeviceOpenFailed, err)
	}

	for _, dev := range devices {
		if a.device == nil && a.serialMatches(dev) {
			a.device = dev
			continue
		}
		dev.Close()
	}
	if a.device == nil {
		return fmt.Errorf("%w: vendor %04x product %04x serial %q",
			qlerr.ErrDeviceNotFound, a.match.Vendor, a.match.Product, a.match.Serial)
	}
	a.name = a.device.String()
	return nil
}

func (a *USBAdapter) serialMatches(dev *gousb.Device) bool {
	if a.match.Serial == "" {
		return true
	}
	s, err := dev.SerialNumber()
	return err == nil && s == a.match.Serial
}

// configNumber returns the active configuration, or the lowest numbered one
// carrying a printer interface when the device is unconfigured.
func (a *USBAdapter) configNumber() (int, error) {
	if n, err := a.device.ActiveConfigNum(); err == nil && n > 0 {
		return n, nil
	}

	var nums []int
	for n, cfg := range a.device.Desc.Configs {
		if printerSetting(cfg) != nil {
			nums = append(nums, n)
		}
	}
	if len(nums) == 0 {
		return 0, fmt.Errorf("%w: device has no printer configuration", qlerr.ErrDeviceOpenFailed)
	}
	sort.Ints(nums)
	a.logger.Debug("No active configuration, selecting one", zap.Int("config", nums[0]))
	return nums[0], nil
}

func (a *USBAdapter) resolveEndpoints() error {
	for _, epDesc := range a.iface.Setting.Endpoints {
		if epDesc.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if epDesc.Direction == gousb.EndpointDirectionOut && a.outEndpoint == nil {
			if ep, err := a.iface.OutEndpoint(epDesc.Number); err == nil {
				a.outEndpoint = ep
			}
		}
		if epDesc.Direction == gousb.EndpointDirectionIn && a.inEndpoint == nil {
			if ep, err := a.iface.InEndpoint(epDesc.Number); err == nil {
				a.inEndpoint = ep
			}
		}
	}

	if a.outEndpoint == nil {
		return fmt.Errorf("%w: no bulk OUT endpoint", qlerr.ErrInterfaceClaimFailed)
	}
	return nil
}

// Write sends data to the printer
func (a *USBAdapter) Write(ctx context.Context, data []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return 0, errors.New("device not open")
	}

	n, err := a.outEndpoint.WriteContext(ctx, data)
	if err != nil {
		return n, fmt.Errorf("write failed: %w", err)
	}

	return n, nil
}

// Read reads data from the printer
func (a *USBAdapter) Read(ctx context.Context, buf []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return 0, errors.New("device not open")
	}

	if a.inEndpoint == nil {
		return 0, errors.New("input endpoint not available")
	}

	n, err := a.inEndpoint.ReadContext(ctx, buf)
	if err != nil {
		return n, fmt.Errorf("read failed: %w", err)
	}

	return n, nil
}

// Close releases the interface, the configuration and the device.
func (a *USBAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	wasOpen := a.isOpen
	err := a.release()
	if wasOpen {
		a.logger.Info("Printer released", zap.String("device", a.name), zap.Error(err))
		a.emit(Event{Type: EventClose, Device: a.name, Error: err})
	}
	return err
}

// release closes whatever is held, in reverse order of acquisition.
func (a *USBAdapter) release() error {
	var err error

	if a.iface != nil {
		a.iface.Close()
	}
	if a.config != nil {
		err = multierr.Append(err, a.config.Close())
	}
	if a.device != nil {
		err = multierr.Append(err, a.device.Close())
	}
	if a.usb != nil {
		err = multierr.Append(err, a.usb.Close())
	}

	a.iface, a.config, a.device, a.usb = nil, nil, nil, nil
	a.outEndpoint, a.inEndpoint = nil, nil
	a.isOpen = false
	return err
}

// IsOpen returns whether the device is open
func (a *USBAdapter) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isOpen
}

func (a *USBAdapter) CanRead() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inEndpoint != nil
}

// TransferStatus names the outcome of a failed bulk transfer.
func TransferStatus(err error) string {
	if err == nil {
		return "ok"
	}
	var ts gousb.TransferStatus
	if errors.As(err, &ts) {
		return ts.String()
	}
	var ue gousb.Error
	if errors.As(err, &ue) {
		return ue.Error()
	}
	return err.Error()
}
