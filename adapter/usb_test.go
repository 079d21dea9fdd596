package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/gousb"
	"github.com/nixxel-company-limited/ql-usb-server/qlerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func printerDesc(vendor, product gousb.ID, class gousb.Class) *gousb.DeviceDesc {
	return &gousb.DeviceDesc{
		Vendor:  vendor,
		Product: product,
		Configs: map[int]gousb.ConfigDesc{
			1: {
				Number: 1,
				Interfaces: []gousb.InterfaceDesc{
					{
						Number: 0,
						AltSettings: []gousb.InterfaceSetting{
							{Number: 0, Alternate: 0, Class: class},
						},
					},
				},
			},
		},
	}
}

// openBrother opens the first attached Brother printer or skips the test.
func openBrother(t *testing.T) *USBAdapter {
	t.Helper()
	a := NewUSBAdapter(Match{Vendor: VendorBrother}, zaptest.NewLogger(t))
	err := a.Open(context.Background())
	if errors.Is(err, qlerr.ErrDeviceNotFound) {
		t.Skip("No USB printer found, skipping test")
	}
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestIsPrinter(t *testing.T) {
	t.Run("NilDevice", func(t *testing.T) {
		assert.False(t, IsPrinter(nil))
	})

	t.Run("PrinterClass", func(t *testing.T) {
		assert.True(t, IsPrinter(printerDesc(VendorBrother, 0x209b, IfaceClassPrinter)))
	})

	t.Run("OtherClass", func(t *testing.T) {
		assert.False(t, IsPrinter(printerDesc(VendorBrother, 0x209b, gousb.ClassHID)))
	})
}

func TestMatch(t *testing.T) {
	ql := printerDesc(VendorBrother, 0x209b, IfaceClassPrinter)

	assert.True(t, Match{}.matches(ql))
	assert.True(t, Match{Vendor: VendorBrother}.matches(ql))
	assert.True(t, Match{Vendor: VendorBrother, Product: 0x209b}.matches(ql))
	assert.False(t, Match{Vendor: VendorBrother, Product: 0x2042}.matches(ql))
	assert.False(t, Match{Vendor: 0x04b8}.matches(ql))
	assert.False(t, Match{Vendor: VendorBrother}.matches(printerDesc(VendorBrother, 0x209b, gousb.ClassHID)))
}

func TestTransferStatus(t *testing.T) {
	assert.Equal(t, "ok", TransferStatus(nil))
	assert.Equal(t, gousb.TransferStall.String(),
		TransferStatus(fmt.Errorf("write failed: %w", gousb.TransferStall)))
	assert.Equal(t, "boom", TransferStatus(errors.New("boom")))
}

func TestUSBAdapterClosedState(t *testing.T) {
	a := NewUSBAdapter(Match{Vendor: VendorBrother}, nil)

	assert.False(t, a.IsOpen())
	assert.False(t, a.CanRead())

	_, err := a.Write(context.Background(), []byte{0x1B, 0x40})
	assert.ErrorContains(t, err, "not open")

	_, err = a.Read(context.Background(), make([]byte, 32))
	assert.ErrorContains(t, err, "not open")

	// closing an adapter that never opened is a no-op
	assert.NoError(t, a.Close())
}

func TestUSBAdapterOpenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := NewUSBAdapter(Match{Vendor: VendorBrother}, nil)
	err := a.Open(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, a.IsOpen())
}

func TestUSBAdapterOpenClose(t *testing.T) {
	a := openBrother(t)
	assert.True(t, a.IsOpen())

	// Test double open
	err := a.Open(context.Background())
	assert.ErrorContains(t, err, "already open")

	// Test Close
	require.NoError(t, a.Close())
	assert.False(t, a.IsOpen())

	// Test double close (should not error)
	assert.NoError(t, a.Close())
}

func TestUSBAdapterStatusRoundTrip(t *testing.T) {
	a := openBrother(t)
	if !a.CanRead() {
		t.Skip("Printer has no IN endpoint")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := a.Write(ctx, []byte{0x1B, 0x69, 0x53})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Test read (may come back short if the printer is slow to answer)
	buf := make([]byte, 32)
	_, _ = a.Read(ctx, buf)
}

func TestUSBAdapterEventListeners(t *testing.T) {
	a := NewUSBAdapter(Match{Vendor: VendorBrother}, zaptest.NewLogger(t))

	var opened, closed, failed atomic.Bool
	a.On(EventOpen, func(e Event) {
		opened.Store(true)
		assert.Equal(t, EventOpen, e.Type)
		assert.NotEmpty(t, e.Device)
	})
	a.On(EventClose, func(e Event) { closed.Store(true) })
	a.On(EventError, func(e Event) {
		failed.Store(true)
		assert.Error(t, e.Error)
	})

	// Open should trigger open or error event
	err := a.Open(context.Background())
	if err != nil {
		assert.Eventually(t, failed.Load, time.Second, 10*time.Millisecond)
		assert.False(t, a.IsOpen())
		return
	}

	// Close should trigger close event
	require.NoError(t, a.Close())
	assert.Eventually(t, func() bool {
		return opened.Load() && closed.Load()
	}, time.Second, 10*time.Millisecond, "All events should have been triggered")
}
