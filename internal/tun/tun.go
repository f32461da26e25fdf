// Package tun opens and configures the TUN device that carries the virtual
// subnet. The relay core only sees it as an io.ReadWriteCloser of whole packets.
package tun

import (
	"fmt"
	"net/netip"

	"github.com/songgao/water"

	"github.com/1ureka/dprox/internal/protocol"
	"github.com/1ureka/dprox/internal/util"
)

// DefaultMTU leaves room for the outer IPv4 + UDP headers and the discriminator.
const DefaultMTU = 1400

// Config describes the device to create.
type Config struct {
	Name string       // requested interface name; empty lets the OS choose
	Addr netip.Prefix // node address with subnet length, e.g. 10.0.0.7/24
	MTU  int
}

// Device is an open TUN interface.
type Device struct {
	ifce *water.Interface
}

// Open creates the TUN device, assigns its address and brings it up.
// The device is closed again if configuration fails.
func Open(cfg Config) (*Device, error) {
	ifce, err := water.New(platformConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create TUN interface: %w", err)
	}

	if cfg.MTU <= 0 {
		cfg.MTU = DefaultMTU
	}
	if err := configure(ifce.Name(), cfg); err != nil {
		_ = ifce.Close() // Rollback
		return nil, err
	}

	util.LogInfo("TUN %s up with %s (mtu %d)", ifce.Name(), cfg.Addr, cfg.MTU)
	return &Device{ifce: ifce}, nil
}

// Name returns the interface name chosen by the OS.
func (d *Device) Name() string { return d.ifce.Name() }

// Read reads one packet.
func (d *Device) Read(p []byte) (int, error) { return d.ifce.Read(p) }

// Write writes one packet.
func (d *Device) Write(p []byte) (int, error) { return d.ifce.Write(p) }

// Close releases the device.
func (d *Device) Close() error { return d.ifce.Close() }

// AddrFor returns the address of node id on subnet: the subnet's network
// address with id as the last octet.
func AddrFor(subnet netip.Prefix, id protocol.NodeID) (netip.Prefix, error) {
	if !subnet.Addr().Is4() {
		return netip.Prefix{}, fmt.Errorf("subnet %s is not IPv4", subnet)
	}
	if subnet.Bits() > 24 {
		return netip.Prefix{}, fmt.Errorf("subnet %s is narrower than /24", subnet)
	}
	if !id.Valid() {
		return netip.Prefix{}, fmt.Errorf("invalid node id %d", id)
	}
	b := subnet.Masked().Addr().As4()
	b[3] = byte(id)
	return netip.PrefixFrom(netip.AddrFrom4(b), subnet.Bits()), nil
}
