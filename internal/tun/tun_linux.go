package tun

import (
	"fmt"
	"net"

	"github.com/songgao/water"
	"github.com/vishvananda/netlink"
)

func platformConfig(cfg Config) water.Config {
	c := water.Config{DeviceType: water.TUN}
	c.Name = cfg.Name
	return c
}

// configure assigns the address, sets the MTU and brings the link up.
// This requires CAP_NET_ADMIN.
func configure(name string, cfg Config) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("link %s not found: %w", name, err)
	}

	if err := netlink.LinkSetMTU(link, cfg.MTU); err != nil {
		return fmt.Errorf("failed to set mtu on %s: %w", name, err)
	}

	ip := cfg.Addr.Addr().AsSlice()
	addr := &netlink.Addr{IPNet: &net.IPNet{
		IP:   ip,
		Mask: net.CIDRMask(cfg.Addr.Bits(), len(ip)*8),
	}}
	if err := netlink.AddrReplace(link, addr); err != nil {
		return fmt.Errorf("failed to add address %s to %s: %w", cfg.Addr, name, err)
	}

	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("failed to bring up %s: %w", name, err)
	}
	return nil
}
