//go:build !linux

package tun

import (
	"github.com/songgao/water"

	"github.com/1ureka/dprox/internal/util"
)

func platformConfig(Config) water.Config {
	return water.Config{DeviceType: water.TUN}
}

// configure is only automated on Linux; elsewhere the operator assigns the
// address, e.g. `ifconfig utun3 10.0.0.7 10.0.0.7 up`.
func configure(name string, cfg Config) error {
	util.LogWarning("assign %s to %s manually and bring it up", cfg.Addr, name)
	return nil
}
