// Package config loads the TOML configuration files for the Controller
// and the Agent.
package config

import (
	"net"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/bnavetta/samwise/internal/id"
	"github.com/bnavetta/samwise/internal/samerr"
)

// TargetConfig is one entry in a device's target map.
type TargetConfig struct {
	MenuEntry string `toml:"menu_entry"`
}

// DeviceConfig describes one device the Controller manages.
type DeviceConfig struct {
	Agent      string                  `toml:"agent"`
	Interface  string                  `toml:"interface"`
	MACAddress string                  `toml:"mac_address"`
	GrubConfig string                  `toml:"grub_config"`
	Targets    map[string]TargetConfig `toml:"targets"`
}

// ControllerConfig is the top-level Controller configuration file.
type ControllerConfig struct {
	Devices          map[string]DeviceConfig `toml:"devices"`
	DefaultInterface string                  `toml:"default_interface"`
	TFTPDirectory    string                  `toml:"tftp_directory"`
}

// AgentConfig is the top-level Agent configuration file.
type AgentConfig struct {
	ListenAddress   string   `toml:"listen_address"`
	TargetName      string   `toml:"target_name"`
	RebootCommand   []string `toml:"reboot_command"`
	ShutdownCommand []string `toml:"shutdown_command"`
	SuspendCommand  []string `toml:"suspend_command"`
}

// LoadControllerConfig reads and validates a Controller TOML file.
func LoadControllerConfig(path string) (*ControllerConfig, error) {
	var cfg ControllerConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, samerr.Wrap(samerr.KindConfigInvalid, err, "parsing controller config "+path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadAgentConfig reads an Agent TOML file. Command vectors are left as
// configured; defaulting happens in internal/agentserver since defaults
// are platform-dependent.
func LoadAgentConfig(path string) (*AgentConfig, error) {
	var cfg AgentConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, samerr.Wrap(samerr.KindConfigInvalid, err, "parsing agent config "+path)
	}
	if cfg.ListenAddress == "" {
		return nil, samerr.New(samerr.KindConfigInvalid, "listen_address is required")
	}
	if cfg.TargetName == "" {
		return nil, samerr.New(samerr.KindConfigInvalid, "target_name is required")
	}
	return &cfg, nil
}

// Validate checks structural invariants: device ids are alphanumeric,
// MAC addresses parse, and every grub_config file exists under
// tftp_directory. It does not require every target referenced
// elsewhere to exist (targets are validated against action requests at
// dispatch time, per samerr.KindUnknownTarget).
func (c *ControllerConfig) Validate() error {
	if c.TFTPDirectory == "" {
		return samerr.New(samerr.KindConfigInvalid, "tftp_directory is required")
	}
	for name, dev := range c.Devices {
		if _, err := id.ParseDeviceId(name); err != nil {
			return samerr.Wrap(samerr.KindConfigInvalid, err, "device id "+name)
		}
		if dev.Agent == "" {
			return samerr.New(samerr.KindConfigInvalid, "device "+name+": agent is required")
		}
		if _, err := net.ParseMAC(dev.MACAddress); err != nil {
			return samerr.Wrap(samerr.KindConfigInvalid, err, "device "+name+": mac_address")
		}
		if dev.GrubConfig == "" {
			return samerr.New(samerr.KindConfigInvalid, "device "+name+": grub_config is required")
		}
		full := filepath.Join(c.TFTPDirectory, dev.GrubConfig)
		if _, err := os.Stat(full); err != nil {
			return samerr.Wrap(samerr.KindConfigInvalid, err, "device "+name+": grub_config file "+full)
		}
		for tname := range dev.Targets {
			if tname == "" {
				return samerr.New(samerr.KindConfigInvalid, "device "+name+": target name must be non-empty")
			}
		}
	}
	return nil
}

// InterfaceFor returns the interface name to use for a device, applying
// the default_interface fallback.
func (c *ControllerConfig) InterfaceFor(dev DeviceConfig) string {
	if dev.Interface != "" {
		return dev.Interface
	}
	return c.DefaultInterface
}

// HardwareAddr parses a device's configured MAC address.
func (d DeviceConfig) HardwareAddr() (net.HardwareAddr, error) {
	mac, err := net.ParseMAC(d.MACAddress)
	if err != nil {
		return nil, errors.Wrap(err, "invalid mac_address")
	}
	return mac, nil
}
