package main

import (
	"io"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"vmm"
)

// Config is the TOML configuration of the vmm command.
type Config struct {
	Frames      int    `toml:"frames"`
	SwapSectors uint32 `toml:"swap_sectors"`

	// SwapImage puts swap in a host file instead of memory.
	SwapImage         string `toml:"swap_image"`
	Compression       string `toml:"compression"`
	Evictor           string `toml:"evictor"`
	MaxStackSize      int    `toml:"max_stack_size"`
	PanicOnExhaustion bool   `toml:"panic_on_exhaustion"`
	LogLevel          string `toml:"log_level"`
}

func defaultConfig() *Config {
	return &Config{
		Frames:       vmm.DefaultOptions.Frames,
		SwapSectors:  vmm.DefaultOptions.SwapSectors,
		Compression:  "none",
		Evictor:      "clock",
		MaxStackSize: vmm.DefaultMaxStackSize,
		LogLevel:     "info",
	}
}

// loadConfig reads path over the defaults. An empty path yields the defaults.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// open builds a VM from the config. The returned closer releases the VM and
// the swap image.
func (c *Config) open() (*vmm.VM, io.Closer, error) {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, nil, errors.Wrap(err, "log_level")
	}
	logger := log.New()
	logger.SetLevel(level)

	alg, ok := vmm.ParseCompressAlgorithm(c.Compression)
	if !ok {
		return nil, nil, errors.Errorf("unknown compression %q", c.Compression)
	}
	opts := &vmm.Options{
		Frames:            c.Frames,
		SwapSectors:       c.SwapSectors,
		SwapCompression:   alg,
		MaxStackSize:      c.MaxStackSize,
		PanicOnExhaustion: c.PanicOnExhaustion,
		Logger:            logger,
	}
	switch c.Evictor {
	case "", "clock":
		opts.Evictor = vmm.NewClockEvictor()
	case "fifo":
		opts.Evictor = vmm.NewFIFOEvictor()
	default:
		return nil, nil, errors.Errorf("unknown evictor %q", c.Evictor)
	}

	var disk *vmm.FileDisk
	if c.SwapImage != "" {
		disk, err = vmm.OpenFileDisk(c.SwapImage, c.SwapSectors, 0)
		if err != nil {
			return nil, nil, err
		}
		opts.SwapDevice = disk
	}
	vm, err := vmm.Open(opts)
	if err != nil {
		if disk != nil {
			_ = disk.Close()
		}
		return nil, nil, err
	}
	return vm, closer{vm, disk}, nil
}

type closer struct {
	vm   *vmm.VM
	disk *vmm.FileDisk
}

func (c closer) Close() error {
	err := c.vm.Close()
	if c.disk != nil {
		if derr := c.disk.Close(); err == nil {
			err = derr
		}
	}
	return err
}
