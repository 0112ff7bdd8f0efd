package main

import (
	"os"
	"path/filepath"
	"testing"

	assertion "github.com/stretchr/testify/assert"

	"vmm"
)

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "vmm.toml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	assert := assertion.New(t)
	cfg, err := loadConfig("")
	assert.NoError(err)
	assert.Equal(defaultConfig(), cfg)

	path := writeConfig(t, `
frames = 8
swap_sectors = 256
compression = "snappy"
evictor = "fifo"
log_level = "warn"
`)
	cfg, err = loadConfig(path)
	assert.NoError(err)
	assert.Equal(8, cfg.Frames)
	assert.Equal(uint32(256), cfg.SwapSectors)
	assert.Equal("snappy", cfg.Compression)
	assert.Equal(vmm.DefaultMaxStackSize, cfg.MaxStackSize)

	vm, c, err := cfg.open()
	assert.NoError(err)
	assert.Equal(8, vm.Stats().FreeFrames)
	assert.Equal(32, vm.Swap().Slots())
	assert.NoError(c.Close())

	_, err = loadConfig(writeConfig(t, "frames = ["))
	assert.Error(err)
}

func TestConfigSwapImage(t *testing.T) {
	assert := assertion.New(t)
	cfg := defaultConfig()
	cfg.Frames = 2
	cfg.SwapSectors = 32 * vmm.SectorsPerPage
	cfg.SwapImage = filepath.Join(t.TempDir(), "swap.img")
	vm, c, err := cfg.open()
	assert.NoError(err)
	assert.NoError(runDemo(vm, 3))

	// the image stays locked while the vm is open
	_, _, err = cfg.open()
	assert.Error(err)
	assert.NoError(c.Close())
}

func TestConfigInvalid(t *testing.T) {
	assert := assertion.New(t)
	for _, mutate := range []func(*Config){
		func(c *Config) { c.LogLevel = "loud" },
		func(c *Config) { c.Compression = "zip" },
		func(c *Config) { c.Evictor = "lru" },
		func(c *Config) { c.Frames = 0 },
	} {
		cfg := defaultConfig()
		mutate(cfg)
		_, _, err := cfg.open()
		assert.Error(err)
	}
}
