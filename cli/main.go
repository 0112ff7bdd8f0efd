package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"vmm"
)

var (
	configPath  = flag.String("config", "", "TOML config file")
	frames      = flag.Int("frames", 0, "override the number of frames")
	swapSectors = flag.Uint("swap-sectors", 0, "override the swap size in sectors")
	logLevel    = flag.String("log-level", "", "override the log level")
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(&demoCmd{}, "")
	subcommands.Register(&mmapCmd{}, "")
	subcommands.Register(&stressCmd{}, "")

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}

// openVM loads the config and applies the global flag overrides.
func openVM() (*vmm.VM, func(), error) {
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return nil, nil, err
	}
	if *frames > 0 {
		cfg.Frames = *frames
	}
	if *swapSectors > 0 {
		cfg.SwapSectors = uint32(*swapSectors)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	vm, c, err := cfg.open()
	if err != nil {
		return nil, nil, err
	}
	return vm, func() {
		if err := c.Close(); err != nil {
			fmt.Fprintln(os.Stderr, "close:", err)
		}
	}, nil
}

func printStats(vm *vmm.VM) {
	s := vm.Stats()
	fmt.Printf("evictions=%d swap_ins=%d swap_outs=%d writebacks=%d resident=%d free=%d swap_used=%d\n",
		s.Evictions, s.SwapIns, s.SwapOuts, s.Writebacks, s.ResidentFrames, s.FreeFrames, s.SwapSlotsUsed)
}

func fail(err error) subcommands.ExitStatus {
	fmt.Fprintln(os.Stderr, err)
	return subcommands.ExitFailure
}
