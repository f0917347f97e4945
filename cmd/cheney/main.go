// Cheney CLI - assembles, disassembles and runs register programs on a
// copying-collected heap.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/cheney/asm"
	"github.com/chazu/cheney/config"
	"github.com/chazu/cheney/image"
	"github.com/chazu/cheney/memory"
	"github.com/chazu/cheney/vm"
)

func main() {
	configPath := flag.String("config", "", "Path to cheney.toml (default: search upward from the working directory)")
	verbosity := flag.Int("v", 0, "Log verbosity (-1 warnings, 0 notices, 1 info, 2 debug)")
	logFile := flag.String("log", "", "Write logs to this file instead of stderr")
	var heapSize, lowWater config.ByteSize
	flag.Var(&heapSize, "heap", "Semispace size, e.g. 1MiB")
	flag.Var(&lowWater, "low-water", "Collect when free space drops below this, e.g. 128KiB")
	allowGrowth := flag.Bool("allow-growth", false, "Let the live set grow between collections instead of failing")
	gcStress := flag.Bool("gc-stress", false, "Collect at every safe point")
	disasm := flag.Bool("disasm", false, "Print a disassembly instead of running")
	output := flag.String("o", "", "Write the assembled image to this file instead of running")
	stats := flag.Bool("stats", false, "Print heap statistics after the run")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cheney [options] program.casm|program.chny\n\n")
		fmt.Fprintf(os.Stderr, "Runs a program's entry method and exits with its result when that is a small integer.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  cheney fib.casm                  # Assemble and run\n")
		fmt.Fprintf(os.Stderr, "  cheney -o fib.chny fib.casm      # Assemble to an image\n")
		fmt.Fprintf(os.Stderr, "  cheney -disasm fib.chny          # List an image\n")
		fmt.Fprintf(os.Stderr, "  cheney -heap 64KiB -stats fib.casm\n")
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatalf("%v", err)
	}

	// Flags given on the command line override the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "v":
			cfg.Log.Verbosity = *verbosity
		case "log":
			cfg.Log.File = *logFile
		case "heap":
			cfg.Heap.Size = heapSize
		case "low-water":
			cfg.Heap.LowWaterMark = lowWater
		case "allow-growth":
			cfg.Heap.AllowGrowth = *allowGrowth
		case "gc-stress":
			cfg.Scheduler.GCStress = *gcStress
		}
	})
	if err := cfg.Validate(); err != nil {
		fatalf("%v", err)
	}

	var path *string
	if cfg.Log.File != "" {
		path = &cfg.Log.File
	}
	commonlog.Configure(cfg.Log.Verbosity, path)
	log := commonlog.GetLogger("cheney.cli")
	if cfg.Path != "" {
		log.Infof("using config %s", cfg.Path)
	}

	p, err := loadProgram(flag.Arg(0))
	if err != nil {
		fatalf("%v", err)
	}
	log.Infof("loaded %s: %d methods, entry %s", flag.Arg(0), len(p.Methods), p.Entry)

	switch {
	case *output != "":
		if err := image.WriteFile(*output, p); err != nil {
			fatalf("%v", err)
		}
		return
	case *disasm:
		fmt.Print(vm.Disassemble(p))
		return
	}

	os.Exit(run(cfg, p, *stats))
}

func run(cfg *config.Config, p *image.Program, stats bool) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := cfg.RuntimeOptions()
	opts = append(opts, vm.WithHeapOptions(memory.WithOutOfMemory(func(err *memory.OutOfMemoryError) {
		fatalf("%v", err)
	})))
	rt := vm.New(opts...)
	defer rt.Close()

	if err := rt.Load(p); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	result, err := rt.RunMain(ctx)
	if stats {
		fmt.Fprintln(os.Stderr, rt.Heap().Stats())
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	// If main returns a small integer, use it as exit code
	if result.IsInt() && result.Int() >= 0 && result.Int() < 256 {
		return int(result.Int())
	}
	if result != memory.Nothing {
		fmt.Println(rt.Display(result))
	}
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfg, err := config.FindAndLoad(wd)
	if err != nil || cfg != nil {
		return cfg, err
	}
	return config.Default(), nil
}

// loadProgram assembles .casm sources and reads anything else as an image.
func loadProgram(path string) (*image.Program, error) {
	if strings.EqualFold(filepath.Ext(path), ".casm") {
		return asm.AssembleFile(path)
	}
	p, err := image.ReadFile(path)
	if errors.Is(err, image.ErrNotImage) {
		return nil, fmt.Errorf("%s: not an image; assembler sources need a .casm extension", path)
	}
	return p, err
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
