// Package config handles cheney.toml runtime configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"

	"github.com/chazu/cheney/memory"
	"github.com/chazu/cheney/vm"
)

// FileName is the name FindAndLoad looks for.
const FileName = "cheney.toml"

// Config represents a cheney.toml file.
type Config struct {
	Heap      Heap      `toml:"heap"`
	Log       Log       `toml:"log"`
	Scheduler Scheduler `toml:"scheduler"`

	// Path is the file the config was read from (set at load time).
	Path string `toml:"-"`
}

// Heap sizes the collector. Sizes accept either a byte count or a
// human-readable string such as "4 MiB". AllowGrowth lets the live set grow
// between collections instead of treating that as out of memory.
type Heap struct {
	Size         ByteSize `toml:"size"`
	LowWaterMark ByteSize `toml:"low-water-mark"`
	AllowGrowth  bool     `toml:"allow-growth"`
}

// Log configures commonlog. Verbosity follows commonlog: 0 logs notices
// and above, each step up or down adds or drops one level.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Scheduler configures fiber execution.
type Scheduler struct {
	GCStress  bool `toml:"gc-stress"`
	MaxFrames int  `toml:"max-frames"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Heap:      Heap{Size: ByteSize(memory.DefaultSize)},
		Scheduler: Scheduler{MaxFrames: vm.DefaultMaxFrames},
	}
}

// Load parses the config file at path on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}
	c.Path = path

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a cheney.toml file, then
// loads and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks the values a heap would otherwise reject with a panic.
func (c *Config) Validate() error {
	var errs []error
	if c.Heap.Size < ByteSize(2*memory.MinObjectSize) {
		errs = append(errs, fmt.Errorf("heap size %s is too small", c.Heap.Size))
	}
	if c.Heap.LowWaterMark >= c.Heap.Size {
		errs = append(errs, fmt.Errorf("low-water mark %s must be below the heap size %s",
			c.Heap.LowWaterMark, c.Heap.Size))
	}
	if c.Scheduler.MaxFrames < 1 {
		errs = append(errs, fmt.Errorf("max-frames must be positive, got %d", c.Scheduler.MaxFrames))
	}
	if c.Log.Verbosity < -4 {
		errs = append(errs, fmt.Errorf("log verbosity %d is below -4", c.Log.Verbosity))
	}
	return errors.Join(errs...)
}

// HeapOptions converts the heap section to memory options. A zero
// low-water mark leaves the heap's default in place.
func (c *Config) HeapOptions() []memory.Option {
	opts := []memory.Option{
		memory.WithSize(int(c.Heap.Size)),
		memory.WithLiveSetGrowth(c.Heap.AllowGrowth),
	}
	if c.Heap.LowWaterMark > 0 {
		opts = append(opts, memory.WithLowWaterMark(int(c.Heap.LowWaterMark)))
	}
	return opts
}

// RuntimeOptions converts the config to runtime options, heap included.
func (c *Config) RuntimeOptions() []vm.Option {
	return []vm.Option{
		vm.WithHeapOptions(c.HeapOptions()...),
		vm.WithGCStress(c.Scheduler.GCStress),
		vm.WithMaxFrames(c.Scheduler.MaxFrames),
	}
}

// ---------------------------------------------------------------------------
// ByteSize
// ---------------------------------------------------------------------------

// ByteSize is a size in bytes. It decodes from a TOML integer or a string
// like "512 KiB", and doubles as a flag.Value.
type ByteSize int64

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// Set implements flag.Value.
func (b *ByteSize) Set(s string) error {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return err
	}
	if n > 1<<40 {
		return fmt.Errorf("size %s is too large", s)
	}
	*b = ByteSize(n)
	return nil
}

// UnmarshalTOML implements toml.Unmarshaler.
func (b *ByteSize) UnmarshalTOML(v any) error {
	switch v := v.(type) {
	case int64:
		if v < 0 {
			return fmt.Errorf("size %d is negative", v)
		}
		*b = ByteSize(v)
		return nil
	case string:
		return b.Set(v)
	}
	return fmt.Errorf("size must be an integer or a string, got %T", v)
}
