// Package config holds the settings of a verification run. Settings are
// flags registered on a flag.FlagSet, so property files, key=value overrides
// and command line flags all go through the same parsing and validation.
package config

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"v.io/x/lib/cmd/flagvar"

	"github.com/javapathfinder/jpf-core-sub000/pkg/por"
	"github.com/javapathfinder/jpf-core-sub000/pkg/types"
	"github.com/javapathfinder/jpf-core-sub000/pkg/vm"
	"github.com/javapathfinder/jpf-core-sub000/pkg/vmerr"
)

// PathKey is set to the directory of the property file being read, so
// values can refer to files next to it as ${config_path}/...
const PathKey = "config_path"

// Config is the typed view of all settings.
type Config struct {
	Target    string `cmdline:"target,,main class of the program under test"`
	Classpath string `cmdline:"classpath,,directory holding the class files of the program under test"`

	POR                   bool       `cmdline:"vm.por,true,create thread choices on accesses to shared objects"`
	NeverBreakMethods     StringList `cmdline:"vm.shared.never_break_methods,,methods whose field accesses never break a transition"`
	NeverBreakTypes       StringList `cmdline:"vm.shared.never_break_types,,types whose fields never break a transition"`
	AlwaysBreakTypes      StringList `cmdline:"vm.shared.always_break_types,,types whose fields always break a transition"`
	NeverBreakFields      StringList `cmdline:"vm.shared.never_break_fields,,fields whose accesses never break a transition"`
	AlwaysBreakFields     StringList `cmdline:"vm.shared.always_break_fields,,fields whose accesses always break a transition"`
	SkipFinals            bool       `cmdline:"vm.shared.skip_finals,true,do not break on final instance fields"`
	SkipConstructedFinals bool       `cmdline:"vm.shared.skip_constructed_finals,false,do not break on final fields of constructed objects"`
	SkipStaticFinals      bool       `cmdline:"vm.shared.skip_static_finals,true,do not break on static final fields"`
	SkipInits             bool       `cmdline:"vm.shared.skip_inits,true,do not break inside constructors of the accessed object"`
	BreakOnExposure       bool       `cmdline:"vm.shared.break_on_exposure,true,break when a reference to a new object is stored into a shared object"`
	SyncDetection         bool       `cmdline:"vm.shared.sync_detection,true,infer lock protection of shared fields"`
	LockThreshold         int        `cmdline:"vm.shared.lockthreshold,0,accesses before a candidate lock set counts as protection"`
	MaxTransitionLength   int        `cmdline:"vm.max_transition_length,5000,instructions per transition before a forced break"`
	GC                    bool       `cmdline:"vm.gc,true,collect garbage at the end of every transition"`

	DepthLimit      int  `cmdline:"search.depth_limit,0,maximum search depth (0 is unlimited)"`
	MaxStates       int  `cmdline:"search.max_states,0,maximum number of new states (0 is unlimited)"`
	MinFree         int  `cmdline:"search.min_free,0,minimum free host memory in MiB (0 is unchecked)"`
	MultipleErrors  bool `cmdline:"search.multiple_errors,false,continue the search after a property violation"`
	VisitedCapacity int  `cmdline:"search.visited_capacity,0,maximum number of remembered states (0 is unbounded)"`

	Listeners StringList `cmdline:"listener,,built-in listeners to attach (exec and stats)"`

	fs   *flag.FlagSet
	path string
}

// Register binds the fields of c to flags of fs. The flag names are the
// property keys.
func Register(fs *flag.FlagSet, c *Config) {
	if err := flagvar.RegisterFlagsInStruct(fs, "cmdline", c, nil, nil); err != nil {
		// the tags are fixed, so this is a programming error.
		panic(err)
	}
}

// New returns a Config holding the defaults.
func New() *Config {
	c := &Config{}
	c.fs = flag.NewFlagSet("jpf", flag.ContinueOnError)
	c.fs.SetOutput(io.Discard)
	Register(c.fs, c)
	return c
}

// FlagSet returns the flags bound to c.
func (c *Config) FlagSet() *flag.FlagSet { return c.fs }

// Set assigns value to key.
func (c *Config) Set(key, value string) error {
	if key == PathKey {
		c.path = value
		return nil
	}
	if c.fs.Lookup(key) == nil {
		return &vmerr.ConfigurationError{Key: key, Value: value, Reason: "unknown key"}
	}
	if err := c.fs.Set(key, value); err != nil {
		return &vmerr.ConfigurationError{Key: key, Value: value, Reason: err.Error()}
	}
	return nil
}

// Get returns the current value of key in property form.
func (c *Config) Get(key string) (string, bool) {
	if key == PathKey {
		return c.path, true
	}
	f := c.fs.Lookup(key)
	if f == nil {
		return "", false
	}
	return f.Value.String(), true
}

// Override applies key=value pairs, typically from the command line.
func (c *Config) Override(args []string) error {
	for _, a := range args {
		k, v, ok := strings.Cut(strings.TrimPrefix(a, "+"), "=")
		if !ok {
			return &vmerr.ConfigurationError{Key: a, Reason: "want key=value"}
		}
		if err := c.Set(strings.TrimSpace(k), c.expand(strings.TrimSpace(v))); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile reads a property file. ${config_path} in its values refers to
// the directory of the file.
func (c *Config) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer f.Close()
	prev := c.path
	c.path = filepath.Dir(path)
	defer func() { c.path = prev }()
	if err := c.Read(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// Read applies the properties in r. Lines are key = value; blank lines and
// lines starting with # are skipped, and a trailing backslash continues a
// value on the next line.
func (c *Config) Read(r io.Reader) error {
	sc := bufio.NewScanner(r)
	var pending strings.Builder
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if pending.Len() == 0 && (line == "" || strings.HasPrefix(line, "#")) {
			continue
		}
		if strings.HasSuffix(line, `\`) {
			pending.WriteString(strings.TrimSuffix(line, `\`))
			continue
		}
		pending.WriteString(line)
		entry := pending.String()
		pending.Reset()
		if err := c.property(entry); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if pending.Len() > 0 {
		return c.property(pending.String())
	}
	return nil
}

func (c *Config) property(entry string) error {
	k, v, ok := strings.Cut(entry, "=")
	if !ok {
		return &vmerr.ConfigurationError{Key: strings.TrimSpace(entry), Reason: "want key = value"}
	}
	k = strings.TrimSpace(k)
	v = c.expand(strings.TrimSpace(v))
	// key+=value appends to a list
	if strings.HasSuffix(k, "+") {
		k = strings.TrimSpace(strings.TrimSuffix(k, "+"))
		if old, ok := c.Get(k); ok && old != "" {
			v = old + "," + v
		}
	}
	return c.Set(k, v)
}

// expand replaces ${key} with the current value of key. Unknown keys are
// left as they are.
func (c *Config) expand(v string) string {
	for {
		i := strings.Index(v, "${")
		if i < 0 {
			return v
		}
		j := strings.Index(v[i:], "}")
		if j < 0 {
			return v
		}
		val, ok := c.Get(v[i+2 : i+j])
		if !ok {
			return v
		}
		v = v[:i] + val + v[i+j+1:]
	}
}

// Settings returns the sharedness settings.
func (c *Config) Settings() por.Settings {
	return por.Settings{
		NeverBreakMethods:     c.NeverBreakMethods,
		NeverBreakTypes:       c.NeverBreakTypes,
		AlwaysBreakTypes:      c.AlwaysBreakTypes,
		NeverBreakFields:      c.NeverBreakFields,
		AlwaysBreakFields:     c.AlwaysBreakFields,
		SkipFinals:            c.SkipFinals,
		SkipConstructedFinals: c.SkipConstructedFinals,
		SkipStaticFinals:      c.SkipStaticFinals,
		SkipInits:             c.SkipInits,
		BreakOnExposure:       c.BreakOnExposure,
		SyncDetection:         c.SyncDetection,
		LockThreshold:         c.LockThreshold,
	}
}

// VMConfig builds the VM configuration. The class files below the class
// path are parsed up front, so a malformed file fails the run before the
// search starts.
func (c *Config) VMConfig(ctx context.Context, out io.Writer) (vm.Config, error) {
	if c.Target == "" {
		return vm.Config{}, &vmerr.ConfigurationError{Key: "target", Reason: "no main class"}
	}
	if c.MaxTransitionLength <= 0 {
		return vm.Config{}, &vmerr.ConfigurationError{
			Key:    "vm.max_transition_length",
			Value:  fmt.Sprint(c.MaxTransitionLength),
			Reason: "must be positive",
		}
	}
	cfg := vm.DefaultConfig()
	cfg.Target = c.Target
	cfg.POR = c.POR
	cfg.Shared = c.Settings()
	cfg.MaxTransitionLength = c.MaxTransitionLength
	cfg.GC = c.GC
	cfg.Out = out
	if c.Classpath != "" {
		src, err := types.LoadDir(ctx, c.Classpath)
		if err != nil {
			return vm.Config{}, fmt.Errorf("classpath: %w", err)
		}
		cfg.Sources = []types.Source{src}
	}
	return cfg, nil
}
