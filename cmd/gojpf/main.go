// Command gojpf model checks a program given as class files.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"v.io/x/lib/cmdline"
	"v.io/x/lib/set"
	"v.io/x/lib/vlog"

	"github.com/javapathfinder/jpf-core-sub000/pkg/config"
	"github.com/javapathfinder/jpf-core-sub000/pkg/report"
	"github.com/javapathfinder/jpf-core-sub000/pkg/search"
	"github.com/javapathfinder/jpf-core-sub000/pkg/vm"
	"github.com/javapathfinder/jpf-core-sub000/pkg/vmerr"
)

var (
	flagVerbosity int
	flagTrace     string

	knownListeners = set.String.FromSlice([]string{"exec", "stats"})
)

const argsLong = `
<app> is a property file ending in .jpf, a class file ending in .class, or the
name of the main class. A class file sets classpath to its directory.
<key>=<value> ... override properties after <app> is read.`

var cmdCheck = &cmdline.Command{
	Runner:   cmdline.RunnerFunc(runCheck),
	Name:     "check",
	Short:    "explore all executions of a program",
	Long:     "Command check explores the thread interleavings and data choices of a program and reports property violations.",
	ArgsName: "<app> [<key>=<value> ...]",
	ArgsLong: argsLong,
}

var cmdReplay = &cmdline.Command{
	Runner:   cmdline.RunnerFunc(runReplay),
	Name:     "replay",
	Short:    "re-execute a recorded trace",
	Long:     "Command replay drives a program along a trace written by check -trace and reports the state it reaches.",
	ArgsName: "<app> [<key>=<value> ...]",
	ArgsLong: argsLong,
}

func init() {
	for _, c := range []*cmdline.Command{cmdCheck, cmdReplay} {
		c.Flags.IntVar(&flagVerbosity, "v", 0, "log verbosity; 2 logs transitions, 3 monitor and sharedness events")
	}
	cmdCheck.Flags.StringVar(&flagTrace, "trace", "", "write the trace of the first error to this file")
	cmdReplay.Flags.StringVar(&flagTrace, "trace", "", "trace file to replay")
}

func main() {
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(&cmdline.Command{
		Name:     "gojpf",
		Short:    "explicit state model checker",
		Long:     "Command gojpf model checks programs given as class files.",
		Children: []*cmdline.Command{cmdCheck, cmdReplay},
	})
}

func setupLogging() {
	if err := vlog.Log.Configure(vlog.LogToStderr(true), vlog.Level(flagVerbosity)); err != nil {
		vlog.Errorf("configuring logging: %v", err)
	}
}

// configure builds the settings from the command line arguments.
func configure(args []string) (*config.Config, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no application given")
	}
	c := config.New()
	app := args[0]
	switch {
	case strings.HasSuffix(app, ".jpf"):
		if err := c.LoadFile(app); err != nil {
			return nil, err
		}
	case strings.HasSuffix(app, ".class"):
		if err := c.Set("classpath", filepath.Dir(app)); err != nil {
			return nil, err
		}
		if err := c.Set("target", strings.TrimSuffix(filepath.Base(app), ".class")); err != nil {
			return nil, err
		}
	default:
		if err := c.Set("target", app); err != nil {
			return nil, err
		}
	}
	if err := c.Override(args[1:]); err != nil {
		return nil, err
	}
	for _, l := range c.Listeners {
		if _, ok := knownListeners[l]; !ok {
			return nil, &vmerr.ConfigurationError{Key: "listener", Value: l, Reason: "unknown listener"}
		}
	}
	return c, nil
}

func newVM(env *cmdline.Env, c *config.Config) (*vm.VM, error) {
	cfg, err := c.VMConfig(context.Background(), env.Stdout)
	if err != nil {
		return nil, err
	}
	v, err := vm.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := v.Initialize(); err != nil {
		return nil, err
	}
	return v, nil
}

func runCheck(env *cmdline.Env, args []string) error {
	setupLogging()
	c, err := configure(args)
	if err != nil {
		return env.UsageErrorf("%v", err)
	}
	v, err := newVM(env, c)
	if err != nil {
		return err
	}
	s := search.New(v, search.Options{
		DepthLimit:      c.DepthLimit,
		MaxStates:       c.MaxStates,
		MinFree:         c.MinFree,
		MultipleErrors:  c.MultipleErrors,
		VisitedCapacity: c.VisitedCapacity,
	})

	var stats *report.Statistics
	for _, l := range c.Listeners {
		switch l {
		case "exec":
			t := report.NewExecTracker(env.Stdout)
			v.AddListener(t)
			s.AddListener(t)
		case "stats":
			stats = report.NewStatistics()
			v.AddListener(stats)
			s.AddListener(stats)
		}
	}
	s.AddListener(report.NewPublisher(env.Stdout, c.Target, stats))

	if err := s.Run(); err != nil {
		fmt.Fprintln(env.Stderr, vmerr.Dump(err))
		return cmdline.ErrExitCode(2)
	}
	errs := s.Errors()
	if len(errs) == 0 {
		return nil
	}
	if flagTrace != "" {
		if err := writeTrace(flagTrace, errs[0].Trace); err != nil {
			return err
		}
	}
	return cmdline.ErrExitCode(1)
}

func writeTrace(path string, t search.Trace) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := t.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func runReplay(env *cmdline.Env, args []string) error {
	setupLogging()
	if flagTrace == "" {
		return env.UsageErrorf("replay requires -trace")
	}
	c, err := configure(args)
	if err != nil {
		return env.UsageErrorf("%v", err)
	}
	f, err := os.Open(flagTrace)
	if err != nil {
		return err
	}
	defer f.Close()
	trace, err := search.ReadTrace(f)
	if err != nil {
		return err
	}
	v, err := newVM(env, c)
	if err != nil {
		return err
	}
	if _, ok := set.String.FromSlice(c.Listeners)["exec"]; ok {
		v.AddListener(report.NewExecTracker(env.Stdout))
	}
	h, err := search.Replay(v, trace)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.Stdout, "replayed %d transitions, state %x\n", len(trace), h)
	if viol := v.Violation(); viol != nil {
		fmt.Fprintf(env.Stdout, "%s\n%s\n", viol.Property, viol.Message)
		return cmdline.ErrExitCode(1)
	}
	return nil
}
