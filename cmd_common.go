package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"github.com/flybywiresim/fragmenter/cancel"
	"github.com/flybywiresim/fragmenter/install"
	"github.com/flybywiresim/fragmenter/logger"
	"github.com/flybywiresim/fragmenter/progress"
	"github.com/flybywiresim/fragmenter/sink"
	"github.com/flybywiresim/fragmenter/transport"
)

// alternativesFlag collects repeated "--alt name=key" flags into a module
// name → chosen alternative key map.
type alternativesFlag map[string]string

func (a alternativesFlag) String() string {
	return fmt.Sprintf("%v", map[string]string(a))
}

func (a alternativesFlag) Set(value string) error {
	for i := 0; i < len(value); i++ {
		if value[i] == '=' {
			a[value[:i]] = value[i+1:]
			return nil
		}
	}
	return fmt.Errorf("expected NAME=KEY, got %q", value)
}

func (a alternativesFlag) Type() string { return "name=key" }

func newAlternativesFlag(flags *pflag.FlagSet) alternativesFlag {
	m := alternativesFlag{}
	flags.Var(m, "alt", "alternative module selection, repeatable (e.g. --alt sounds=wasm)")
	return m
}

// buildSink wires a console logger, optionally wrapped in a progress-bar
// renderer for interactive terminals.
func buildSink(verbose bool, withBars bool) (sink.EventSink, func()) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	console := logger.New(os.Stderr, level)
	if !withBars {
		return console, func() {}
	}
	bars := progress.New(console)
	return bars, bars.Wait
}

func forcedFreshOptions() install.Options {
	return install.Options{ForceFreshInstall: true}
}

func newInstaller(baseURL, destDir string, opts install.Options, out sink.EventSink, tok *cancel.Token) *install.Installer {
	return &install.Installer{
		Doer:    transport.NewClient(),
		Fs:      afero.NewOsFs(),
		Sink:    out,
		Token:   tok,
		BaseURL: baseURL,
		DestDir: destDir,
		Options: opts,
	}
}
