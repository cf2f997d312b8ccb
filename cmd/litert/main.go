// litert runs, inspects and converts model archives.
package main

import (
	"fmt"
	"os"

	"github.com/chazu/litert/kernels"
	"github.com/chazu/litert/manifest"
	"github.com/chazu/litert/vm"
	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"
)

var (
	version = "dev"
	commit  = "unknown"
)

var log = commonlog.GetLogger("litert.cmd")

// app holds what every subcommand shares once the root command's
// pre-run hook has loaded the configuration.
type app struct {
	configDir string
	verbose   int

	cfg *manifest.Manifest
	rt  *vm.Runtime
}

func main() {
	if err := newRootCommand(&app{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		os.Exit(1)
	}
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "litert",
		Short:         "Run and inspect bytecode model archives",
		Version:       fmt.Sprintf("%s (%s), bytecode %d", version, commit, vm.RuntimeBytecodeVersion()),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.PersistentFlags().StringVar(&a.configDir, "config", "", "directory containing "+manifest.FileName+" (default: search upward from the working directory)")
	root.PersistentFlags().CountVarP(&a.verbose, "verbose", "v", "increase log verbosity")

	root.AddCommand(
		newRunCommand(a),
		newVersionCommand(a),
		newOpsCommand(a),
		newCompatCommand(a),
		newBackportCommand(a),
		newDebugInfoCommand(a),
		newAssembleCommand(a),
		newExtraCommand(a),
	)
	return root
}

// setup loads litert.toml, configures logging and builds the runtime.
func (a *app) setup() error {
	var err error
	if a.configDir != "" {
		a.cfg, err = manifest.Load(a.configDir)
	} else {
		var wd string
		if wd, err = os.Getwd(); err == nil {
			a.cfg, err = manifest.FindAndLoad(wd)
		}
	}
	if err != nil {
		return err
	}
	if a.cfg == nil {
		a.cfg = manifest.Default()
	}

	verbosity := a.cfg.Runtime.LogVerbosity
	if a.verbose > verbosity {
		verbosity = a.verbose
	}
	commonlog.Configure(verbosity, nil)
	if a.cfg.Dir != "" {
		log.Debugf("using %s from %s", manifest.FileName, a.cfg.Dir)
	}

	a.rt = vm.NewRuntime(kernels.Default())
	a.cfg.Apply(a.rt)
	return nil
}
