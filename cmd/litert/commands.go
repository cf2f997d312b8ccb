package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/chazu/litert/archive"
	"github.com/chazu/litert/asm"
	"github.com/chazu/litert/backport"
	"github.com/chazu/litert/compat"
	"github.com/chazu/litert/format"
	"github.com/chazu/litert/vm"
	"github.com/spf13/cobra"
)

func newRunCommand(a *app) *cobra.Command {
	var method string
	cmd := &cobra.Command{
		Use:   "run MODEL [ARG...]",
		Short: "Load a model and invoke one of its methods",
		Long: `Load a model and invoke one of its methods.

Arguments use the assembler's value syntax: 3, 2.5, "text", [1, 2],
{tensor: [1, 2, 3, 4], shape: [2, 2]}, {tuple: [1, 2]}.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.load(args[0])
			if err != nil {
				return err
			}
			if method == "" {
				method = a.cfg.Model.Method
			}
			inputs, err := parseValues(args[1:])
			if err != nil {
				return err
			}
			out, err := m.RunMethod(method, inputs...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&method, "method", "m", "", "method to invoke (default from [model] method, else forward)")
	return cmd
}

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version [MODEL]",
		Short: "Print the runtime bytecode version, or a model's",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if len(args) == 0 {
				fmt.Fprintf(w, "litert %s (%s)\n", version, commit)
				fmt.Fprintf(w, "bytecode version %d (loads %d-%d)\n",
					vm.RuntimeBytecodeVersion(), vm.MinSupportedBytecodeVersion, vm.MaxSupportedBytecodeVersion)
				return nil
			}
			v, err := format.VersionFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(w, v)
			return nil
		},
	}
}

func newOpsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ops [MODEL]",
		Short: "List the operators a model uses, or those the runtime provides",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if len(args) == 1 {
				m, err := a.load(args[0])
				if err != nil {
					return err
				}
				for _, name := range m.OperatorList() {
					fmt.Fprintln(w, name)
				}
				return nil
			}
			ops := a.rt.Operators.OperatorsAndInfo()
			names := make([]string, 0, len(ops))
			for name := range ops {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				n := ops[name].NumSchemaArgs
				if n < 0 {
					fmt.Fprintf(w, "%s\t(variadic)\n", name)
					continue
				}
				fmt.Fprintf(w, "%s\t%d\n", name, n)
			}
			return nil
		},
	}
}

func newCompatCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "compat MODEL",
		Short: "Check whether a model can run on this runtime",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			zr, err := archive.OpenZipFile(args[0])
			if err != nil {
				return err
			}
			defer zr.Close()
			info, err := compat.ModelInfoFrom(zr)
			if err != nil {
				return err
			}
			res := compat.IsCompatible(compat.RuntimeInfoFrom(a.rt.Operators), info)
			w := cmd.OutOrStdout()
			if res.Status == compat.OK {
				fmt.Fprintln(w, green(res.Status.String()))
				return nil
			}
			fmt.Fprintln(w, red(res.Status.String()))
			for _, e := range res.Errors {
				fmt.Fprintf(w, "  %s\n", e)
			}
			return fmt.Errorf("%s is not compatible with this runtime", args[0])
		},
	}
}

func newBackportCommand(a *app) *cobra.Command {
	var target int
	var verify bool
	cmd := &cobra.Command{
		Use:   "backport MODEL OUTPUT",
		Short: "Rewrite a model for an older bytecode version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("target") {
				target = a.cfg.Backport.Target
			}
			if !cmd.Flags().Changed("verify") {
				verify = a.cfg.Backport.Verify
			}
			var opts []backport.Option
			if verify {
				opts = append(opts, backport.WithVerify(a.verifyCompatible))
			}

			in, err := archive.OpenZipFile(args[0])
			if err != nil {
				return err
			}
			defer in.Close()
			mem := archive.NewMemory()
			if err := backport.NewManager(a.rt, opts...).Backport(in, mem, target); err != nil {
				return err
			}
			out, err := archive.CreateZipFile(args[1])
			if err != nil {
				return err
			}
			if err := archive.Copy(out, mem); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (bytecode version %d)\n", args[1], target)
			return nil
		},
	}
	cmd.Flags().IntVarP(&target, "target", "t", 0, "target bytecode version (default from [backport] target)")
	cmd.Flags().BoolVar(&verify, "verify", false, "check every intermediate model against this runtime's operators")
	return cmd
}

// verifyCompatible rejects an intermediate model this runtime could not run.
func (a *app) verifyCompatible(from, to int, m *vm.Module) error {
	info := compat.ModelInfoFromModule(m)
	if err := compat.IsCompatible(compat.RuntimeInfoFrom(a.rt.Operators), info).Err(); err != nil {
		return err
	}
	log.Debugf("version %d -> %d verified: %d operators", from, to, len(info.Operators))
	return nil
}

func newDebugInfoCommand(a *app) *cobra.Command {
	var method string
	cmd := &cobra.Command{
		Use:   "debuginfo MODEL",
		Short: "Print every instruction of a method with its debug string",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.load(args[0])
			if err != nil {
				return err
			}
			if method == "" {
				method = a.cfg.Model.Method
			}
			meth, err := m.GetMethod(method)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			insts := meth.Function().Instructions
			for pc := 0; ; pc++ {
				info, err := meth.DebugInfo(pc)
				if errors.Is(err, vm.ErrDebugInfoExhausted) {
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%4d  %-24s %s\n", pc, insts[pc], dim(info))
			}
		},
	}
	cmd.Flags().StringVarP(&method, "method", "m", "", "method to describe (default from [model] method, else forward)")
	return cmd
}

func newAssembleCommand(a *app) *cobra.Command {
	var stripDebug bool
	cmd := &cobra.Command{
		Use:   "assemble DESCRIPTION.yaml OUTPUT",
		Short: "Build a model archive from a YAML description",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := asm.AssembleFile(args[0], a.rt)
			if err != nil {
				return err
			}
			var opts []format.SaveOption
			if stripDebug {
				opts = append(opts, format.StripDebug())
			}
			if err := format.SaveFile(args[1], m, opts...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d methods, bytecode version %d)\n",
				args[1], len(m.Methods()), vm.ProducedBytecodeVersion)
			return nil
		},
	}
	cmd.Flags().BoolVar(&stripDebug, "strip-debug", false, "omit debug tables and sources")
	return cmd
}

func newExtraCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "extra MODEL [NAME...]",
		Short: "Print side files stored with a model",
		Long: `Print side files stored with a model. Without names, the files listed
under [model] extra-files are printed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files := a.cfg.ExtraFiles()
			if len(args) > 1 {
				files = make(map[string]string, len(args)-1)
				for _, name := range args[1:] {
					files[name] = ""
				}
			}
			if _, err := a.load(args[0], format.WithExtraFiles(files)); err != nil {
				return err
			}
			names := make([]string, 0, len(files))
			for name := range files {
				names = append(names, name)
			}
			sort.Strings(names)
			w := cmd.OutOrStdout()
			for _, name := range names {
				fmt.Fprintf(w, "%s\n%s\n", bold("== "+name), strings.TrimRight(files[name], "\n"))
			}
			return nil
		},
	}
}

// load opens a model archive and loads it into the shared runtime.
func (a *app) load(path string, opts ...format.Option) (*vm.Module, error) {
	m, err := format.LoadFile(path, a.rt, opts...)
	if err != nil {
		return nil, err
	}
	log.Debugf("loaded %s as %s (version %d, %d methods)", path, m.ID, m.Version, len(m.Methods()))
	return m, nil
}

func parseValues(args []string) ([]vm.Value, error) {
	out := make([]vm.Value, len(args))
	for i, s := range args {
		v, err := asm.ParseValue(s)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		out[i] = v
	}
	return out, nil
}
