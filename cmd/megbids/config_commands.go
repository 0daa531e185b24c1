package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Moo-Marc/CtfMegBids/internal/config"
	"github.com/Moo-Marc/CtfMegBids/internal/ops"
)

var skipConfig = map[string]string{"skipConfigLoad": "true"}

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check the megbids configuration",
	}
	cmd.AddCommand(newConfigInitCommand(), newConfigValidateCommand(ctx))
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		path      string
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a commented sample configuration",
		Annotations: skipConfig,
		Args:        exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, err := initTarget(path, overwrite)
			if err != nil {
				return err
			}
			if err := config.CreateSample(target); err != nil {
				return ops.Wrap(ops.ErrIO, "config", "init", target, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(cmd.OutOrStdout(), "Review the [dataset] naming policy before the first rebuild.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "path", "p", "", "Where to write the file (default: user config directory)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}

// initTarget resolves where config init writes and refuses to clobber an
// existing file unless overwrite is set.
func initTarget(path string, overwrite bool) (string, error) {
	var (
		target string
		err    error
	)
	if path = strings.TrimSpace(path); path == "" {
		target, err = config.DefaultConfigPath()
	} else {
		target, err = config.ExpandPath(path)
	}
	if err != nil {
		return "", ops.Wrap(ops.ErrUsage, "config", "init", "resolve path", err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", ops.Wrap(ops.ErrIO, "config", "init", filepath.Dir(target), err)
	}
	_, err = os.Stat(target)
	switch {
	case err == nil && !overwrite:
		return "", ops.Wrap(ops.ErrUsage, "config", "init",
			fmt.Sprintf("%s already exists (pass --overwrite to replace it)", target), nil)
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return "", ops.Wrap(ops.ErrIO, "config", "init", target, err)
	}
	return target, nil
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Load the configuration and report the effective settings",
		Annotations: skipConfig,
		Args:        exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, exists, err := config.Load(strings.TrimSpace(ctx.flags.config))
			if err != nil {
				return ops.Wrap(ops.ErrUsage, "config", "validate", "load config", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return ops.Wrap(ops.ErrIO, "config", "validate", "ensure directories", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", path)
			if !exists {
				fmt.Fprintln(out, "Config file did not exist; defaults were used")
			}
			fmt.Fprintf(out, "Journal: %s\n", yesNo(cfg.Journal.Enabled))
			fmt.Fprintf(out, "Shift epoch: %s\n", cfg.Shift.TargetEpoch)
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}
