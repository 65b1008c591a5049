package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/phobologic/mendpatch/internal/config"
)

const defaultConfigPath = config.FileName + ".yaml"

// newInitCmd implements `mendpatch init`, which writes a config file holding
// every setting at its default so it can be edited in place.
func newInitCmd(a *app) *cobra.Command {
	var (
		dryRun bool
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init [PATH]",
		Short: "Write a config file with the default settings",
		Long: `Write a config file with every setting at its default value. The format
follows the file extension (.yaml, .json or .toml). PATH defaults to the
--config path, or ./` + defaultConfigPath + `.

An existing file is left alone unless --force is given.`,
		Args: cobra.MaximumNArgs(1),
		// An existing config may be the broken file init is meant to replace.
		PersistentPreRunE: func(*cobra.Command, []string) error {
			a.logger = slog.New(slog.NewTextHandler(a.stderr, nil))
			return nil
		},
		RunE: func(_ *cobra.Command, args []string) error {
			cfg := config.Default()

			if dryRun {
				data, err := config.Encode(cfg)
				if err != nil {
					return err
				}
				_, err = a.stdout.Write(data)
				return err
			}

			path := initPath(a.configPath, args)
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				} else if !errors.Is(err, fs.ErrNotExist) {
					return err
				}
			}
			if err := config.Write(path, cfg); err != nil {
				return err
			}
			a.logger.Info("wrote config", "path", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the YAML that would be written without touching any file")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}

func initPath(configPath string, args []string) string {
	switch {
	case len(args) > 0:
		return args[0]
	case configPath != "":
		return configPath
	}
	return defaultConfigPath
}
