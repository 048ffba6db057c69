package main

import (
	"context"
	"errors"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/azim0ff/nvkv/internal/config"
)

var errFormatNotConfirmed = errors.New("nvkv: format would discard all data; pass --yes to proceed")

// FormatCmd erases every page and reinitializes page 0 as ACTIVE, discarding
// whatever the image currently holds (spec.md §4.E "Format procedure").
func FormatCmd() *Command {
	flags := flag.NewFlagSet("format", flag.ContinueOnError)
	yes := flags.Bool("yes", false, "confirm the image's contents may be discarded")
	saveConfig := flags.Bool("save-config", false, "write the resolved geometry to .nvkv.json next to the image")

	return &Command{
		Flags: flags,
		Usage: "format [--yes] [--save-config]",
		Short: "erase the image and reinitialize it as empty",
		Long:  "format erases every page on the image and writes a fresh ACTIVE header to page 0, discarding all stored keys.",
		Exec: func(_ context.Context, o *IO, dev *boundDevice, _ []string) error {
			if !*yes {
				return errFormatNotConfirmed
			}

			if err := dev.store.Format(); err != nil {
				return err
			}

			o.Println("formatted", dev.cfg.ImagePath)

			if *saveConfig {
				path := filepath.Join(filepath.Dir(dev.cfg.ImagePath), config.ConfigFileName)
				if err := config.Save(path, dev.cfg); err != nil {
					return err
				}

				o.Println("saved config to", path)
			}

			return nil
		},
	}
}
