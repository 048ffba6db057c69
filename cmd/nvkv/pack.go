package main

import (
	"context"

	flag "github.com/spf13/pflag"
)

// PackCmd forces compaction of the active page now (spec.md §4.E), useful
// for exercising the protocol without waiting for a page to fill.
func PackCmd() *Command {
	flags := flag.NewFlagSet("pack", flag.ContinueOnError)

	return &Command{
		Flags: flags,
		Usage: "pack",
		Short: "force compaction of the active page now",
		Exec: func(_ context.Context, o *IO, dev *boundDevice, _ []string) error {
			before := dev.store.ActivePage()

			if err := dev.store.Pack(); err != nil {
				return err
			}

			o.Printf("packed: page %d -> page %d\n", before, dev.store.ActivePage())

			return nil
		},
	}
}
