package main

import (
	"context"
	"fmt"

	flag "github.com/spf13/pflag"
)

// WriteCmd appends (key, value) to the active page, packing first if the
// page is full (spec.md §4.D Write).
func WriteCmd() *Command {
	flags := flag.NewFlagSet("write", flag.ContinueOnError)

	return &Command{
		Flags: flags,
		Usage: "write <key> <value>",
		Short: "write a value for a key",
		Exec: func(_ context.Context, o *IO, dev *boundDevice, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("%w: write <key> <value>", errWrongArgCount)
			}

			key, err := parseUint16(args[0])
			if err != nil {
				return err
			}

			value, err := parseUint16(args[1])
			if err != nil {
				return err
			}

			if err := dev.store.Write(key, value); err != nil {
				return err
			}

			o.Printf("wrote %#04x = %#04x (active page %d)\n", key, value, dev.store.ActivePage())

			return nil
		},
	}
}
