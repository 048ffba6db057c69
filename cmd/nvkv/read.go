package main

import (
	"context"
	"errors"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/azim0ff/nvkv/internal/kv"
)

var errWrongArgCount = errors.New("nvkv: wrong number of arguments")

// ReadCmd looks up a single key on the active page (spec.md §4.D Read).
func ReadCmd() *Command {
	flags := flag.NewFlagSet("read", flag.ContinueOnError)

	return &Command{
		Flags: flags,
		Usage: "read <key>",
		Short: "read the current value of a key",
		Exec: func(_ context.Context, o *IO, dev *boundDevice, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("%w: read <key>", errWrongArgCount)
			}

			key, err := parseUint16(args[0])
			if err != nil {
				return err
			}

			value, err := dev.store.Read(key)
			if errors.Is(err, kv.ErrNotFound) {
				o.Println("not found")

				return nil
			}

			if err != nil {
				return err
			}

			o.Printf("%#04x\n", value)

			return nil
		},
	}
}
