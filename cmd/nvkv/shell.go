package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/azim0ff/nvkv/internal/kv"
)

// shellCommands lists the REPL's builtin verbs, for help text and the
// tab completer.
var shellCommands = []string{"read", "write", "pack", "inspect", "help", "exit", "quit", "q"}

// ShellCmd opens an interactive REPL over the bound device, grounded on
// cmd/sloty's liner-based loop.
func ShellCmd() *Command {
	flags := flag.NewFlagSet("shell", flag.ContinueOnError)

	return &Command{
		Flags: flags,
		Usage: "shell",
		Short: "open an interactive REPL over the image",
		Exec: func(_ context.Context, o *IO, dev *boundDevice, _ []string) error {
			return runShell(o, dev)
		},
	}
}

func runShell(o *IO, dev *boundDevice) error {
	line := liner.NewLiner()
	defer line.Close() //nolint:errcheck

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(pre string) []string {
		var out []string

		for _, c := range shellCommands {
			if strings.HasPrefix(c, strings.ToLower(pre)) {
				out = append(out, c)
			}
		}

		return out
	})

	o.Printf("nvkv shell (image=%s, active page=%d)\n", dev.cfg.ImagePath, dev.store.ActivePage())
	o.Println("Type 'help' for available commands.")
	o.Println()

	for {
		input, err := line.Prompt("nvkv> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				o.Println("bye")

				return nil
			}

			return fmt.Errorf("reading input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		line.AppendHistory(input)

		parts := strings.Fields(input)
		verb := strings.ToLower(parts[0])
		args := parts[1:]

		switch verb {
		case "exit", "quit", "q":
			o.Println("bye")

			return nil

		case "help", "?":
			printShellHelp(o)

		case "read":
			shellRead(o, dev, args)

		case "write":
			shellWrite(o, dev, args)

		case "pack":
			shellPack(o, dev)

		case "inspect":
			shellInspect(o, dev)

		default:
			o.ErrPrintln("unknown command:", verb, "(try 'help')")
		}
	}
}

func printShellHelp(o *IO) {
	o.Println("Commands:")
	o.Println("  read <key>            Read the current value of a key")
	o.Println("  write <key> <value>   Write a value for a key")
	o.Println("  pack                  Force compaction of the active page")
	o.Println("  inspect               Dump page statuses and the live key/value map")
	o.Println("  help                  Show this help")
	o.Println("  exit / quit / q       Exit")
}

func shellRead(o *IO, dev *boundDevice, args []string) {
	if len(args) != 1 {
		o.ErrPrintln("usage: read <key>")

		return
	}

	key, err := parseUint16(args[0])
	if err != nil {
		o.ErrPrintln(err)

		return
	}

	value, err := dev.store.Read(key)

	switch {
	case errors.Is(err, kv.ErrNotFound):
		o.Println("not found")
	case err != nil:
		o.ErrPrintln("error:", err)
	default:
		o.Printf("%#04x\n", value)
	}
}

func shellWrite(o *IO, dev *boundDevice, args []string) {
	if len(args) != 2 {
		o.ErrPrintln("usage: write <key> <value>")

		return
	}

	key, err := parseUint16(args[0])
	if err != nil {
		o.ErrPrintln(err)

		return
	}

	value, err := parseUint16(args[1])
	if err != nil {
		o.ErrPrintln(err)

		return
	}

	if err := dev.store.Write(key, value); err != nil {
		o.ErrPrintln("error:", err)

		return
	}

	o.Printf("wrote %#04x = %#04x (active page %d)\n", key, value, dev.store.ActivePage())
}

func shellPack(o *IO, dev *boundDevice) {
	before := dev.store.ActivePage()

	if err := dev.store.Pack(); err != nil {
		o.ErrPrintln("error:", err)

		return
	}

	o.Printf("packed: page %d -> page %d\n", before, dev.store.ActivePage())
}

func shellInspect(o *IO, dev *boundDevice) {
	report, err := buildInspectReport(dev)
	if err != nil {
		o.ErrPrintln("error:", err)

		return
	}

	printInspectTable(o, report)
}
