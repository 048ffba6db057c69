package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/azim0ff/nvkv/internal/config"
	"github.com/azim0ff/nvkv/internal/flash"
	"github.com/azim0ff/nvkv/internal/kv"
)

// boundDevice bundles an open flash device with the Store layered over it,
// so every subcommand shares one opened image instead of reopening it.
type boundDevice struct {
	cfg   config.DeviceConfig
	file  *flash.FileDevice
	store *kv.Store
}

func (b *boundDevice) Close() error {
	return b.file.Close()
}

// Run is the main entry point. Returns an exit code.
// sigCh may be nil if signal handling is not needed (e.g. in tests).
func Run(_ io.Reader, out, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	globalFlags := flag.NewFlagSet("nvkv", flag.ContinueOnError)
	globalFlags.SetInterspersed(false)
	globalFlags.Usage = func() {}
	globalFlags.SetOutput(&strings.Builder{})

	flagHelp := globalFlags.BoolP("help", "h", false, "Show help")
	flagCwd := globalFlags.StringP("cwd", "C", "", "Run as if started in `dir`")
	flagConfig := globalFlags.StringP("config", "c", "", "Use specified config `file`")
	flagImage := globalFlags.String("image", "", "Override flash image `path`")
	flagVerbose := globalFlags.BoolP("verbose", "v", false, "Trace engine operations to stderr")

	if err := globalFlags.Parse(args[1:]); err != nil {
		fprintln(errOut, "error:", err)
		printGlobalOptions(errOut)

		return 1
	}

	workDir := *flagCwd
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			fprintln(errOut, "error:", err)

			return 1
		}

		workDir = wd
	}

	envSlice := make([]string, 0, len(env))
	for k, v := range env {
		envSlice = append(envSlice, k+"="+v)
	}

	cliOverride := config.DeviceConfig{ImagePath: *flagImage}

	cfg, _, err := config.Load(workDir, *flagConfig, cliOverride, *flagImage != "", envSlice)
	if err != nil {
		fprintln(errOut, "error:", err)
		printGlobalOptions(errOut)

		return 1
	}

	commands := allCommands()

	commandMap := make(map[string]*Command, len(commands))
	for _, cmd := range commands {
		commandMap[cmd.Name()] = cmd
	}

	commandAndArgs := globalFlags.Args()

	if *flagHelp || (len(commandAndArgs) == 0 && globalFlags.NFlag() == 0) {
		printUsage(out, commands)

		return 0
	}

	if len(commandAndArgs) == 0 {
		fprintln(errOut, "error: no command provided")
		printUsage(errOut, commands)

		return 1
	}

	cmdName := commandAndArgs[0]

	cmd, ok := commandMap[cmdName]
	if !ok {
		fprintln(errOut, "error: unknown command:", cmdName)
		printUsage(errOut, commands)

		return 1
	}

	imagePath := cfg.ImagePath
	if !filepath.IsAbs(imagePath) {
		imagePath = filepath.Join(workDir, imagePath)
	}

	bound, err := openBoundDevice(cfg, imagePath, *flagVerbose, errOut)
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}
	defer bound.Close() //nolint:errcheck

	cmdIO := NewIO(out, errOut)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan int, 1)

	go func() {
		done <- cmd.Run(ctx, cmdIO, bound, commandAndArgs[1:])
	}()

	select {
	case exitCode := <-done:
		if exitCode != 0 {
			return exitCode
		}

		return cmdIO.Finish()
	case <-sigCh:
		fprintln(errOut, "shutting down with 5s timeout...")
		cancel()
	}

	select {
	case <-done:
		fprintln(errOut, "graceful shutdown ok (130)")

		return 130
	case <-time.After(5 * time.Second):
		fprintln(errOut, "graceful shutdown timed out, forced exit (130)")

		return 130
	case <-sigCh:
		fprintln(errOut, "graceful shutdown interrupted, forced exit (130)")

		return 130
	}
}

// openBoundDevice opens (creating if needed) the flash image at imagePath
// and boots the Store through recovery (spec.md §4.E, §6).
func openBoundDevice(cfg config.DeviceConfig, imagePath string, verbose bool, errOut io.Writer) (*boundDevice, error) {
	geom := flash.Geometry{BaseAddr: cfg.BaseAddr, PageBytes: cfg.PageBytes, NumPages: cfg.NumPages}

	file, err := flash.OpenFileDevice(imagePath, geom)
	if err != nil {
		return nil, fmt.Errorf("opening flash image %s: %w", imagePath, err)
	}

	store, err := kv.New(file, cfg.NumKeys)
	if err != nil {
		_ = file.Close()

		return nil, err
	}

	if verbose {
		store.Trace = func(format string, args ...any) {
			fprintln(errOut, fmt.Sprintf("trace: "+format, args...))
		}
	}

	if err := store.Init(); err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("boot recovery: %w", err)
	}

	return &boundDevice{cfg: cfg, file: file, store: store}, nil
}

// allCommands returns all commands in display order.
func allCommands() []*Command {
	return []*Command{
		FormatCmd(),
		ReadCmd(),
		WriteCmd(),
		PackCmd(),
		InspectCmd(),
		ShellCmd(),
	}
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

const globalOptionsHelp = `  -h, --help             Show help
  -C, --cwd <dir>        Run as if started in <dir>
  -c, --config <file>    Use specified config file
  --image <path>         Override flash image path
  -v, --verbose          Trace engine operations to stderr`

func printGlobalOptions(w io.Writer) {
	fprintln(w, "Usage: nvkv [flags] <command> [args]")
	fprintln(w)
	fprintln(w, "Global flags:")
	fprintln(w, globalOptionsHelp)
	fprintln(w)
	fprintln(w, "Run 'nvkv --help' for a list of commands.")
}

func printUsage(w io.Writer, commands []*Command) {
	fprintln(w, "nvkv - a log-structured, wear-leveled key/value store over simulated NOR flash")
	fprintln(w)
	fprintln(w, "Usage: nvkv [flags] <command> [args]")
	fprintln(w)
	fprintln(w, "Flags:")
	fprintln(w, globalOptionsHelp)
	fprintln(w)
	fprintln(w, "Commands:")

	for _, cmd := range commands {
		fprintln(w, cmd.HelpLine())
	}
}
