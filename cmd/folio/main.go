package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"syscall"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"folio/book"
	"folio/config"
	"folio/misc"
	"folio/state"
)

// initializeAppContext prepares application context before command execution but
// after command line has been parsed
func initializeAppContext(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	var err error

	if cmd.NArg() == 0 {
		// nothing to do, just return
		return ctx, nil
	}

	env := state.EnvFromContext(ctx)

	configFile := cmd.String("config")
	if env.Cfg, err = config.LoadConfiguration(configFile); err != nil {
		return ctx, fmt.Errorf("unable to prepare configuration: %w", err)
	}
	if env.Log, err = env.Cfg.Logging.Prepare(); err != nil {
		return ctx, fmt.Errorf("unable to prepare logs: %w", err)
	}
	env.RedirectStdLog()

	env.Log.Debug("Program started", zap.Strings("args", os.Args), zap.String("ver", misc.GetVersion()), zap.String("runtime", runtime.Version()), zap.String("hash", misc.GetGitHash()))

	if len(configFile) == 0 && env.Log != nil {
		env.Log.Info("Using defaults (no configuration file)")
	}
	return ctx, nil
}

func destroyAppContext(ctx context.Context, cmd *cli.Command) (err error) {
	env := state.EnvFromContext(ctx)

	if env.Log != nil {
		env.Log.Debug("Program ended", zap.Duration("elapsed", env.Uptime()), zap.Strings("parsed args", cmd.Args().Slice()))
	}

	// close logging
	env.RestoreStdLog()

	// log is synced now, errors must be reported directly to stderr from now on
	if env.Cfg != nil && len(env.Cfg.Logging.FileLogger.Destination) > 0 {
		debug.SetCrashOutput(nil, debug.CrashOptions{})
		fname := filepath.Join(filepath.Dir(env.Cfg.Logging.FileLogger.Destination), misc.GetAppName()+"-panic.log")
		if fi, er := os.Stat(fname); er == nil && fi.Size() == 0 {
			if er := os.Remove(fname); er != nil {
				err = fmt.Errorf("unable to remove empty panic log file '%s': %w", fname, er)
			}
		}
	}
	return
}

// Ignore urfave/cli default error handling - for me cli.Exit() looks
// non-transparent and unnesessary. I will return regular errors from
// subcommands.
var errWasHandled bool

// this is called before appContext is destroyed, so we have a chance to
// properly log any error from subcommand
func exitErrHandler(ctx context.Context, _ *cli.Command, err error) {

	env := state.EnvFromContext(ctx)

	if env.Log != nil {
		env.Log.Error("Program ended with error", zap.Error(err))
		errWasHandled = true
	}
}

func usageErrorHandler(_ context.Context, _ *cli.Command, err error, _ bool) error {
	// do nothing special, error is reported either by exitErrHandler or on
	// exit directly to stderr.
	return err
}

func subcommandNotFoundHandler(ctx context.Context, _ *cli.Command, name string) {
	state.EnvFromContext(ctx).Log.Warn("Unknown command, nothing to do", zap.String("command", name))
}

func main() {

	// allow graceful shutdown on interrupt: pagination of a large book may
	// take a while and we want the store left in a clean state
	ctx, stop := signal.NotifyContext(state.ContextWithEnv(context.Background()), os.Interrupt, syscall.SIGTERM)

	app := &cli.Command{
		Name:            misc.GetAppName(),
		Usage:           "measurement driven book pagination engine",
		Version:         misc.GetVersion() + " (" + runtime.Version() + ") : " + misc.GetGitHash(),
		HideHelpCommand: true,
		Before:          initializeAppContext,
		After:           destroyAppContext,
		OnUsageError:    usageErrorHandler,
		ExitErrHandler:  exitErrHandler,
		CommandNotFound: subcommandNotFoundHandler,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, DefaultText: "", Usage: "load configuration from `FILE` (YAML)"},
		},
		Commands: []*cli.Command{
			{
				Name:         "paginate",
				Usage:        "Recalculates pages for a stored book and writes the result as JSON",
				OnUsageError: usageErrorHandler,
				Action:       book.Paginate,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "width", Usage: "viewport `WIDTH` in pixels (fluid layout only)"},
					&cli.IntFlag{Name: "height", Usage: "viewport `HEIGHT` in pixels (fluid layout only)"},
					&cli.StringFlag{Name: "resume", Usage: "stored reading position as `CHAPTER:PAGE`, resolved against the new page set"},
					&cli.StringFlag{Name: "assets", Usage: "`DIRECTORY` to resolve relative image sources against"},
					&cli.BoolFlag{Name: "overwrite", Aliases: []string{"ow"}, Usage: "continue even if destination exists, overwrite files"},
				},
				ArgsUsage: "BOOK [DESTINATION]",
				CustomHelpTemplate: fmt.Sprintf(`%s
BOOK:
    book identifier, chapters are read from the configured chapter store

DESTINATION:
    always a path, output file name(s) and extension will be derived from other parameters
    if absent - current working directory
`, cli.CommandHelpTemplate),
			},
			{
				Name:         "import",
				Usage:        "Imports chapters from an EPUB file into the chapter store",
				OnUsageError: usageErrorHandler,
				Action:       book.Import,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "book", Usage: "book `ID` to import into (derived from the book title when absent)"},
				},
				ArgsUsage: "SOURCE",
			},
			{
				Name:         "chapters",
				Usage:        "Manages stored chapters",
				OnUsageError: usageErrorHandler,
				Commands: []*cli.Command{
					{
						Name:         "list",
						Usage:        "Lists chapters of a book in reading order",
						OnUsageError: usageErrorHandler,
						Action:       listChapters,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "parent", Usage: "list subchapters of chapter `ID` instead of top level chapters"},
						},
						ArgsUsage: "BOOK",
					},
					{
						Name:         "add",
						Usage:        "Creates a chapter from an HTML file",
						OnUsageError: usageErrorHandler,
						Action:       addChapter,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "title", Usage: "chapter `TITLE`"},
							&cli.StringFlag{Name: "parent", Usage: "create a subchapter under chapter `ID`"},
							&cli.StringFlag{Name: "epigraph", Usage: "`FILE` with epigraph markup, gets its own page"},
							&cli.BoolFlag{Name: "first-page", Usage: "mark as the book's first page"},
							&cli.BoolFlag{Name: "cover", Usage: "mark as the book's cover"},
						},
						ArgsUsage: "BOOK SOURCE",
					},
					{
						Name:         "update",
						Usage:        "Rewrites chapter content, failing on concurrent modification",
						OnUsageError: usageErrorHandler,
						Action:       updateChapter,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "title", Usage: "new chapter `TITLE`"},
							&cli.IntFlag{Name: "version", Usage: "expected chapter `VERSION`, fails when the stored one differs"},
						},
						ArgsUsage: "CHAPTER [SOURCE]",
					},
					{
						Name:         "rm",
						Usage:        "Deletes a chapter and all its subchapters",
						OnUsageError: usageErrorHandler,
						Action:       deleteChapter,
						ArgsUsage:    "CHAPTER",
					},
					{
						Name:         "reorder",
						Usage:        "Reassigns chapter order following the given ID sequence",
						OnUsageError: usageErrorHandler,
						Action:       reorderChapters,
						ArgsUsage:    "CHAPTER [CHAPTER...]",
					},
				},
			},
			{
				Name:  "dumpconfig",
				Usage: "Dumps either default or actual configuration (YAML)",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "default", Usage: "output default embedded configuration"},
				},
				OnUsageError: usageErrorHandler,
				Action:       outputConfiguration,
				ArgsUsage:    "DESTINATION",
				CustomHelpTemplate: fmt.Sprintf(`%s

DESTINATION:
    file name to write configuration to, if absent - STDOUT

Produces file with actual "active" configuration values wich is composition of
default values and values specified in configuration file. To see default
configuration embedded into the program use --default flag.
`, cli.CommandHelpTemplate),
			},
		},
	}

	var err error
	// NOTE: os.Exit is called at the end of main to set exit code, make sure
	// there are no other deffered functions after that
	defer func() {
		stop()
		if err != nil {
			// It may happen that log is either not set yet (argument parsing) or already closed,
			// report errors to stderr directly
			if !errWasHandled {
				fmt.Fprintf(os.Stderr, "Program ended with error: %v\n", err)
			}
			os.Exit(1)
		}
	}()
	err = app.Run(ctx, os.Args)
}

func outputConfiguration(ctx context.Context, cmd *cli.Command) error {

	env := state.EnvFromContext(ctx)
	if cmd.Args().Len() > 1 {
		env.Log.Warn("Malformed command line, too many destinations", zap.Strings("ignoring", cmd.Args().Slice()[1:]))
	}

	fname := cmd.Args().Get(0)

	var (
		err   error
		data  []byte
		state string
	)

	out := os.Stdout
	if len(fname) > 0 {
		out, err = os.Create(fname)
		if err != nil {
			return fmt.Errorf("unable to create destination file '%s': %w", fname, err)
		}
		defer out.Close()

	}

	if cmd.Bool("default") {
		state = "default"
		data, err = config.Prepare()
	} else {
		state = "actual"
		data, err = config.Dump(env.Cfg)
	}
	if err != nil {
		return fmt.Errorf("unable to get configuration: %w", err)
	}

	if len(fname) == 0 {
		fname = "STDOUT"
	}
	env.Log.Info("Outputing configuration", zap.String("state", state), zap.String("file", fname))

	_, err = out.Write(data)
	if err != nil {
		return fmt.Errorf("unable to write configuration: %w", err)
	}
	return nil
}
