package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go-press/internal/config"
	"go-press/internal/data"
	"go-press/internal/database"
	"go-press/internal/errs"
	"go-press/internal/logger"
	"go-press/internal/service"

	flag "github.com/spf13/pflag"
)

// Env is what a command runs against.
type Env struct {
	Out     io.Writer
	Log     logger.Logger
	Pool    *database.Pool
	Repo    *data.Repository
	Service *service.PostService
}

// Exit codes.
const (
	ExitOK        = 0
	ExitFailure   = 1
	ExitUsage     = 2
	ExitMigration = 3
)

// Run parses args (without the program name), opens the storage file named
// by the configuration and dispatches to the command. It returns the exit
// code.
func Run(ctx context.Context, out, errOut io.Writer, args []string) int {
	flags := flag.NewFlagSet("pressctl", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	config.RegisterFlags(flags)
	flags.SetInterspersed(false)

	commands := Commands()

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(out, commands, flags)
			return ExitOK
		}
		fmt.Fprintln(errOut, "error:", err)
		printUsage(errOut, commands, flags)
		return ExitUsage
	}

	rest := flags.Args()
	if len(rest) == 0 || rest[0] == "help" {
		printUsage(out, commands, flags)
		return ExitOK
	}

	var cmd *Command
	for _, c := range commands {
		if c.Name() == rest[0] {
			cmd = c
		}
	}
	if cmd == nil {
		fmt.Fprintln(errOut, "error: unknown command:", rest[0])
		printUsage(errOut, commands, flags)
		return ExitUsage
	}
	if len(rest)-1 != cmd.Args {
		fmt.Fprintf(errOut, "error: usage: pressctl %s\n", cmd.Usage)
		return ExitUsage
	}

	cfg, err := config.LoadConfig(flags)
	if err != nil {
		fmt.Fprintln(errOut, "error: load config:", err)
		return ExitFailure
	}
	// Diagnostics go to errOut so command output stays parseable.
	log := logger.New(cfg.Log, errOut)

	pool, err := database.Open(cfg.DB, log)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return ExitFailure
	}
	defer pool.Close()

	repo := data.NewRepository(pool, log)
	env := &Env{
		Out:     out,
		Log:     log,
		Pool:    pool,
		Repo:    repo,
		Service: service.NewPostService(repo, nil, log),
	}

	ctx = data.WithActor(ctx, "pressctl")
	if err := cmd.Exec(ctx, env, rest[1:]); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		if errs.IsMigrationFailed(err) {
			return ExitMigration
		}
		return ExitFailure
	}
	return ExitOK
}

// Commands lists every pressctl subcommand in help order.
func Commands() []*Command {
	return []*Command{
		{Usage: "migrate", Short: "apply pending schema migrations", Exec: cmdMigrate},
		{Usage: "status", Short: "list migration steps and their state", Exec: cmdStatus},
		{Usage: "stats", Short: "print row counts and pool statistics as JSON", Exec: cmdStats},
		{Usage: "verify", Short: "compare the search index against posts", Exec: cmdVerify},
		{Usage: "reindex", Short: "rebuild the search index from posts", Exec: cmdReindex},
		{Usage: "export DIR", Short: "write every post to DIR as markdown", Args: 1, Exec: cmdExport},
		{Usage: "import DIR", Short: "create posts from markdown files in DIR", Args: 1, Exec: cmdImport},
	}
}

func joinSlugs(slugs []string) string {
	if len(slugs) == 0 {
		return "-"
	}
	return strings.Join(slugs, ", ")
}
