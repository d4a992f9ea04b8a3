// Command yarnstash is a terminal front end for the stash repository:
// listing inventory, checking availability, and moving whole stashes
// between devices as archives.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"yarnstash/internal/blob"
	"yarnstash/internal/stash"
	"yarnstash/pkg/domain"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

const usage = `usage: yarnstash <command> [flags]

commands:
  list                 print yarns, projects and patterns
  available <yarn-id>  print how much of a yarn is un-committed
  export <file>        write the whole stash as an archive
  import <file>        replace the stash with an archive's contents
  backups              list document backups
  restore <name>       restore the document from a backup

The storage backend comes from YARNSTASH_BLOB_DRIVER (fs, sqlite,
postgres, s3, memory) and its driver-specific variables.
`

func run(args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("yarnstash", flag.ContinueOnError)
	global.SetOutput(stderr)
	verbose := global.Bool("verbose", false, "enable debug logging")
	namespace := global.String("namespace", stash.DefaultNamespace, "blob prefix holding the stash")
	clamp := global.Bool("clamp", false, "floor availability at zero")
	excludeProject := global.Int("exclude-project", 0, "project id to exclude from availability")
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	if err := global.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}
	rest := global.Args()
	if len(rest) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: stderr}).Level(level).With().Timestamp().Logger()

	ctx := context.Background()
	store, err := blob.Open(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("open blob store")
		return 1
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}

	policy := domain.AllowNegative
	if *clamp {
		policy = domain.ClampToZero
	}
	repo := stash.New(store,
		stash.WithLogger(logger),
		stash.WithNamespace(*namespace),
		stash.WithAllocationPolicy(policy),
	)
	if _, err := repo.Load(ctx); err != nil {
		logger.Error().Err(err).Msg("load stash document")
		return 1
	}

	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "list":
		return cmdList(repo, stdout)
	case "available":
		return cmdAvailable(repo, cmdArgs, *excludeProject, stdout, stderr)
	case "export":
		return cmdExport(ctx, repo, logger, cmdArgs, stderr)
	case "import":
		return cmdImport(ctx, repo, logger, cmdArgs, stdout, stderr)
	case "backups":
		return cmdBackups(ctx, repo, stdout, stderr)
	case "restore":
		return cmdRestore(ctx, repo, cmdArgs, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}
}

func cmdList(repo *stash.Repository, stdout io.Writer) int {
	snap := repo.Snapshot()
	fmt.Fprintf(stdout, "yarns (%d):\n", len(snap.Yarns))
	for _, y := range snap.Yarns {
		assigned := domain.TotalAssigned(snap, y.ID)
		fmt.Fprintf(stdout, "  %10d  %-30s %5d total %5d assigned\n", y.ID, y.Name, y.Amount, assigned)
	}
	fmt.Fprintf(stdout, "projects (%d):\n", len(snap.Projects))
	for _, p := range snap.Projects {
		fmt.Fprintf(stdout, "  %10d  %-30s %s\n", p.ID, p.Name, p.Status())
	}
	fmt.Fprintf(stdout, "patterns (%d):\n", len(snap.Patterns))
	for _, p := range snap.Patterns {
		fmt.Fprintf(stdout, "  %10d  %s\n", p.ID, p.Name)
	}
	return 0
}

func cmdAvailable(repo *stash.Repository, args []string, excludeProject int, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: yarnstash available <yarn-id>")
		return 2
	}
	var yarnID int
	if _, err := fmt.Sscanf(args[0], "%d", &yarnID); err != nil {
		fmt.Fprintf(stderr, "invalid yarn id %q\n", args[0])
		return 2
	}
	var exclude *int
	if excludeProject != 0 {
		exclude = &excludeProject
	}
	available, err := repo.Available(yarnID, exclude)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintln(stdout, available)
	return 0
}

func cmdExport(ctx context.Context, repo *stash.Repository, logger zerolog.Logger, args []string, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: yarnstash export <file>")
		return 2
	}
	orch := stash.NewOrchestrator(repo, stash.WithOrchestratorLogger(logger))
	buf, err := orch.ExportArchive(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("export archive")
		return 1
	}
	if err := os.WriteFile(args[0], buf, 0o644); err != nil {
		logger.Error().Err(err).Msg("write archive file")
		return 1
	}
	logger.Info().Str("file", args[0]).Int("bytes", len(buf)).Msg("exported stash")
	return 0
}

func cmdImport(ctx context.Context, repo *stash.Repository, logger zerolog.Logger, args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: yarnstash import <file>")
		return 2
	}
	buf, err := os.ReadFile(args[0])
	if err != nil {
		logger.Error().Err(err).Msg("read archive file")
		return 1
	}
	orch := stash.NewOrchestrator(repo, stash.WithOrchestratorLogger(logger))
	backup, err := orch.ImportArchive(ctx, buf)
	if err != nil {
		logger.Error().Err(err).Msg("import archive")
		return 1
	}
	if backup != "" {
		fmt.Fprintf(stdout, "previous stash retained under %s/\n", backup)
	}
	return 0
}

func cmdBackups(ctx context.Context, repo *stash.Repository, stdout, stderr io.Writer) int {
	backups, err := repo.ListBackups(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	for _, name := range backups {
		fmt.Fprintln(stdout, name)
	}
	return 0
}

func cmdRestore(ctx context.Context, repo *stash.Repository, args []string, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: yarnstash restore <name>")
		return 2
	}
	if err := repo.RestoreFromBackup(ctx, args[0]); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}
