package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/dshills/repovec-mcp/internal/app"
	"github.com/dshills/repovec-mcp/internal/config"
	"github.com/dshills/repovec-mcp/internal/indexer"
	"github.com/dshills/repovec-mcp/internal/mcp"
	"github.com/dshills/repovec-mcp/internal/searcher"
	"github.com/dshills/repovec-mcp/internal/vectorstore"
	"github.com/dshills/repovec-mcp/pkg/types"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	indexFlag := &cli.StringFlag{
		Name:    "index",
		Aliases: []string{"i"},
		Usage:   "Index to use: documents or issues",
		Value:   "documents",
	}
	namespaceFlag := &cli.StringFlag{
		Name:     "namespace",
		Aliases:  []string{"n"},
		Usage:    "Namespace inside the index",
		Required: true,
	}

	return &cli.App{
		Name:  "repovec",
		Usage: "Chunk, embed and retrieve repositories and issues for agents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (default ~/.repovec/config.toml)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the MCP server on stdio",
				Action: serveCommand,
			},
			{
				Name:      "ingest-repo",
				Usage:     "Ingest a checked-out repository into the documents index",
				ArgsUsage: "<path>",
				Action:    ingestRepoCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "namespace",
						Aliases: []string{"n"},
						Usage:   "Target namespace (defaults to the directory name)",
					},
					&cli.StringSliceFlag{
						Name:  "include",
						Usage: "Glob of files to ingest, repeatable (e.g. **/*.py)",
					},
					&cli.BoolFlag{
						Name:  "code-only",
						Usage: "Without --include, ingest only common source and documentation files",
					},
				},
			},
			{
				Name:      "ingest-issues",
				Usage:     "Ingest the issues of a GitHub repository into the issues index",
				ArgsUsage: "<owner/repo>",
				Action:    ingestIssuesCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "namespace",
						Aliases: []string{"n"},
						Usage:   "Target namespace (defaults to the slug)",
					},
				},
			},
			{
				Name:      "query",
				Usage:     "Semantic search",
				ArgsUsage: "<text>",
				Action:    queryCommand,
				Flags: []cli.Flag{
					indexFlag,
					namespaceFlag,
					&cli.IntFlag{
						Name:    "top-k",
						Aliases: []string{"k"},
						Usage:   "Number of matches",
						Value:   searcher.DefaultTopK,
					},
				},
			},
			{
				Name:      "fetch",
				Usage:     "Fetch chunks by id",
				ArgsUsage: "<id>...",
				Action:    fetchCommand,
				Flags:     []cli.Flag{indexFlag, namespaceFlag},
			},
			{
				Name:      "fetch-prefix",
				Usage:     "Fetch every chunk of one document",
				ArgsUsage: "<prefix>",
				Action:    fetchPrefixCommand,
				Flags:     []cli.Flag{indexFlag, namespaceFlag},
			},
			{
				Name:      "fetch-next",
				Usage:     "Fetch the chunk after the given id",
				ArgsUsage: "<id>",
				Action:    fetchNextCommand,
				Flags:     []cli.Flag{indexFlag, namespaceFlag},
			},
			{
				Name:   "prefixes",
				Usage:  "List document prefixes of a namespace",
				Action: prefixesCommand,
				Flags:  []cli.Flag{indexFlag, namespaceFlag},
			},
			{
				Name:      "combine",
				Usage:     "Reassemble a document within a token budget",
				ArgsUsage: "<prefix>",
				Action:    combineCommand,
				Flags: []cli.Flag{
					indexFlag,
					namespaceFlag,
					&cli.IntFlag{
						Name:  "budget",
						Usage: "Token budget (defaults to [reassembly] budget)",
					},
					&cli.IntFlag{
						Name:  "seed",
						Usage: "Keep chunks nearest this ordinal when over budget (-1 disables)",
						Value: -1,
					},
				},
			},
			{
				Name:   "clear",
				Usage:  "Delete every record of a namespace",
				Action: clearCommand,
				Flags:  []cli.Flag{indexFlag, namespaceFlag},
			},
			{
				Name:   "init-config",
				Usage:  "Write the default configuration file",
				Action: initConfigCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Overwrite an existing file",
					},
				},
			},
			{
				Name:   "version",
				Usage:  "Print version and build information",
				Action: versionCommand,
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	// stdout is reserved for the MCP protocol and command output
	logger := slog.New(slog.NewTextHandler(c.App.ErrWriter, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return nil
}

// openApp loads the configuration and builds the application
func openApp(c *cli.Context) (*app.App, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if err := ensureStoreDir(cfg); err != nil {
		return nil, err
	}
	return app.Open(c.Context, cfg)
}

// ensureStoreDir creates the parent directory of an on-disk store
func ensureStoreDir(cfg *config.Config) error {
	path := cfg.Store.Path
	if path == "" || path == ":memory:" || strings.EqualFold(cfg.Store.Backend, vectorstore.BackendPinecone) {
		return nil
	}
	if strings.EqualFold(cfg.Store.Backend, vectorstore.BackendBadger) {
		return os.MkdirAll(path, 0o755)
	}
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

func withApp(c *cli.Context, fn func(*app.App) error) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("failed to close stores", "error", err)
		}
	}()
	return fn(a)
}

func serveCommand(c *cli.Context) error {
	return withApp(c, func(a *app.App) error {
		server, err := mcp.NewServer(a)
		if err != nil {
			return fmt.Errorf("failed to create MCP server: %w", err)
		}
		slog.Info("repovec MCP server starting", "version", version)
		err = server.Serve(c.Context)
		slog.Info("server stopped")
		return err
	})
}

func ingestRepoCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("expected exactly one repository path")
	}
	path, err := filepath.Abs(c.Args().First())
	if err != nil {
		return err
	}
	namespace := c.String("namespace")
	if namespace == "" {
		namespace = filepath.Base(path)
	}

	return withApp(c, func(a *app.App) error {
		loader, err := a.RepoLoader(c.StringSlice("include"), c.Bool("code-only"))
		if err != nil {
			return err
		}
		docs, err := loader.Load(c.Context, path)
		if err != nil {
			return err
		}
		stats, err := a.Documents.Ingester.Run(c.Context, namespace, docs)
		return reportRun(c.App.Writer, stats, err)
	})
}

func ingestIssuesCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("expected exactly one owner/repo slug")
	}
	slug := c.Args().First()
	namespace := c.String("namespace")
	if namespace == "" {
		namespace = slug
	}

	return withApp(c, func(a *app.App) error {
		loader, err := a.IssueLoader(c.Context)
		if err != nil {
			return err
		}
		docs, err := loader.Load(c.Context, slug)
		if err != nil {
			return err
		}
		stats, err := a.Issues.Ingester.Run(c.Context, namespace, docs)
		return reportRun(c.App.Writer, stats, err)
	})
}

// reportRun prints whatever statistics a run produced, then its error
func reportRun(w io.Writer, stats *indexer.Statistics, runErr error) error {
	if stats != nil {
		if err := printJSON(w, stats); err != nil {
			return err
		}
	}
	return runErr
}

func queryCommand(c *cli.Context) error {
	text := strings.Join(c.Args().Slice(), " ")
	return withIndex(c, func(a *app.App, idx *app.Index) error {
		results, err := idx.Reader.Query(c.Context, searcher.QueryRequest{
			Text:      text,
			TopK:      c.Int("top-k"),
			Namespace: c.String("namespace"),
		})
		if err != nil {
			return err
		}
		return printJSON(c.App.Writer, toViews(results))
	})
}

func fetchCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("expected at least one chunk id")
	}
	return withIndex(c, func(a *app.App, idx *app.Index) error {
		results, err := idx.Reader.FetchByIDs(c.Context, c.Args().Slice(), c.String("namespace"), false)
		if err != nil {
			return err
		}
		return printJSON(c.App.Writer, toViews(results))
	})
}

func fetchPrefixCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("expected exactly one prefix")
	}
	return withIndex(c, func(a *app.App, idx *app.Index) error {
		results, err := idx.Reader.FetchByPrefix(c.Context, c.Args().First(), c.String("namespace"))
		if err != nil {
			return err
		}
		return printJSON(c.App.Writer, toViews(results))
	})
}

func fetchNextCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("expected exactly one chunk id")
	}
	return withIndex(c, func(a *app.App, idx *app.Index) error {
		next, err := idx.Reader.FetchNext(c.Context, c.Args().First(), c.String("namespace"))
		if err != nil {
			return err
		}
		if next == nil {
			return printJSON(c.App.Writer, []resultView{})
		}
		return printJSON(c.App.Writer, []resultView{toView(*next)})
	})
}

func prefixesCommand(c *cli.Context) error {
	return withIndex(c, func(a *app.App, idx *app.Index) error {
		prefixes, err := idx.Reader.ListPrefixes(c.Context, c.String("namespace"))
		if err != nil {
			return err
		}
		for _, p := range prefixes {
			fmt.Fprintln(c.App.Writer, p)
		}
		return nil
	})
}

func combineCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("expected exactly one prefix")
	}
	return withIndex(c, func(a *app.App, idx *app.Index) error {
		results, err := idx.Reader.FetchByPrefix(c.Context, c.Args().First(), c.String("namespace"))
		if err != nil {
			return err
		}
		if len(results) == 0 {
			return fmt.Errorf("no chunks stored under prefix %q", c.Args().First())
		}

		chunks := make([]types.Chunk, len(results))
		for i := range results {
			chunks[i] = results[i].AsChunk()
		}

		budget := c.Int("budget")
		if budget == 0 {
			budget = a.Config.Reassembly.Budget
		}

		var text string
		if seed := c.Int("seed"); seed >= 0 {
			text, _, err = a.Reassembler.CombineAround(chunks, seed, budget)
		} else {
			text, err = a.Reassembler.Combine(chunks, budget)
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, text)
		return nil
	})
}

func clearCommand(c *cli.Context) error {
	return withIndex(c, func(a *app.App, idx *app.Index) error {
		namespace := c.String("namespace")
		if err := idx.Store.DeleteNamespace(c.Context, namespace); err != nil {
			return err
		}
		slog.Info("namespace cleared", "index", idx.Name, "namespace", namespace)
		return nil
	})
}

func initConfigCommand(c *cli.Context) error {
	path := c.String("config")
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	if _, err := os.Stat(path); err == nil && !c.Bool("force") {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.Default().Save(path); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, path)
	return nil
}

func versionCommand(c *cli.Context) error {
	w := c.App.Writer
	fmt.Fprintf(w, "repovec MCP Server\n")
	fmt.Fprintf(w, "Version: %s\n", version)
	fmt.Fprintf(w, "Build Time: %s\n", buildTime)
	fmt.Fprintf(w, "Build Mode: %s\n", vectorstore.BuildMode)
	fmt.Fprintf(w, "SQLite Driver: %s\n", vectorstore.DriverName)
	return nil
}

func withIndex(c *cli.Context, fn func(*app.App, *app.Index) error) error {
	return withApp(c, func(a *app.App) error {
		idx, err := a.IndexFor(c.String("index"))
		if err != nil {
			return err
		}
		return fn(a, idx)
	})
}

// resultView is the printed shape of one chunk
type resultView struct {
	ID       string   `json:"id"`
	Score    *float64 `json:"score,omitempty"`
	Text     string   `json:"text"`
	Metadata any      `json:"metadata"`
}

func toView(r types.SearchResult) resultView {
	v := resultView{ID: r.ID.String(), Score: r.Score, Text: r.Text}
	if r.Issue != nil {
		v.Metadata = r.Issue
	} else {
		v.Metadata = r.Code
	}
	return v
}

func toViews(results []types.SearchResult) []resultView {
	views := make([]resultView, len(results))
	for i, r := range results {
		views[i] = toView(r)
	}
	return views
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
