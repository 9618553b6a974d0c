package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dbgraph/procgraph-mcp/internal/analyzer"
	"github.com/dbgraph/procgraph-mcp/internal/config"
	"github.com/dbgraph/procgraph-mcp/internal/enrich"
	"github.com/dbgraph/procgraph-mcp/internal/graph"
	"github.com/dbgraph/procgraph-mcp/internal/loader"
	"github.com/dbgraph/procgraph-mcp/internal/tools"
	"github.com/dbgraph/procgraph-mcp/internal/watcher"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "procgraph.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	watch := flag.Bool("watch", false, "re-index the procedures directory when files change")
	flag.Parse()

	if *showVersion {
		fmt.Println("procgraph-mcp", version)
		os.Exit(0)
	}

	// stdout carries the MCP protocol; logs go to stderr.
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	cfg := config.Load(*configPath)

	g := graph.New(cfg.CachePath)

	var opts []analyzer.Option
	if cfg.ProceduresDir != "" {
		opts = append(opts, analyzer.WithFileLoader(loader.NewFileLoader(cfg.ProceduresDir)))
	}
	var db loader.DatabaseLoader
	if cfg.Database.Enabled() {
		var err error
		db, err = loader.Open(cfg.Database)
		if err != nil {
			log.Fatalf("database open err=%v", err)
		}
		opts = append(opts, analyzer.WithDatabase(db))
	}

	var enricher enrich.Enricher = enrich.Static{}
	if key := cfg.LLM.ResolveAPIKey(); key != "" {
		llm, err := enrich.NewOpenAI(key, cfg.LLM.Model)
		if err != nil {
			log.Fatalf("llm init err=%v", err)
		}
		enricher = llm
	}

	a := analyzer.New(g, enricher, opts...)
	srv := tools.NewServer(g, a)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *watch {
		if cfg.ProceduresDir == "" {
			log.Fatal("-watch requires procedures_dir in the config")
		}
		w := watcher.New(cfg.ProceduresDir, func(ctx context.Context) error {
			_, err := a.AnalyzeDirectory(ctx)
			return err
		})
		go w.Run(ctx)
	}

	runErr := srv.MCPServer().Run(ctx, &mcp.StdioTransport{})
	g.SaveToCache()
	if db != nil {
		db.Close()
	}
	if runErr != nil {
		log.Fatalf("server err=%v", runErr)
	}
}
