// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/poiesic/pagerag"
	"github.com/poiesic/pagerag/config"
	"github.com/poiesic/pagerag/core"
	"github.com/poiesic/pagerag/search"
	"github.com/urfave/cli/v2"
)

var errQueryRequired = errors.New("query is required")

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "pagerag",
		Usage: "Scrapbox ingestion and retrieval for a vector knowledge base",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML configuration file",
				EnvVars: []string{"PAGERAG_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Path to a dotenv file (empty disables dotenv loading)",
				Value: config.DefaultEnvFile,
			},
			&cli.StringFlag{
				Name:    "project",
				Aliases: []string{"p"},
				Usage:   "Scrapbox project, overriding the configured one",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Fetch pages from Scrapbox, store them and index their embeddings",
				ArgsUsage: "[title]",
				Action:    ingestCommand,
			},
			{
				Name:      "search",
				Usage:     "Search indexed pages",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: []cli.Flag{
					topKFlag(),
					&cli.StringFlag{
						Name:  "source",
						Usage: "Only return documents from this source",
					},
					&cli.StringSliceFlag{
						Name:  "tag",
						Usage: "Only return documents carrying one of these tags",
					},
				},
			},
			{
				Name:      "ask",
				Usage:     "Answer a question from indexed pages",
				ArgsUsage: "<question>",
				Action:    askCommand,
				Flags:     []cli.Flag{topKFlag()},
			},
			{
				Name:   "status",
				Usage:  "Show the status of the retrieval backend",
				Action: statusCommand,
			},
			{
				Name:   "sync",
				Usage:  "Start a knowledge base sync unless one is already running",
				Action: syncCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "wait",
						Usage: "Wait for local sync jobs to finish",
						Value: true,
					},
				},
			},
			{
				Name:      "job",
				Usage:     "Show a sync job",
				ArgsUsage: "<job-id>",
				Action:    jobCommand,
			},
			{
				Name:      "notify",
				Usage:     "Process a change notification read from a file or stdin",
				ArgsUsage: "[file]",
				Action:    notifyCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "signature",
						Aliases: []string{"s"},
						Usage:   "Hex HMAC-SHA256 signature of the notification body",
					},
				},
			},
			{
				Name:   "reindex",
				Usage:  "Rebuild the vector index from pages already in the object store",
				Action: reindexCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of pages to embed in each batch",
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N pages",
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum retry attempts for failed operations",
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
					},
				},
			},
		},
	}
}

func topKFlag() cli.Flag {
	return &cli.IntFlag{
		Name:    "top-k",
		Aliases: []string{"k"},
		Usage:   "Number of results to retrieve",
		Value:   5,
	}
}

// loadConfig reads configuration from the global flags, the dotenv file and
// the environment.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var opts []config.LoadOption
	if path := c.String("config"); path != "" {
		opts = append(opts, config.WithFile(path))
	}
	if c.IsSet("env-file") {
		opts = append(opts, config.WithEnvFile(c.String("env-file")))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, err
	}
	if project := c.String("project"); project != "" {
		cfg.Source.Project = project
	}
	return cfg, nil
}

func openSystem(ctx context.Context, cfg *config.Config) (*pagerag.System, error) {
	system, err := pagerag.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open system: %w", err)
	}
	return system, nil
}

// withSystem loads configuration, opens a System and runs fn with it.
func withSystem(c *cli.Context, fn func(ctx context.Context, system *pagerag.System) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	system, err := openSystem(ctx, cfg)
	if err != nil {
		return err
	}
	defer system.Close()
	return fn(ctx, system)
}

func ingestCommand(c *cli.Context) error {
	return withSystem(c, func(ctx context.Context, system *pagerag.System) error {
		out := c.App.Writer
		if title := strings.TrimSpace(c.Args().First()); title != "" {
			result := system.Pipeline().ProcessOne(ctx, title)
			if !result.Success {
				return fmt.Errorf("ingestion of %q failed: %w", title, result.Err)
			}
			fmt.Fprintf(out, "Ingested %s (%s)\n", result.DocumentID, joinSteps(result.Steps))
			return nil
		}

		run := system.Pipeline().ProcessAll(ctx)
		if run.Err != nil {
			return fmt.Errorf("ingestion failed: %w", run.Err)
		}
		for _, page := range run.Pages {
			if !page.Success {
				fmt.Fprintf(out, "FAILED %s: %s\n", page.Title, page.Error())
			}
		}
		fmt.Fprintf(out, "Project %s: %d/%d pages ingested (%.1f%%), %d failed, %d skipped in %v\n",
			run.Project, run.Successful, run.TotalPages, run.SuccessRate()*100, run.Failed, run.Skipped,
			run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
		if run.Failed > 0 {
			return fmt.Errorf("%d of %d pages failed", run.Failed, run.TotalPages)
		}
		return nil
	})
}

func joinSteps(steps []core.Step) string {
	names := make([]string, len(steps))
	for i, step := range steps {
		names[i] = string(step)
	}
	return strings.Join(names, ", ")
}

func queryArg(c *cli.Context) (string, error) {
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return "", errQueryRequired
	}
	return query, nil
}

func searchCommand(c *cli.Context) error {
	query, err := queryArg(c)
	if err != nil {
		return err
	}
	var filter *core.SearchFilter
	if c.IsSet("source") || c.IsSet("tag") {
		filter = &core.SearchFilter{Source: c.String("source"), Tags: c.StringSlice("tag")}
	}
	return withSystem(c, func(ctx context.Context, system *pagerag.System) error {
		resp := system.Service().SearchDocuments(ctx, query, c.Int("top-k"), filter)
		if err := writeJSON(c.App.Writer, resp); err != nil {
			return err
		}
		return responseError(resp.Status, resp.Failure)
	})
}

func askCommand(c *cli.Context) error {
	query, err := queryArg(c)
	if err != nil {
		return err
	}
	return withSystem(c, func(ctx context.Context, system *pagerag.System) error {
		resp := system.Service().Ask(ctx, query, c.Int("top-k"))
		if err := writeJSON(c.App.Writer, resp); err != nil {
			return err
		}
		return responseError(resp.Status, resp.Failure)
	})
}

func statusCommand(c *cli.Context) error {
	return withSystem(c, func(ctx context.Context, system *pagerag.System) error {
		resp := system.Service().Status(ctx)
		if err := writeJSON(c.App.Writer, resp); err != nil {
			return err
		}
		return responseError(resp.Status, resp.Failure)
	})
}

func syncCommand(c *cli.Context) error {
	return withSystem(c, func(ctx context.Context, system *pagerag.System) error {
		result, err := system.Coordinator().TriggerSync(ctx)
		if err != nil {
			return fmt.Errorf("failed to start sync: %w", err)
		}
		if c.Bool("wait") && result.Started {
			system.WaitForJobs()
			job, err := system.Coordinator().JobStatus(ctx, result.JobID)
			if err != nil {
				return err
			}
			result.Job = job
		}
		return writeJSON(c.App.Writer, result)
	})
}

func jobCommand(c *cli.Context) error {
	jobID := strings.TrimSpace(c.Args().First())
	if jobID == "" {
		return errors.New("job id is required")
	}
	return withSystem(c, func(ctx context.Context, system *pagerag.System) error {
		job, err := system.Coordinator().JobStatus(ctx, jobID)
		if err != nil {
			return err
		}
		return writeJSON(c.App.Writer, job)
	})
}

func notifyCommand(c *cli.Context) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}
	return withSystem(c, func(ctx context.Context, system *pagerag.System) error {
		result, err := system.HandleNotification(ctx, body, c.String("signature"))
		if err != nil {
			return fmt.Errorf("notification rejected: %w", err)
		}
		if result.Sync != nil && result.Sync.Started {
			system.WaitForJobs()
		}
		return writeJSON(c.App.Writer, result)
	})
}

// readBody reads the notification from the file argument, or stdin when
// there is none or it is "-".
func readBody(c *cli.Context) ([]byte, error) {
	path := c.Args().First()
	if path == "" || path == "-" {
		reader := c.App.Reader
		if reader == nil {
			reader = os.Stdin
		}
		return io.ReadAll(reader)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read notification: %w", err)
	}
	return body, nil
}

func reindexCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("batch-size") {
		cfg.Reindex.BatchSize = c.Int("batch-size")
	}
	if c.IsSet("report-interval") {
		cfg.Reindex.ReportInterval = c.Int("report-interval")
	}
	if c.IsSet("max-retries") {
		cfg.Reindex.MaxRetries = c.Int("max-retries")
	}
	if c.IsSet("retry-delay") {
		cfg.Reindex.RetryDelay = c.Duration("retry-delay")
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	system, err := openSystem(ctx, cfg)
	if err != nil {
		return err
	}
	defer system.Close()

	storeURL, err := cfg.ObjectStoreURL()
	if err != nil {
		return err
	}

	progress := c.App.ErrWriter
	fmt.Fprintf(progress, "Project: %s\n", cfg.Source.Project)
	fmt.Fprintf(progress, "Object store: %s\n", storeURL)
	fmt.Fprintf(progress, "Embedding model: %s\n", system.Embedder().ModelInfo().ModelID)
	fmt.Fprintln(progress)

	reindexer, err := system.NewReindexer(progress)
	if err != nil {
		return err
	}
	if _, err := reindexer.Run(ctx); err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}
	return nil
}

// responseError turns a failed service response into a command error.
func responseError(status string, failure search.Failure) error {
	if status == search.StatusSuccess {
		return nil
	}
	if failure.Err != nil {
		return failure.Err
	}
	return fmt.Errorf("%s: %s", failure.Kind, failure.Message)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
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

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
