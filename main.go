package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fabfab/counselor/api"
	"github.com/fabfab/counselor/chat"
	"github.com/fabfab/counselor/database"
	"github.com/fabfab/counselor/dbtgen"
	"github.com/fabfab/counselor/knowledge"
	"github.com/fabfab/counselor/tui"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &appOptions{}
	root := &cobra.Command{
		Use:          "counselor",
		Short:        "Job-search counselor, Python code polisher and dbt unit-test generator",
		SilenceUsage: true,
	}
	root.SetOut(os.Stdout)
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "optional YAML file overlaid on the environment")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "development logging")

	root.AddCommand(
		newIngestCmd(opts),
		newChatCmd(opts),
		newAskCmd(opts),
		newServeCmd(opts),
		newPolishCmd(opts),
		newDBTTestCmd(opts),
		newClearCmd(opts),
	)
	return root
}

// withApp builds the app for one command run and closes it afterwards.
func withApp(opts *appOptions, run func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(*opts)
		if err != nil {
			return err
		}
		defer a.Close()
		return run(cmd.Context(), a, cmd, args)
	}
}

func newIngestCmd(opts *appOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Read job postings, chunk them and build the index",
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			if file == "" {
				file = a.cfg.JobsCSV
			}
			_, handle, report, err := a.buildIndex(ctx, file)
			if err != nil {
				return err
			}

			cmd.Printf("Rows read: %d, ingested: %d, skipped: %d\n", report.Rows, report.Ingested, len(report.Skipped))
			for _, skipped := range report.Skipped {
				cmd.Printf("  skipped: %v\n", skipped)
			}
			cmd.Printf("Indexed %d chunks (%s backend, index %s)\n", handle.Chunks, a.cfg.IndexBackend, handle.ID)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "postings CSV/TSV (default JOBS_CSV)")
	return cmd
}

func newChatCmd(opts *appOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the terminal chat with the job counselor",
		RunE: func(cmd *cobra.Command, args []string) error {
			chatOpts := *opts
			if chatOpts.logFile == "" {
				chatOpts.logFile = "counselor.log"
			}
			return withApp(&chatOpts, func(ctx context.Context, a *app, _ *cobra.Command, _ []string) error {
				responder, err := a.responder(ctx)
				if err != nil {
					return err
				}
				return tui.Run(ctx, responder, chat.NewSession(), "Job Counselor")
			})(cmd, args)
		},
	}
	cmd.Flags().StringVar(&opts.logFile, "log-file", "", "log destination while the chat is open (default counselor.log)")
	return cmd
}

func newAskCmd(opts *appOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question and print the answer",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			question := ""
			if len(args) == 1 {
				question = args[0]
			}
			if strings.TrimSpace(question) == "" {
				cmd.Print("Enter your question: ")
				scanner := bufio.NewScanner(cmd.InOrStdin())
				if scanner.Scan() {
					question = scanner.Text()
				}
				if err := scanner.Err(); err != nil {
					return fmt.Errorf("read question: %w", err)
				}
			}

			responder, err := a.responder(ctx)
			if err != nil {
				return err
			}
			resp, err := responder.Ask(ctx, chat.NewSession(), question)
			if err != nil {
				return err
			}

			cmd.Println(resp.Answer)
			if len(resp.Sources) > 0 {
				cmd.Println()
				cmd.Println("Sources:")
				for idx, source := range resp.Sources {
					cmd.Printf("%d. %s at %s (score %.3f)\n", idx+1, source.Title, source.Employer, source.Score)
					if source.Insight.PostingCount > 0 {
						cmd.Printf("   %s has %d postings\n", source.Employer, source.Insight.PostingCount)
					}
				}
			}
			return nil
		}),
	}
}

func newServeCmd(opts *appOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: withApp(opts, func(ctx context.Context, a *app, _ *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.cfg.HTTPAddr
			}

			responder, err := a.responder(ctx)
			if err != nil {
				return err
			}

			var generator api.TestGenerator
			if gen, err := a.dbtGenerator(""); err != nil {
				a.logger.Warn("dbt test generation disabled", zap.Error(err))
			} else {
				generator = gen
			}

			srv := api.New(api.Options{
				Responder:     responder,
				Polisher:      a.polisher(),
				TestGenerator: generator,
				Gatherer:      a.registry,
				Logger:        a.logger,
			})
			return srv.ListenAndServe(ctx, addr)
		}),
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default HTTP_ADDR)")
	return cmd
}

func newPolishCmd(opts *appOptions) *cobra.Command {
	var (
		file  string
		label string
	)
	cmd := &cobra.Command{
		Use:   "polish",
		Short: "Rewrite Python code for efficiency",
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			var (
				code []byte
				err  error
			)
			if file == "" || file == "-" {
				code, err = io.ReadAll(cmd.InOrStdin())
			} else {
				code, err = os.ReadFile(file)
			}
			if err != nil {
				return fmt.Errorf("read code: %w", err)
			}

			improved, err := a.polisher().Improve(ctx, string(code), label)
			if err != nil {
				return err
			}
			cmd.Println(improved)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Python file to improve (default stdin)")
	cmd.Flags().StringVarP(&label, "model", "m", "GPT-4", "model label: GPT-4, GPT-4o, GPT-4o mini, GPT-3.5, Claude or Llama")
	return cmd
}

func newDBTTestCmd(opts *appOptions) *cobra.Command {
	var (
		modelPath  string
		outputPath string
		model      string
	)
	cmd := &cobra.Command{
		Use:   "dbt-test",
		Short: "Generate dbt unit tests for a model file",
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			generator, err := a.dbtGenerator(model)
			if err != nil {
				return err
			}
			path, err := generator.GenerateFile(ctx, modelPath, outputPath)
			if err != nil {
				return err
			}
			cmd.Printf("Unit test saved to: %s\n", path)
			return nil
		}),
	}
	cmd.Flags().StringVar(&modelPath, "model-path", "", "path to the dbt model file")
	cmd.Flags().StringVar(&outputPath, "output-path", "", "directory for the generated test")
	cmd.Flags().StringVar(&model, "model", dbtgen.DefaultModel, "OpenAI model to use")
	_ = cmd.MarkFlagRequired("model-path")
	_ = cmd.MarkFlagRequired("output-path")
	return cmd
}

func newClearCmd(opts *appOptions) *cobra.Command {
	var confirmed bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove indexed postings from Postgres and Neo4j",
		RunE: withApp(opts, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			if !confirmed {
				cmd.Print("This will permanently delete indexed postings from Postgres and Neo4j. Continue? [y/N]: ")
				scanner := bufio.NewScanner(cmd.InOrStdin())
				answer := ""
				if scanner.Scan() {
					answer = strings.ToLower(strings.TrimSpace(scanner.Text()))
				}
				if answer != "y" && answer != "yes" {
					cmd.Println("clear aborted")
					return nil
				}
			}

			pool, err := a.postgres(ctx)
			if err != nil {
				return err
			}
			if err := database.TruncateRAG(ctx, pool); err != nil {
				return err
			}
			a.logger.Info("cleared postgres rag_documents and rag_chunks")

			driver, err := a.graph(ctx)
			if err != nil {
				return err
			}
			if driver != nil {
				if err := knowledge.Purge(ctx, driver); err != nil {
					return fmt.Errorf("clear neo4j: %w", err)
				}
				a.logger.Info("cleared neo4j employers, postings and chunks")
			}

			cmd.Println("Indexed data removed.")
			return nil
		}),
	}
	cmd.Flags().BoolVarP(&confirmed, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}
