package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/coverbeam/coverbeam/internal/agenthttp"
	"github.com/coverbeam/coverbeam/internal/application"
	"github.com/coverbeam/coverbeam/internal/config"
	"github.com/coverbeam/coverbeam/internal/domain"
	"github.com/coverbeam/coverbeam/internal/engines"
	"github.com/coverbeam/coverbeam/internal/interval"
	"github.com/coverbeam/coverbeam/internal/notifier"
	"github.com/coverbeam/coverbeam/internal/report"
	"github.com/coverbeam/coverbeam/internal/runtime"
	"github.com/coverbeam/coverbeam/internal/upload"
)

// Default report formats per mode.
const (
	formatTestwise = "TESTWISE_COVERAGE"
	formatSession  = "COVERAGE_XML"
)

var (
	includeFlags []string
	excludeFlags []string
	impactedFlag bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the coverage agent",
	Long: `Run the agent in the mode the configuration selects. Testwise mode
discovers and executes the configured engines' tests, attributing
coverage at each test boundary. Interval mode dumps whole-process
coverage on a fixed period.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Loader{}.Load(configPathFlag)
		if err != nil {
			return fmt.Errorf("loading %s: %w", configPathFlag, err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Earlier failed deliveries are retried before new ones are
		// produced, so the oldest reports go out first.
		result := upload.RetryScan(ctx, cfg.OutputDir)
		if result.Attempted > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "retried %d pending uploads: %d delivered, %d remaining\n",
				result.Attempted, result.Delivered, result.Remaining)
		}

		if cfg.Mode == config.ModeInterval {
			return runInterval(ctx, cmd, cfg)
		}
		return runTestwise(ctx, cmd, cfg)
	},
}

func init() {
	runCmd.Flags().StringArrayVar(&includeFlags, "include", nil, "only discover tests whose uniform path contains the pattern (repeatable)")
	runCmd.Flags().StringArrayVar(&excludeFlags, "exclude", nil, "skip tests whose uniform path contains the pattern (repeatable)")
	runCmd.Flags().BoolVar(&impactedFlag, "impacted", false, "ask the server for impacted tests and run only those, most valuable first")
	rootCmd.AddCommand(runCmd)
}

// buildUploader returns nil when no server is configured; reports then
// stay on disk only.
func buildUploader(cfg *config.Config, format string) *upload.Uploader {
	if cfg.Server == nil {
		return nil
	}
	s := cfg.Server
	if s.Format != "" {
		format = s.Format
	}
	client := upload.NewClient(upload.ClientConfig{
		ServerURL: s.URL,
		Project:   s.Project,
		User:      s.User,
		AccessKey: os.Getenv(s.AccessKeyEnv),
	})
	return upload.NewUploader(client, upload.UploadOptions{
		Format:    format,
		Partition: s.Partition,
		Message:   s.Message,
		Revision:  s.Revision,
	}, s.AccessKeyEnv)
}

func partitionOf(cfg *config.Config) string {
	if cfg.Server != nil {
		return cfg.Server.Partition
	}
	return ""
}

// startControlServer exposes the live reconfiguration surface when an
// address is configured.
func startControlServer(cfg *config.Config, agent *application.Agent) *agenthttp.Server {
	if cfg.ControlAddr == "" {
		return nil
	}
	srv := agenthttp.NewServer(cfg.ControlAddr, agent)
	srv.Start()
	return srv
}

func stopControlServer(srv *agenthttp.Server) {
	if srv == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// sessionFlush ships one dump as a session XML report: written to
// outDir and uploaded when a server is configured. Reconfiguration
// dumps in both modes go through this path, so coverage flushed before
// a change is delivered, never discarded.
func sessionFlush(ctx context.Context, outDir string, uploader *upload.Uploader) application.FlushFunc {
	return func(dump domain.Dump) error {
		path, err := report.WriteSessionXMLFile(outDir, dump)
		if err != nil {
			return err
		}
		if uploader == nil {
			return nil
		}
		return uploader.Upload(ctx, path)
	}
}

func runInterval(ctx context.Context, cmd *cobra.Command, cfg config.Config) error {
	controller := runtime.NewController(runtime.GoRuntime{}, partitionOf(&cfg))
	uploader := buildUploader(&cfg, formatSession)

	var intervalUploader interval.Uploader
	if uploader != nil {
		intervalUploader = uploader
	}

	opts := []interval.Option{}
	if cfg.Interval > 0 {
		opts = append(opts, interval.WithInterval(cfg.Interval))
	}
	dumper := interval.New(controller, intervalUploader, cfg.OutputDir, opts...)

	agent := application.NewAgent(controller, sessionFlush(ctx, cfg.OutputDir, uploader))
	control := startControlServer(&cfg, agent)
	defer stopControlServer(control)

	dumper.Start(ctx)
	<-ctx.Done()

	// The timer must be stopped before the shutdown dump so a scheduled
	// dump cannot race it.
	dumper.Stop()
	if cfg.ShutdownDump {
		dumper.DumpOnce(context.WithoutCancel(ctx))
	}
	return nil
}

// teeSink records test coverage both into the split report writer and
// into memory for the exec-data file.
type teeSink struct {
	writer *report.SplitWriter

	mu       sync.Mutex
	recorded []domain.TestCoverage
}

func (s *teeSink) Append(tc domain.TestCoverage) error {
	s.mu.Lock()
	s.recorded = append(s.recorded, tc)
	s.mu.Unlock()
	return s.writer.Append(tc)
}

func (s *teeSink) Recorded() []domain.TestCoverage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TestCoverage, len(s.recorded))
	copy(out, s.recorded)
	return out
}

func runTestwise(ctx context.Context, cmd *cobra.Command, cfg config.Config) error {
	controller := runtime.NewController(runtime.GoRuntime{}, partitionOf(&cfg))
	uploader := buildUploader(&cfg, formatTestwise)

	splitOpts := []report.SplitOption{}
	if cfg.SplitAfter > 0 {
		splitOpts = append(splitOpts, report.WithSplitAfter(cfg.SplitAfter))
	}
	writer := report.NewSplitWriter(cfg.OutputDir, "report", splitOpts...)
	sink := &teeSink{writer: writer}

	var boundary application.BoundaryNotifier
	if len(cfg.Endpoints) > 0 {
		boundary = notifier.New(cfg.Endpoints, notifier.DefaultTimeout)
	}
	listener := application.NewBoundaryListener(boundary, controller, sink)

	testEngines := engines.FromConfig(cfg.Engines)
	orch := application.NewOrchestrator(testEngines, boundary, listener,
		application.WithArtifactWriter(report.DirWriter{Dir: cfg.OutputDir}),
		application.WithFlusher(writer),
		application.WithArtifactStore(report.ExecDataStore{Dir: filepath.Join(cfg.OutputDir, "exec-data")}),
		application.WithOutputDirs(report.EngineDirs{Root: cfg.OutputDir}),
		application.WithExecutionConfig(application.ExecutionConfig{SessionID: partitionOf(&cfg)}),
	)

	// Reconfiguration dumps are whole-interval coverage, not attributable
	// to a single test, so they ship as session reports.
	agent := application.NewAgent(controller, sessionFlush(ctx, cfg.OutputDir, buildUploader(&cfg, formatSession)))
	control := startControlServer(&cfg, agent)
	defer stopControlServer(control)

	merged, err := orch.Discover(ctx, application.DiscoveryRequest{
		IncludePatterns: includeFlags,
		ExcludePatterns: excludeFlags,
	})
	if err != nil {
		return err
	}

	if impactedFlag {
		policy, err := impactedPolicy(ctx, &cfg, merged)
		if err != nil {
			return err
		}
		application.WithPolicy(policy)(orch)
	}

	result, err := orch.Execute(ctx, merged)
	if result != nil {
		writeSummary(cmd.OutOrStdout(), result)
	}
	if err != nil {
		return err
	}

	execDataPath := filepath.Join(cfg.OutputDir, "exec-data.json")
	if writeErr := report.WriteExecData(execDataPath, sink.Recorded()); writeErr != nil {
		return fmt.Errorf("writing exec data: %w", writeErr)
	}

	if uploader != nil {
		for _, shard := range writer.Files() {
			if upErr := uploader.Upload(context.WithoutCancel(ctx), shard); upErr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "upload of %s failed, retry marker written\n", shard)
			}
		}
	}
	return nil
}

// impactedPolicy asks the server which of the discovered tests are worth
// running, ranked most valuable first.
func impactedPolicy(ctx context.Context, cfg *config.Config, merged *domain.TestNode) (application.SelectionPolicy, error) {
	if cfg.Server == nil {
		return nil, fmt.Errorf("--impacted needs a configured server")
	}
	client := upload.NewClient(upload.ClientConfig{
		ServerURL: cfg.Server.URL,
		Project:   cfg.Server.Project,
		User:      cfg.Server.User,
		AccessKey: os.Getenv(cfg.Server.AccessKeyEnv),
	})
	available := make([]domain.TestPath, 0)
	for _, leaf := range domain.UniformLeaves(merged) {
		available = append(available, leaf.Path)
	}
	ranked, err := client.ImpactedTests(ctx, available, cfg.Server.Partition)
	if err != nil {
		return nil, fmt.Errorf("fetching impacted tests: %w", err)
	}
	return application.NewImpactedPolicy(ranked), nil
}
