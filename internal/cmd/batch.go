package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/daniel-caso-github/users-insights/internal/core"
	"github.com/daniel-caso-github/users-insights/internal/metrics"
	"github.com/daniel-caso-github/users-insights/internal/observability"
	"github.com/daniel-caso-github/users-insights/internal/output"
)

var batchCmd = &cobra.Command{
	Use:   "batch [username...]",
	Short: "Compute insights for several users",
	Long: `Compute insights for several users in one invocation.

Usernames come from positional arguments or from --file (one per line,
blank lines and # comments ignored). All runs share one rate limiter so the
per-endpoint budgets apply across the whole batch.`,
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().String("file", "", "Read usernames from file (one per line)")
	batchCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table, json, markdown, yaml")
	batchCmd.Flags().String("out", "", "Write output to a file (default stdout)")
	batchCmd.Flags().Bool("show-outcomes", false, "Include per-metric outcomes")
	batchCmd.Flags().Int("parallel", 0, "Users processed at once (default workers setting)")
	batchCmd.Flags().Bool("fail-fast", false, "Stop at the first user that errors")
}

func runBatch(cmd *cobra.Command, args []string) error {
	dest, err := resolveDestination(cmd, "batch.insights")
	if err != nil {
		return err
	}
	showOutcomes, err := cmd.Flags().GetBool("show-outcomes")
	if err != nil {
		return err
	}
	failFast, err := cmd.Flags().GetBool("fail-fast")
	if err != nil {
		return err
	}
	filePath, err := cmd.Flags().GetString("file")
	if err != nil {
		return err
	}

	subjects := subjectsFromArgs(args)
	if strings.TrimSpace(filePath) != "" {
		fromFile, err := readBatchSubjects(filePath)
		if err != nil {
			return err
		}
		subjects = append(subjects, fromFile...)
	}
	subjects = dedupeSubjects(subjects)
	if len(subjects) == 0 {
		return errors.New("no usernames given (pass arguments or --file)")
	}

	cfg, err := loadedConfig(cmd)
	if err != nil {
		return err
	}

	parallel, err := cmd.Flags().GetInt("parallel")
	if err != nil {
		return err
	}
	if parallel < 0 {
		return errors.New("parallel must not be negative")
	}
	if parallel == 0 {
		parallel = cfg.Workers
	}

	ctx := cmd.Context()
	rt, err := buildRuntime(ctx, cfg, observability.CLILogger)
	if err != nil {
		return err
	}
	defer rt.Close() // nolint:errcheck // best-effort cleanup

	startedAt := time.Now()
	results, err := runBatchSubjects(ctx, rt.Orchestrator, subjects, parallel, failFast)
	if err != nil {
		return err
	}

	rendered, err := output.FormatBatchList(dest.format, output.Options{ShowOutcomes: showOutcomes}, results)
	if err != nil {
		return err
	}
	if _, err := dest.write(rendered); err != nil {
		return err
	}

	logThroughput(len(results), startedAt)
	return nil
}

type batchJob struct {
	index   int
	subject core.Subject
}

func runBatchSubjects(ctx context.Context, runner subjectRunner, subjects []core.Subject, parallel int, failFast bool) ([]*core.BatchResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]*core.BatchResult, len(subjects))
	jobs := make(chan batchJob)

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	setErr := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	worker := func() {
		defer wg.Done()
		for job := range jobs {
			if ctx.Err() != nil {
				return
			}
			report, err := runner.Run(ctx, job.subject)
			metrics.RecordOperation("insights", err == nil)
			results[job.index] = batchResult(job.subject, report, err)
			if err != nil {
				metrics.RecordOperationError("insights", runErrorType(err))
				if observability.CLILogger != nil {
					observability.CLILogger.Warn("Insights run failed",
						zap.String("subject", job.subject.String()),
						zap.Error(err))
				}
				if failFast {
					setErr(fmt.Errorf("%s: %w", job.subject, err))
					return
				}
			}
		}
	}

	if parallel < 1 {
		parallel = 1
	}
	if parallel > len(subjects) {
		parallel = len(subjects)
	}
	for i := 0; i < parallel; i++ {
		wg.Add(1)
		go worker()
	}

sendLoop:
	for i, subject := range subjects {
		select {
		case <-ctx.Done():
			break sendLoop
		case jobs <- batchJob{index: i, subject: subject}:
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	completed := make([]*core.BatchResult, 0, len(results))
	for _, result := range results {
		if result != nil {
			completed = append(completed, result)
		}
	}
	return completed, nil
}

// subjectRunner is the slice of the orchestrator the batch pool needs.
type subjectRunner interface {
	Run(ctx context.Context, subject core.Subject) (*core.RunReport, error)
}

func batchResult(subject core.Subject, report *core.RunReport, err error) *core.BatchResult {
	result := &core.BatchResult{
		Subject:     subject,
		Report:      report,
		CompletedAt: time.Now().UTC(),
	}
	if err != nil {
		result.Report = nil
		result.Error = err.Error()
		result.NotFound = errors.Is(err, core.ErrSubjectNotFound)
	}
	return result
}

func subjectsFromArgs(args []string) []core.Subject {
	subjects := make([]core.Subject, 0, len(args))
	for _, arg := range args {
		if subject := core.Subject(arg); subject.String() != "" {
			subjects = append(subjects, core.Subject(subject.String()))
		}
	}
	return subjects
}

func readBatchSubjects(path string) ([]core.Subject, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close() // nolint:errcheck // best-effort cleanup on read-only file

	subjects := make([]core.Subject, 0)
	scanner := bufio.NewScanner(file)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		if strings.ContainsAny(raw, " \t/") {
			return nil, fmt.Errorf("invalid username on line %d: %q", line, raw)
		}
		subjects = append(subjects, core.Subject(raw))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return subjects, nil
}

// dedupeSubjects drops repeats case-insensitively, keeping first-seen order.
func dedupeSubjects(subjects []core.Subject) []core.Subject {
	seen := make(map[string]struct{}, len(subjects))
	unique := make([]core.Subject, 0, len(subjects))
	for _, subject := range subjects {
		key := strings.ToLower(subject.String())
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, subject)
	}
	return unique
}
