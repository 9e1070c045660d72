package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/arka-squad/arka-labs-sub000/internal/artifact"
	"github.com/arka-squad/arka-labs-sub000/internal/gates"
	"github.com/arka-squad/arka-labs-sub000/internal/idempotency"
	"github.com/arka-squad/arka-labs-sub000/internal/runner"
	"github.com/arka-squad/arka-labs-sub000/pkg/models"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const localOwner = "squadctl"

var errJobFailed = errors.New("job did not pass")

func runCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{Use: "run", Short: "Run a gate or recipe locally and wait for the verdict"}
	cmd.PersistentFlags().String("artifact-root", "", "directory for job logs and results (default: a new temp dir)")
	_ = v.BindPFlag("artifact-root", cmd.PersistentFlags().Lookup("artifact-root"))
	cmd.AddCommand(runGateCmd(v))
	cmd.AddCommand(runRecipeCmd(v))
	return cmd
}

func runGateCmd(v *viper.Viper) *cobra.Command {
	var (
		inputs    []string
		retry     int
		timeoutMS int
	)
	cmd := &cobra.Command{
		Use:   "gate <gate-id>",
		Short: "Run one gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := parseInputs(inputs)
			if err != nil {
				return err
			}
			return runLocal(cmd, v, func(ctx context.Context, r *runner.Runner) (*runner.Submission, error) {
				return r.SubmitGate(ctx, localOwner, runner.GateRunRequest{
					GateID:         args[0],
					Inputs:         in,
					Retry:          retry,
					TimeoutMS:      timeoutMS,
					IdempotencyKey: uuid.NewString(),
					Role:           models.RoleOwner,
				})
			})
		},
	}
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "gate input as key=value (value may be JSON); repeatable")
	cmd.Flags().IntVar(&retry, "retry", 0, fmt.Sprintf("retries after a failed attempt (0-%d)", runner.MaxRetry))
	cmd.Flags().IntVar(&timeoutMS, "timeout-ms", 0, "per-attempt timeout in milliseconds (0 = none)")
	return cmd
}

func runRecipeCmd(v *viper.Viper) *cobra.Command {
	var inputs []string
	cmd := &cobra.Command{
		Use:   "recipe <recipe-id>",
		Short: "Run a recipe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := parseInputs(inputs)
			if err != nil {
				return err
			}
			return runLocal(cmd, v, func(ctx context.Context, r *runner.Runner) (*runner.Submission, error) {
				return r.SubmitRecipe(ctx, localOwner, runner.RecipeRunRequest{
					RecipeID:       args[0],
					Inputs:         in,
					IdempotencyKey: uuid.NewString(),
					Role:           models.RoleOwner,
				})
			})
		},
	}
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "input applied to every step as key=value; repeatable")
	return cmd
}

type submitFunc func(ctx context.Context, r *runner.Runner) (*runner.Submission, error)

// runLocal runs one job against an in-process runner backed by the memory
// job store and the file artifact store, then prints its log and result.
func runLocal(cmd *cobra.Command, v *viper.Viper, submit submitFunc) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	root := v.GetString("artifact-root")
	if root == "" {
		dir, err := os.MkdirTemp("", "squadctl-")
		if err != nil {
			return fmt.Errorf("create artifact dir: %w", err)
		}
		root = dir
	}

	reg, err := gates.Default()
	if err != nil {
		return err
	}
	files := artifact.NewFileStore(root)
	r := runner.New(reg, runner.NewMemoryJobStore(), idempotency.NewMemoryCache(time.Minute), files, files)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Shutdown(sctx)
	}()

	sub, err := submit(ctx, r)
	if err != nil {
		return err
	}
	job, err := r.Wait(ctx, sub.Job.ID)
	if err != nil {
		return fmt.Errorf("wait for job %s: %w", sub.Job.ID, err)
	}
	result, err := r.Result(ctx, job.ID)
	if err != nil && !errors.Is(err, artifact.ErrNotFound) {
		return fmt.Errorf("read result: %w", err)
	}
	logData, err := files.ReadLog(ctx, job.ID)
	if err != nil && !errors.Is(err, artifact.ErrNotFound) {
		return fmt.Errorf("read log: %w", err)
	}

	out := cmd.OutOrStdout()
	if v.GetBool("json") {
		if err := printJSON(out, localRun{Job: job, Result: result, Log: logLines(logData), ArtifactRoot: root}); err != nil {
			return err
		}
	} else {
		printRun(out, job, result, logData, root)
	}

	switch job.Status {
	case models.JobStatusPass, models.JobStatusWarn:
		return nil
	}
	return fmt.Errorf("%w: %s", errJobFailed, job.Status)
}

type localRun struct {
	Job          *models.Job       `json:"job"`
	Result       *models.JobResult `json:"result,omitempty"`
	Log          []json.RawMessage `json:"log"`
	ArtifactRoot string            `json:"artifact_root"`
}

func logLines(data []byte) []json.RawMessage {
	lines := []json.RawMessage{}
	for _, l := range strings.Split(string(data), "\n") {
		if l = strings.TrimSpace(l); l != "" && json.Valid([]byte(l)) {
			lines = append(lines, json.RawMessage(l))
		}
	}
	return lines
}

func printRun(w io.Writer, job *models.Job, result *models.JobResult, logData []byte, root string) {
	_, _ = io.WriteString(w, string(logData))
	_, _ = fmt.Fprintln(w)

	tw := newTable(w, table.Row{"Step", "Gate", "Status", "Detail"})
	switch {
	case result == nil:
	case result.Recipe == nil:
		for _, g := range result.Results {
			tw.AppendRow(table.Row{g.GateID, g.GateID, g.Status, metricsSummary(g.Metrics)})
		}
	default:
		// Results repeats the step gate results; the steps carry the step ids.
		for _, s := range result.Recipe.Steps {
			gate, detail := "", s.Error
			if s.GateResult != nil {
				gate = s.GateResult.GateID
				if detail == "" {
					detail = metricsSummary(s.GateResult.Metrics)
				}
			}
			tw.AppendRow(table.Row{s.ID, gate, s.Status, detail})
		}
	}
	tw.AppendFooter(table.Row{"job " + job.ID.String(), job.TargetID, job.Status, job.Error})
	tw.Render()
	_, _ = fmt.Fprintf(w, "artifacts: %s\n", root)
}

func metricsSummary(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}

// parseInputs turns key=value pairs into a gate input map. Values that parse
// as JSON keep their JSON type so numbers and lists reach the check intact.
func parseInputs(pairs []string) (map[string]any, error) {
	in := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, raw, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --input %q: want key=value", p)
		}
		var val any
		if err := json.Unmarshal([]byte(raw), &val); err != nil {
			val = raw
		}
		in[k] = val
	}
	return in, nil
}
