package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/seantiz/kiln/internal/client"
	"github.com/seantiz/kiln/internal/engine"
	"github.com/seantiz/kiln/internal/model"
)

func newSubmitCmd(newClient clientFactory) *cobra.Command {
	var (
		kind     string
		pairs    []string
		data     string
		wait     bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a job",
		Example: `  kiln submit --param radius=2.5
  kiln submit --kind digest --data '{"text": "hello", "rounds": 3}' --wait`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := parseParams(pairs, data)
			if err != nil {
				return err
			}

			c, err := newClient(cmd)
			if err != nil {
				return err
			}

			resp, err := c.Submit(cmd.Context(), kind, params)
			if err != nil {
				return fmt.Errorf("error submitting job: %w", err)
			}
			if !wait {
				return printJSON(cmd, resp)
			}
			return waitAndPrint(cmd, c, resp.JobID, interval, 0)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&kind, "kind", "k", "", "Generator to run (default: the server's default generator)")
	f.StringArrayVarP(&pairs, "param", "p", nil, "Parameter as key=value; finite numbers are sent as numbers, anything else as a string")
	f.StringVarP(&data, "data", "d", "", "Parameters as a JSON object")
	f.BoolVarP(&wait, "wait", "w", false, "Wait for the job to finish and print its result")
	f.DurationVar(&interval, "interval", 500*time.Millisecond, "Polling interval when waiting")
	return cmd
}

func newStatusCmd(newClient clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job's status and progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			st, err := c.Status(cmd.Context(), args[0])
			if err != nil {
				return jobError(args[0], "error fetching job", err)
			}
			return printJSON(cmd, st)
		},
	}
}

func newResultCmd(newClient clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "result <job-id>",
		Short: "Show a job's result, or its progress if it has not finished",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			res, err := c.Result(cmd.Context(), args[0])
			if err != nil {
				return jobError(args[0], "error fetching result", err)
			}
			return printJSON(cmd, res)
		},
	}
}

func newWaitCmd(newClient clientFactory) *cobra.Command {
	var (
		interval time.Duration
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "wait <job-id>",
		Short: "Wait for a job to finish and print its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			return waitAndPrint(cmd, c, args[0], interval, timeout)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 500*time.Millisecond, "Polling interval")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (0 waits indefinitely)")
	return cmd
}

// waitAndPrint polls until the job finishes, reporting progress on stderr.
// A failed job prints its result and returns an error.
func waitAndPrint(cmd *cobra.Command, c *client.Client, id string, interval, timeout time.Duration) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	last := -1.0
	res, err := c.Wait(ctx, id, interval, func(st *engine.StatusView) {
		if st.Progress != last {
			last = st.Progress
			fmt.Fprintf(cmd.ErrOrStderr(), "job %s: %s %3.0f%%\n", st.JobID, st.Status, st.Progress*100)
		}
	})
	if err != nil {
		return jobError(id, "error waiting for job", err)
	}
	if err := printJSON(cmd, res); err != nil {
		return err
	}
	if res.Status == model.StatusFailed {
		return fmt.Errorf("job %s failed: %s", id, res.Error)
	}
	return nil
}

func newJobsCmd(newClient clientFactory) *cobra.Command {
	var opts client.ListOptions

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			list, err := c.ListJobs(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("error fetching jobs: %w", err)
			}
			return printJSON(cmd, list)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Status, "status", "", "Filter by status (pending, running, completed, failed)")
	f.StringVarP(&opts.Kind, "kind", "k", "", "Filter by generator")
	f.IntVarP(&opts.Limit, "limit", "l", 0, "Maximum number of jobs to return")
	f.IntVar(&opts.Offset, "offset", 0, "Number of jobs to skip")
	return cmd
}

func newGeneratorsCmd(newClient clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "generators",
		Short: "List the generators the server can run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			gens, err := c.Generators(cmd.Context())
			if err != nil {
				return fmt.Errorf("error fetching generators: %w", err)
			}
			return printJSON(cmd, gens)
		},
	}
}

func newStatsCmd(newClient clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate job counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			stats, err := c.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("error fetching stats: %w", err)
			}
			return printJSON(cmd, stats)
		},
	}
}

// parseParams merges a JSON object with key=value pairs. Pairs win over
// keys from the JSON object.
func parseParams(pairs []string, data string) (model.Parameters, error) {
	params := model.Parameters{}
	if data != "" {
		if err := json.Unmarshal([]byte(data), &params); err != nil {
			return nil, fmt.Errorf("invalid --data: must be a JSON object: %w", err)
		}
		if params == nil {
			params = model.Parameters{}
		}
	}

	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q: expected key=value", pair)
		}
		params[key] = parseValue(raw)
	}

	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters given: use --param key=value or --data")
	}
	return params, nil
}

// jobError names the job when the server does not know it, which is also
// what an evicted job looks like.
func jobError(id, msg string, err error) error {
	if client.IsNotFound(err) {
		return fmt.Errorf("job %s not found (it may have been evicted): %w", id, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func parseValue(raw string) any {
	if f, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return f
	}
	return raw
}
