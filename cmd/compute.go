package main

import (
	"context"
	"encoding/json"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/enrollment-insight/internal/query"
)

var computeParams []string

var computeCmd = &cobra.Command{
	Use:   "compute <metric>",
	Short: "Compute one metric against the current store and print it as JSON",
	Long:  "Loads a snapshot, computes the named metric with optional key=value parameters (level, from, to, threshold, eps, min_points, k, seed, window) and writes the JSON envelope to stdout.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		p, err := parseComputeParams(computeParams)
		if err != nil {
			return err
		}

		env, err := initEngine(ctx, "compute")
		if err != nil {
			return err
		}
		defer env.Close()

		return runCompute(ctx, env.Engine, args[0], p, os.Stdout)
	},
}

// runCompute writes the metric envelope as indented JSON.
func runCompute(ctx context.Context, engine *query.Engine, slug string, p query.Params, out io.Writer) error {
	res, err := engine.Metric(ctx, slug, p)
	if err != nil {
		return eris.Wrapf(err, "compute %s", slug)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res.Value)
}

// parseComputeParams turns key=value flags into query parameters.
func parseComputeParams(kv []string) (query.Params, error) {
	vals := url.Values{}
	for _, s := range kv {
		k, v, ok := strings.Cut(s, "=")
		if !ok || k == "" {
			return query.Params{}, eris.Errorf("compute: parameter %q must be key=value", s)
		}
		vals.Set(k, v)
	}
	return query.ParseParams(vals)
}

func init() {
	computeCmd.Flags().StringArrayVarP(&computeParams, "param", "p", nil, "metric parameter as key=value (repeatable)")
	rootCmd.AddCommand(computeCmd)
}
