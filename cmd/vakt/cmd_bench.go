/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/vakt/internal/engine"
	"github.com/friendsincode/vakt/internal/instance"
)

var (
	benchGlob    string
	benchTimeout time.Duration
)

var benchCmd = &cobra.Command{
	Use:   "bench <directory>",
	Short: "Solve a directory of instance files and print a summary table",
	Long: `Bench solves every matching instance file in the directory and prints
one line per instance: verdict, assignments, shortfalls, predicate checks
and elapsed time. Useful for regression-checking a corpus of instances.`,
	Args: cobra.ExactArgs(1),
	RunE: runBench,
}

func init() {
	benchCmd.Flags().StringVar(&benchGlob, "glob", "*.txt", "Filename pattern to solve")
	benchCmd.Flags().DurationVar(&benchTimeout, "timeout", time.Minute, "Per-instance fill timeout")
	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) error {
	log := cliLogger()

	paths, err := filepath.Glob(filepath.Join(args[0], benchGlob))
	if err != nil {
		return fmt.Errorf("bad glob: %w", err)
	}
	if len(paths) == 0 {
		return fmt.Errorf("no files matching %q in %s", benchGlob, args[0])
	}
	sort.Strings(paths)

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INSTANCE\tVERDICT\tASSIGNED\tSHORT\tCHECKS\tELAPSED")

	var complete, failed int
	for _, path := range paths {
		inst, err := instance.LoadFile(path)
		if err != nil {
			fmt.Fprintf(tw, "%s\tparse error: %v\t\t\t\t\n", filepath.Base(path), err)
			failed++
			continue
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), benchTimeout)
		result, err := engine.New(inst, log).Fill(ctx, engine.Options{})
		cancel()
		if err != nil {
			fmt.Fprintf(tw, "%s\tfill error: %v\t\t\t\t\n", filepath.Base(path), err)
			failed++
			continue
		}

		verdict := "complete"
		if result.Complete {
			complete++
		} else {
			verdict = "incomplete"
		}
		missing := 0
		for _, sf := range result.Shortfalls {
			missing += sf.Missing
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
			filepath.Base(path), verdict, len(result.Assignments), missing,
			result.Stats.Checks, result.Stats.Elapsed.Round(time.Microsecond))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Printf("\n%d instances: %d complete, %d incomplete, %d errors\n",
		len(paths), complete, len(paths)-complete-failed, failed)
	return nil
}
