/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/vakt/internal/engine"
	"github.com/friendsincode/vakt/internal/instance"
	"github.com/friendsincode/vakt/internal/report"
)

var (
	solveFormat    string
	solveStopEarly bool
	solveTimeout   time.Duration
	solveOutput    string
)

var solveCmd = &cobra.Command{
	Use:   "solve <instance-file>",
	Short: "Build a roster for a local instance file",
	Long: `Solve runs the greedy fill over one instance file and writes the result.

The command needs no server or configuration. An incomplete roster is a
normal outcome: the report lists the unmet coverage and the command exits
with status 2 so scripts can tell the cases apart.`,
	Args: cobra.ExactArgs(1),
	RunE: runSolve,
}

func init() {
	solveCmd.Flags().StringVarP(&solveFormat, "format", "f", report.FormatText, "Output format: text, json, yaml, csv")
	solveCmd.Flags().BoolVar(&solveStopEarly, "stop-early", false, "Stop the fill at the first requirement left short")
	solveCmd.Flags().DurationVar(&solveTimeout, "timeout", time.Minute, "Abort the fill after this long")
	solveCmd.Flags().StringVarP(&solveOutput, "output", "o", "", "Write the report to a file instead of stdout")
	rootCmd.AddCommand(solveCmd)
}

func runSolve(cmd *cobra.Command, args []string) error {
	log := cliLogger()

	inst, err := instance.LoadFile(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), solveTimeout)
	defer cancel()

	sched := engine.New(inst, log)
	result, err := sched.Fill(ctx, engine.Options{StopAtFirstShortfall: solveStopEarly})
	if err != nil {
		return fmt.Errorf("fill: %w", err)
	}

	out := os.Stdout
	if solveOutput != "" {
		f, err := os.Create(solveOutput)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	if err := report.Render(out, solveFormat, inst, result); err != nil {
		return err
	}

	if !result.Complete {
		os.Exit(2)
	}
	return nil
}
