/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/vakt/internal/instance"
)

var validateCmd = &cobra.Command{
	Use:   "validate <instance-file>",
	Short: "Parse and lint an instance file",
	Long: `Validate parses the instance file and runs the integrity lint over it:
duplicate IDs, references to unknown shifts or staff, day indices outside
the horizon, and requirements that can never be met.

Lint findings are advisory; the solver will still accept the instance.
Errors make the command fail, warnings do not.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	inst, err := instance.LoadFile(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("parsed: horizon %d days, %d shifts, %d staff, %d cover requirements\n",
		inst.Horizon, len(inst.Shifts), len(inst.Staff), len(inst.Cover))

	vet := instance.Vet(inst)
	for _, p := range vet.Warnings {
		fmt.Printf("warning [%s]: %s\n", p.Rule, p.Message)
	}
	for _, p := range vet.Errors {
		fmt.Printf("error [%s]: %s\n", p.Rule, p.Message)
	}

	if !vet.Valid {
		return fmt.Errorf("instance has %d lint error(s)", len(vet.Errors))
	}
	if len(vet.Warnings) == 0 {
		fmt.Println("ok")
	}
	return nil
}
