// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var countsCmd = &cobra.Command{
	Use:   "counts",
	Short: "Show job counts by state",
	RunE:  runCounts,
}

func runCounts(cmd *cobra.Command, args []string) error {
	sched, closeFn, err := openScheduler()
	if err != nil {
		return err
	}
	defer closeFn()

	counts, err := sched.CountByState(cmd.Context())
	if err != nil {
		return err
	}

	if jsonOutput {
		return printOutput(counts)
	}

	for state, n := range counts {
		fmt.Printf("%-10s  %d\n", state, n)
	}
	return nil
}
