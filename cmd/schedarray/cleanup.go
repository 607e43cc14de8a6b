// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/markxbrooks/schedarray/internal/jobmodel"
)

var (
	cleanupCompleted bool
	cleanupFailed    bool
	cleanupCancelled bool
	cleanupTimeout   bool
	cleanupOlderThan int
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Bulk-delete terminal jobs",
	RunE:  runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupCompleted, "completed", false, "remove COMPLETED jobs")
	cleanupCmd.Flags().BoolVar(&cleanupFailed, "failed", false, "remove FAILED jobs")
	cleanupCmd.Flags().BoolVar(&cleanupCancelled, "cancelled", false, "remove CANCELLED jobs")
	cleanupCmd.Flags().BoolVar(&cleanupTimeout, "timeout", false, "remove TIMEOUT jobs")
	cleanupCmd.Flags().IntVar(&cleanupOlderThan, "older-than-days", 0, "only remove jobs completed more than N days ago")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	var states []jobmodel.State
	if cleanupCompleted {
		states = append(states, jobmodel.StateCompleted)
	}
	if cleanupFailed {
		states = append(states, jobmodel.StateFailed)
	}
	if cleanupCancelled {
		states = append(states, jobmodel.StateCancelled)
	}
	if cleanupTimeout {
		states = append(states, jobmodel.StateTimeout)
	}
	if len(states) == 0 {
		states = []jobmodel.State{
			jobmodel.StateCompleted,
			jobmodel.StateFailed,
			jobmodel.StateCancelled,
			jobmodel.StateTimeout,
		}
	}

	var olderThan *time.Duration
	if cleanupOlderThan > 0 {
		d := time.Duration(cleanupOlderThan) * 24 * time.Hour
		olderThan = &d
	}

	sched, closeFn, err := openScheduler()
	if err != nil {
		return err
	}
	defer closeFn()

	n, err := sched.CleanupTerminal(cmd.Context(), olderThan, states...)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printOutput(map[string]int{"removed": n})
	}
	fmt.Printf("Removed %d job(s)\n", n)
	return nil
}
