// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel JOB",
	Short: "Cancel a pending or running job",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func runCancel(cmd *cobra.Command, args []string) error {
	sched, closeFn, err := openScheduler()
	if err != nil {
		return err
	}
	defer closeFn()

	ok, err := sched.Cancel(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if !ok {
		return withExitCode(1, fmt.Errorf("job %s cannot be cancelled", args[0]))
	}

	if jsonOutput {
		return printOutput(map[string]string{"job_id": args[0], "status": "cancelled"})
	}
	fmt.Printf("Job %s cancelled\n", args[0])
	return nil
}
