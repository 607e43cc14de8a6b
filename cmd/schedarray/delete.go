// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete JOB",
	Short: "Delete a job that is not running",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func runDelete(cmd *cobra.Command, args []string) error {
	sched, closeFn, err := openScheduler()
	if err != nil {
		return err
	}
	defer closeFn()

	ok, err := sched.Delete(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if !ok {
		return withExitCode(1, fmt.Errorf("job %s not found or still running", args[0]))
	}

	if jsonOutput {
		return printOutput(map[string]string{"job_id": args[0], "status": "deleted"})
	}
	fmt.Printf("Job %s deleted\n", args[0])
	return nil
}
