// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status JOB",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	sched, closeFn, err := openScheduler()
	if err != nil {
		return err
	}
	defer closeFn()

	job, err := sched.GetStatus(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if job == nil {
		return withExitCode(1, fmt.Errorf("job %s not found", args[0]))
	}

	if jsonOutput {
		return printOutput(job)
	}

	fmt.Printf("Job ID:      %s\n", job.JobID)
	fmt.Printf("Name:        %s\n", job.JobName)
	fmt.Printf("State:       %s\n", job.State)
	fmt.Printf("Command:     %s\n", job.Command)
	fmt.Printf("Priority:    %d\n", job.Priority)
	fmt.Printf("User:        %s\n", job.User)
	fmt.Printf("Submitted:   %s\n", job.SubmittedAt.Format("2006-01-02T15:04:05Z07:00"))
	if job.StartedAt != nil {
		fmt.Printf("Started:     %s\n", job.StartedAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	if job.CompletedAt != nil {
		fmt.Printf("Completed:   %s\n", job.CompletedAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	if job.ReturnCode != nil {
		fmt.Printf("Return code: %d\n", *job.ReturnCode)
	}
	if job.WorkerID != "" {
		fmt.Printf("Worker:      %s\n", job.WorkerID)
	}
	return nil
}
