// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/markxbrooks/schedarray/internal/jobmodel"
	"github.com/markxbrooks/schedarray/internal/scheduler"
)

var (
	listState string
	listUser  string
	listLimit int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVar(&listState, "state", "", "filter by state (pending, running, completed, failed, cancelled, timeout)")
	listCmd.Flags().StringVar(&listUser, "user", "", "filter by submitting user")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum rows to return (0 = unbounded)")
}

func runList(cmd *cobra.Command, args []string) error {
	opts := scheduler.ListOptions{User: listUser, Limit: listLimit}
	if listState != "" {
		state := jobmodel.State(listState)
		if !state.Valid() {
			return withExitCode(1, fmt.Errorf("unknown state %q", listState))
		}
		opts.State = &state
	}

	sched, closeFn, err := openScheduler()
	if err != nil {
		return err
	}
	defer closeFn()

	jobs, err := sched.List(cmd.Context(), opts)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printOutput(jobs)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found.")
		return nil
	}
	fmt.Printf("%-36s  %-10s  %-8s  %s\n", "JOB ID", "STATE", "PRIORITY", "NAME")
	for _, job := range jobs {
		fmt.Printf("%-36s  %-10s  %-8d  %s\n", job.JobID, job.State, job.Priority, job.JobName)
	}
	return nil
}
