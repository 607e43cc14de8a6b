// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/markxbrooks/schedarray/internal/jobmodel"
	"github.com/markxbrooks/schedarray/internal/scheduler"
)

var (
	submitScript     string
	submitCommand    string
	submitJobName    string
	submitWorkingDir string
	submitCPUs       int
	submitMemory     string
	submitTimeout    time.Duration
	submitPriority   int
	submitOutput     string
	submitError      string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Enqueue a job",
	RunE:  runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitScript, "script", "", "path to a script file to execute")
	submitCmd.Flags().StringVar(&submitCommand, "command", "", "shell command line to execute")
	submitCmd.Flags().StringVar(&submitJobName, "job-name", "", "human label; defaults to job_<submit_epoch>")
	submitCmd.Flags().StringVar(&submitWorkingDir, "working-dir", "", "working directory; must exist at execution time")
	submitCmd.Flags().IntVar(&submitCPUs, "cpus", 0, "advisory CPU slot count (default 1)")
	submitCmd.Flags().StringVar(&submitMemory, "memory", "", "advisory memory limit")
	submitCmd.Flags().DurationVar(&submitTimeout, "timeout", 0, "kill the job if it runs longer than this")
	submitCmd.Flags().IntVar(&submitPriority, "priority", 0, "higher values dispatch sooner")
	submitCmd.Flags().StringVar(&submitOutput, "output", "", "file to capture stdout")
	submitCmd.Flags().StringVar(&submitError, "error", "", "file to capture stderr")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	if submitScript == "" && submitCommand == "" {
		return withExitCode(1, fmt.Errorf("one of --script or --command is required"))
	}

	command := submitCommand
	if submitScript != "" {
		contents, err := os.ReadFile(submitScript)
		if err != nil {
			return withExitCode(1, fmt.Errorf("reading --script: %w", err))
		}
		command = string(contents)
	}

	sched, closeFn, err := openScheduler()
	if err != nil {
		return err
	}
	defer closeFn()

	req := scheduler.SubmitRequest{
		Command:     command,
		WorkingDir:  submitWorkingDir,
		JobName:     submitJobName,
		CPULimit:    submitCPUs,
		MemoryLimit: submitMemory,
		Priority:    submitPriority,
		OutputFile:  submitOutput,
		ErrorFile:   submitError,
		Metadata:    jobmodel.Metadata{},
	}
	if submitTimeout > 0 {
		req.Timeout = &submitTimeout
	}

	jobID, err := sched.Submit(cmd.Context(), req)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printOutput(map[string]string{"job_id": jobID})
	}
	fmt.Printf("Job submitted: %s\n", jobID)
	return nil
}
