// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/markxbrooks/schedarray/pkg/config"
)

var (
	dbPath     string
	jsonOutput bool

	rootCmd = &cobra.Command{
		Use:           "schedarray",
		Short:         "A cross-platform batch job scheduler",
		Long:          "schedarray queues shell commands in a SQLite-backed job store and runs them under a bounded worker pool, SLURM/SGE-style.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db-path", config.NewDefault().DBPath, "path to the SQLite database file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit machine-readable JSON output")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(countsCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(serviceCmd)
}

// printOutput renders data as indented JSON when --json is set; callers
// handle their own human-readable rendering otherwise.
func printOutput(data interface{}) error {
	if !jsonOutput {
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// printError writes the uniform CLI error surface: "Error: <msg>" on
// stderr, plus a JSON error document under --json.
func printError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		_ = enc.Encode(map[string]string{"error": err.Error()})
	}
}

// exitCode is a command error that carries the process exit code main()
// should use instead of the default 1.
type exitCode struct {
	code int
	err  error
}

func (e *exitCode) Error() string { return e.err.Error() }
func (e *exitCode) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitCode{code: code, err: err}
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		os.Exit(0)
	}

	code := 1
	var ec *exitCode
	if errors.As(err, &ec) {
		code = ec.code
	}
	printError(err)
	os.Exit(code)
}
