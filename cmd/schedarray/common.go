// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/markxbrooks/schedarray/pkg/logging"

	"github.com/markxbrooks/schedarray/internal/scheduler"
	"github.com/markxbrooks/schedarray/internal/store"
)

// openScheduler opens the store at --db-path and wraps it with a Scheduler.
// The returned close func must be called once the command is done.
func openScheduler() (*scheduler.Scheduler, func() error, error) {
	s, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, err
	}
	return scheduler.New(s, logging.NoOpLogger{}, nil), s.Close, nil
}
