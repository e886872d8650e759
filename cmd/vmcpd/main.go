// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the vmcpd server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/virtualmcp/vmcpd/cmd/vmcpd/app"
	"github.com/virtualmcp/vmcpd/pkg/logger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	if err := app.NewRootCmd().ExecuteContext(ctx); err != nil {
		logger.Errorf("Error executing command: %v", err)
		os.Exit(1)
	}
}
