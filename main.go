// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// crashtracker-receiver turns the crash report stream written by the
// in-process collector into a CrashInfo and uploads it. Spawned by the
// collector it reads one report from stdin; given a unix socket it serves
// reports from many processes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"go.opentelemetry.io/crashtracker/receiver"
	"go.opentelemetry.io/crashtracker/times"
	"go.opentelemetry.io/crashtracker/vc"
)

type exitCode int

const (
	exitSuccess exitCode = 0
	exitFailure exitCode = 1

	// Go 'flag' package calls os.Exit(2) on flag parse errors, if ExitOnError is set
	exitParseError exitCode = 2
)

func main() {
	os.Exit(int(mainWithExitCode(os.Args[1:])))
}

func mainWithExitCode(argv []string) exitCode {
	args, err := parseArgs(argv)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitSuccess
		}
		return parseError("Failure to parse arguments: %v", err)
	}

	if args.version {
		fmt.Printf("%s\n", vc.Summary())
		return exitSuccess
	}

	if args.verboseMode {
		log.SetLevel(log.DebugLevel)
		// Dump the arguments in debug mode.
		args.dump()
	}

	if err = args.validate(); err != nil {
		return parseError("Invalid arguments: %v", err)
	}

	mainCtx, mainCancel := signal.NotifyContext(context.Background(),
		unix.SIGINT, unix.SIGTERM)
	defer mainCancel()

	if args.unixSocket == "" {
		return receiveOne(mainCtx, args)
	}
	return serve(mainCtx, args)
}

// receiveOne handles the single report a spawning collector writes to stdin.
// Once the receiver is running the exit code is always success: a report
// that could not be uploaded is lost either way, and the collector only
// waits for the hangup.
func receiveOne(ctx context.Context, args *arguments) exitCode {
	opts := args.options()
	ci, err := receiver.ReceiveAndUpload(ctx, os.Stdin, &opts)
	switch {
	case err != nil:
		log.Errorf("%v", err)
	case ci == nil:
		log.Debug("No crash report received")
	}
	return exitSuccess
}

// serve runs the long-lived receiver until SIGINT or SIGTERM.
func serve(ctx context.Context, args *arguments) exitCode {
	log.Infof("Starting crash tracker receiver %s (revision %s, build timestamp %s)",
		vc.Version(), vc.Revision(), vc.BuildTimestamp())

	opts := args.options()
	statsTrigger := make(chan bool, 1)
	srv, err := receiver.NewServer(receiver.ServerConfig{
		Options:               opts,
		Times:                 times.New(opts.Timeout, args.statsInterval, opts.UploadTimeout),
		MaxConnections:        args.maxConnections,
		MaxWatchedConnections: args.maxWatched,
		DedupCacheSize:        uint32(args.dedupCacheSize),
		StatsTrigger:          statsTrigger,
	})
	if err != nil {
		return failure("Failed to create receiver: %v", err)
	}

	ln, err := receiver.Listen(args.unixSocket)
	if err != nil {
		return failure("Failed to listen on %s: %v", args.unixSocket, err)
	}
	log.Infof("Listening on %s", args.unixSocket)

	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, unix.SIGUSR1)
	defer signal.Stop(usr1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-usr1:
				select {
				case statsTrigger <- true:
				default:
				}
			}
		}
	}()

	if err = srv.Serve(ctx, ln); err != nil {
		return failure("Receiver stopped: %v", err)
	}
	log.Info("Exiting ...")
	return exitSuccess
}

func parseError(msg string, args ...any) exitCode {
	log.Errorf(msg, args...)
	return exitParseError
}

func failure(msg string, args ...any) exitCode {
	log.Errorf(msg, args...)
	return exitFailure
}
