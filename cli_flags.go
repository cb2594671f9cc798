// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/peterbourgon/ff/v3"
	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/crashtracker/config"
	"go.opentelemetry.io/crashtracker/receiver"
	"go.opentelemetry.io/crashtracker/times"
)

const (
	// Default values for CLI flags
	defaultArgTimeoutMs     = uint(times.DefaultReceiverTimeout / time.Millisecond)
	defaultArgStatsInterval = times.DefaultStatsInterval

	envVarPrefix = "DD_CRASHTRACKER_RECEIVER"
)

// Help strings for command line arguments
var (
	timeoutMsHelp = "Time budget in milliseconds for reading one crash report, " +
		"counted from its first line past the startup preamble."
	uploadTimeoutMsHelp = "Time budget in milliseconds for uploading one crash report. " +
		"Zero uses the read budget."
	endpointHelp = "Upload target (file://, http(s):// or s3:// URL) for reports " +
		"that do not name one."
	apiKeyHelp     = "API key sent with HTTP uploads to the -endpoint target."
	unixSocketHelp = "Serve reports on this unix domain socket instead of reading one " +
		"report from stdin. A leading '@' selects an abstract socket."
	maxConnectionsHelp = fmt.Sprintf("Number of reports the socket receiver processes "+
		"concurrently. Default is %d.", receiver.DefaultMaxConnections)
	maxWatchedConnectionsHelp = fmt.Sprintf("Number of connections the socket receiver "+
		"keeps open, including idle ones of watched processes. Default is %d.",
		receiver.DefaultMaxWatchedConnections)
	dedupCacheSizeHelp = fmt.Sprintf("Number of report fingerprints the socket receiver "+
		"remembers to skip duplicate uploads. Default is %d.", receiver.DefaultDedupCacheSize)
	statsIntervalHelp = "Interval at which the socket receiver logs its statistics. " +
		"SIGUSR1 logs them immediately."
	demangleHelp    = "Demangle native function names even if the report does not ask for it."
	verboseModeHelp = "Enable verbose logging."
	versionHelp     = "Show version."
)

var errTooManyArgs = errors.New("at most one positional argument, the unix socket path, is allowed")

type arguments struct {
	apiKey          string
	dedupCacheSize  uint
	demangle        bool
	endpoint        string
	maxConnections  int
	maxWatched      int
	statsInterval   time.Duration
	timeoutMs       uint
	unixSocket      string
	uploadTimeoutMs uint
	verboseMode     bool
	version         bool

	fs *flag.FlagSet
}

func parseArgs(argv []string) (*arguments, error) {
	var args arguments

	fs := flag.NewFlagSet("crashtracker-receiver", flag.ContinueOnError)

	// Please keep the parameters ordered alphabetically in the source-code.
	fs.StringVar(&args.apiKey, "api-key", "", apiKeyHelp)

	fs.UintVar(&args.dedupCacheSize, "dedup-cache-size", receiver.DefaultDedupCacheSize,
		dedupCacheSizeHelp)
	fs.BoolVar(&args.demangle, "demangle", false, demangleHelp)

	fs.StringVar(&args.endpoint, "endpoint", "", endpointHelp)

	fs.IntVar(&args.maxConnections, "max-connections", receiver.DefaultMaxConnections,
		maxConnectionsHelp)
	fs.IntVar(&args.maxWatched, "max-watched-connections", receiver.DefaultMaxWatchedConnections,
		maxWatchedConnectionsHelp)

	fs.DurationVar(&args.statsInterval, "stats-interval", defaultArgStatsInterval,
		statsIntervalHelp)

	fs.UintVar(&args.timeoutMs, "timeout-ms", defaultArgTimeoutMs, timeoutMsHelp)

	fs.StringVar(&args.unixSocket, "unix-socket", "", unixSocketHelp)
	fs.UintVar(&args.uploadTimeoutMs, "upload-timeout-ms", 0, uploadTimeoutMsHelp)

	fs.BoolVar(&args.verboseMode, "v", false, "Shorthand for -verbose.")
	fs.BoolVar(&args.verboseMode, "verbose", false, verboseModeHelp)
	fs.BoolVar(&args.version, "version", false, versionHelp)

	fs.Usage = func() {
		fs.PrintDefaults()
	}

	args.fs = fs

	err := ff.Parse(fs, argv,
		ff.WithEnvVarPrefix(envVarPrefix),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		// Configuration file options of other receiver versions are ignored.
		ff.WithIgnoreUndefined(true),
		ff.WithAllowMissingConfigFile(true),
	)
	if err != nil {
		return nil, err
	}

	switch fs.NArg() {
	case 0:
	case 1:
		if args.unixSocket != "" && args.unixSocket != fs.Arg(0) {
			return nil, fmt.Errorf("both -unix-socket %q and socket argument %q given",
				args.unixSocket, fs.Arg(0))
		}
		args.unixSocket = fs.Arg(0)
	default:
		return nil, errTooManyArgs
	}
	return &args, nil
}

// validate checks combinations the flag package cannot.
func (args *arguments) validate() error {
	if args.timeoutMs == 0 {
		return errors.New("-timeout-ms must be positive")
	}
	if args.maxConnections <= 0 {
		return errors.New("-max-connections must be positive")
	}
	if args.maxWatched < args.maxConnections {
		return errors.New("-max-watched-connections must not be below -max-connections")
	}
	if args.dedupCacheSize == 0 || args.dedupCacheSize > 1<<20 {
		return fmt.Errorf("-dedup-cache-size must be between 1 and %d", 1<<20)
	}
	if args.apiKey != "" && args.endpoint == "" {
		return errors.New("-api-key requires -endpoint")
	}
	if ep := args.fallbackEndpoint(); ep != nil {
		return ep.Validate()
	}
	return nil
}

func (args *arguments) fallbackEndpoint() *config.Endpoint {
	if args.endpoint == "" {
		return nil
	}
	return &config.Endpoint{URL: args.endpoint, APIKey: args.apiKey}
}

func (args *arguments) options() receiver.Options {
	return receiver.Options{
		Timeout:       time.Duration(args.timeoutMs) * time.Millisecond,
		UploadTimeout: time.Duration(args.uploadTimeoutMs) * time.Millisecond,
		Endpoint:      args.fallbackEndpoint(),
		Demangle:      args.demangle,
	}
}

// dump logs all flags. Used for verbose mode logging.
func (args *arguments) dump() {
	log.Debug("Config:")
	args.fs.VisitAll(func(f *flag.Flag) {
		if f.Name == "api-key" && f.Value.String() != "" {
			log.Debugf("%s: <redacted>", f.Name)
			return
		}
		log.Debugf("%s: %v", f.Name, f.Value)
	})
}
