// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package receiver // import "go.opentelemetry.io/crashtracker/receiver"

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync/atomic"

	"github.com/elastic/go-freelru"
	log "github.com/sirupsen/logrus"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"go.opentelemetry.io/crashtracker/crashinfo"
	"go.opentelemetry.io/crashtracker/periodiccaller"
	"go.opentelemetry.io/crashtracker/successfailurecounter"
	"go.opentelemetry.io/crashtracker/times"
)

const (
	// DefaultMaxConnections bounds concurrently processed reports.
	DefaultMaxConnections = 16
	// DefaultMaxWatchedConnections bounds open connections, most of which
	// belong to watched processes that never crash.
	DefaultMaxWatchedConnections = 4096
	// DefaultDedupCacheSize is the number of fingerprints remembered.
	DefaultDedupCacheSize = 1024
)

// ServerConfig configures the long-lived receiver.
type ServerConfig struct {
	Options        Options
	Times          *times.Times
	MaxConnections int
	DedupCacheSize uint32

	// MaxWatchedConnections bounds open connections. Connections beyond it
	// are closed right away.
	MaxWatchedConnections int

	// StatsTrigger logs the statistics immediately when written to.
	StatsTrigger <-chan bool
}

// Server receives crash reports over a unix domain socket, one report per
// connection. A connection only takes one of the MaxConnections processing
// slots once its report is complete: a collector watching for runtime
// crashes holds its connection open for the life of the process.
type Server struct {
	cfg   ServerConfig
	dedup *freelru.SyncedLRU[string, struct{}]
	slots *semaphore.Weighted

	uploads    successfailurecounter.Counters
	duplicates atomic.Uint64
	empty      atomic.Uint64
	rejected   atomic.Uint64
}

func hashFingerprint(fp string) uint32 {
	return uint32(xxh3.HashString(fp))
}

// NewServer creates a Server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Times == nil {
		cfg.Times = times.New(cfg.Options.Timeout, 0, cfg.Options.UploadTimeout)
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if cfg.MaxWatchedConnections <= 0 {
		cfg.MaxWatchedConnections = DefaultMaxWatchedConnections
	}
	if cfg.DedupCacheSize == 0 {
		cfg.DedupCacheSize = DefaultDedupCacheSize
	}
	cfg.Options.Timeout = cfg.Times.ReceiverTimeout()
	cfg.Options.UploadTimeout = cfg.Times.UploadTimeout()

	dedup, err := freelru.NewSynced[string, struct{}](cfg.DedupCacheSize, hashFingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to create fingerprint cache: %w", err)
	}
	dedup.SetLifetime(cfg.Times.DedupLifetime())

	return &Server{
		cfg:   cfg,
		dedup: dedup,
		slots: semaphore.NewWeighted(int64(cfg.MaxConnections)),
	}, nil
}

// Listen creates the unix domain socket. A path starting with '@' names an
// abstract socket on Linux. A stale socket file is removed first.
func Listen(path string) (net.Listener, error) {
	if path == "" {
		return nil, errors.New("empty unix socket path")
	}
	if !strings.HasPrefix(path, "@") {
		if fi, err := os.Lstat(path); err == nil && fi.Mode()&os.ModeSocket != 0 {
			if err := os.Remove(path); err != nil {
				return nil, fmt.Errorf("failed to remove stale socket %s: %w", path, err)
			}
		}
	}
	return net.Listen("unix", path)
}

// Serve accepts connections until ctx is canceled or ln fails. It waits for
// in-flight reports before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := periodiccaller.StartWithManualTrigger(ctx, s.cfg.Times.StatsInterval(),
		s.cfg.StatsTrigger, func(bool) { s.logStats() })
	defer stop()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	g := &errgroup.Group{}
	g.SetLimit(s.cfg.MaxWatchedConnections)

	var err error
	for {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			if ctx.Err() == nil && !errors.Is(acceptErr, net.ErrClosed) {
				err = fmt.Errorf("failed to accept connection: %w", acceptErr)
			}
			break
		}
		started := g.TryGo(func() error {
			s.handle(ctx, conn)
			return nil
		})
		if !started {
			s.rejected.Add(1)
			log.Warnf("Rejecting connection: %d connections open", s.cfg.MaxWatchedConnections)
			conn.Close()
		}
	}
	_ = g.Wait()
	s.logStats()
	return err
}

// handle processes one report. The connection is closed only after the
// upload, which is what the collector waits for.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	pings := newPinger(ctx, &s.cfg.Options)
	defer pings.wait()

	rep, err := receiveReport(ctx, conn, s.cfg.Options.Timeout, pings.send)
	if err != nil {
		log.Errorf("Failed to receive crash report: %v", err)
		return
	}
	if rep == nil {
		s.empty.Add(1)
		return
	}

	// Reports received during shutdown are still processed.
	if err = s.slots.Acquire(context.WithoutCancel(ctx), 1); err != nil {
		return
	}
	defer s.slots.Release(1)

	rep.PeerPID = peerPID(conn)
	ci := rep.Finalize(&s.cfg.Options)
	s.upload(ctx, rep, ci)
}

func (s *Server) upload(ctx context.Context, rep *Report, ci *crashinfo.CrashInfo) {
	// Without a crash site the fingerprint is too coarse to drop reports.
	dedup := ci.HasCrashSite()
	if dedup && s.dedup.Contains(ci.Fingerprint) {
		s.duplicates.Add(1)
		log.Infof("Skipping crash report %s: fingerprint %s already uploaded",
			ci.UUID, ci.Fingerprint)
		return
	}

	sfc := s.uploads.Track()
	defer sfc.DefaultToFailure()

	err := Upload(ctx, ci, rep.Endpoint(s.cfg.Options.Endpoint), s.cfg.Options.UploadTimeout)
	if err != nil {
		log.Errorf("Failed to upload crash report %s: %v", ci.UUID, err)
		return
	}
	sfc.ReportSuccess()
	if dedup {
		s.dedup.Add(ci.Fingerprint, struct{}{})
	}
	log.Infof("Uploaded crash report %s (fingerprint %s)", ci.UUID, ci.Fingerprint)
}

// Stats is a snapshot of the server counters.
type Stats struct {
	Uploaded, Failed, Duplicates, Empty, Rejected uint64
}

func (s *Server) Stats() Stats {
	return Stats{
		Uploaded:   s.uploads.Success(),
		Failed:     s.uploads.Failure(),
		Duplicates: s.duplicates.Load(),
		Empty:      s.empty.Load(),
		Rejected:   s.rejected.Load(),
	}
}

func (s *Server) logStats() {
	st := s.Stats()
	log.Infof("Crash reports: %d uploaded, %d failed, %d duplicates, %d empty connections, "+
		"%d rejected connections", st.Uploaded, st.Failed, st.Duplicates, st.Empty, st.Rejected)
}
