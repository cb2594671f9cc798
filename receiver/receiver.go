// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package receiver implements the out-of-process side of the crash
// tracker: it reads a crash report stream, turns it into a CrashInfo and
// uploads it.
package receiver // import "go.opentelemetry.io/crashtracker/receiver"

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/crashtracker/config"
	"go.opentelemetry.io/crashtracker/containermetadata"
	"go.opentelemetry.io/crashtracker/crashinfo"
	"go.opentelemetry.io/crashtracker/times"
)

// ErrNoEndpoint is returned when neither the report nor the receiver
// configuration name an upload target.
var ErrNoEndpoint = errors.New("no endpoint to upload the crash report to")

// Report is what was received from one stream.
type Report struct {
	// Config is nil if the stream lacked a CONFIG section.
	Config *config.Configuration
	// Complete is false if the stream ended without DONE.
	Complete bool
	// PeerPID is the crashed process as seen from the receiver's pid
	// namespace, if known from the connection.
	PeerPID uint32

	builder   *crashinfo.Builder
	traceback *goTraceback
}

type lineOrErr struct {
	line string
	err  error
}

// ReceiveReport reads one report from r. The timeout starts with the first
// line past the preamble; until then the stream only ends with ctx or EOF.
// It returns nil without error if the stream closed without any data, or
// with nothing but the preamble a pre-spawned receiver gets at startup,
// which is what happens when the monitored process exits normally.
//
// On timeout the reading goroutine stays blocked in r until r is closed.
func ReceiveReport(ctx context.Context, r io.Reader, timeout time.Duration) (*Report, error) {
	return receiveReport(ctx, r, timeout, nil)
}

// pingFunc is called once per stream, as soon as the configuration, the
// metadata and the signal are known.
type pingFunc func(cfg *config.Configuration, ping *crashinfo.CrashPing)

func receiveReport(ctx context.Context, r io.Reader, timeout time.Duration,
	ping pingFunc) (*Report, error) {
	if timeout <= 0 {
		timeout = times.DefaultReceiverTimeout
	}
	lines := make(chan lineOrErr, 64)
	stop := make(chan struct{})
	defer close(stop)
	go readLines(r, lines, stop)

	p := newParser()
	var deadline <-chan time.Time
	started := false

loop:
	for {
		select {
		case <-ctx.Done():
			p.b.WithLogMessage(fmt.Sprintf("receiver canceled: %v", ctx.Err()))
			break loop
		case <-deadline:
			p.b.WithLogMessage(fmt.Sprintf("timeout after %v while waiting for crash report input", timeout))
			break loop
		case l, ok := <-lines:
			if !ok {
				break loop
			}
			if l.err != nil {
				p.b.WithLogMessage(fmt.Sprintf("IO error while reading crash report: %v", l.err))
				break loop
			}
			if err := p.processLine(l.line); err != nil {
				log.Warnf("Crash report %s: %v", p.b.UUID(), err)
				p.b.WithLogMessage(err.Error())
			}
			if ping != nil && p.cfg != nil && p.b.Metadata() != nil && p.b.SigInfo() != nil {
				ping(p.cfg, crashinfo.NewCrashPing(p.b.UUID().String(),
					*p.b.Metadata(), p.b.SigInfo()))
				ping = nil
			}
			// A pre-spawned receiver may idle on its preamble for the whole
			// life of the process, so the clock starts with the crash.
			if !started && p.sawCrash {
				started = true
				timer := time.NewTimer(timeout)
				defer timer.Stop()
				deadline = timer.C
			}
			if p.done() {
				break loop
			}
		}
	}

	if !p.sawData || !p.sawCrash {
		return nil, nil
	}
	rep := &Report{
		Config:   p.cfg,
		builder:  p.b,
		Complete: p.finish(),
	}
	if tb := p.b.GoTraceback(); tb != "" {
		rep.traceback = parseGoTraceback(tb)
	}
	return rep, nil
}

func readLines(r io.Reader, out chan<- lineOrErr, stop <-chan struct{}) {
	defer close(out)
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
			select {
			case out <- lineOrErr{line: line}:
			case <-stop:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				select {
				case out <- lineOrErr{err: err}:
				case <-stop:
				}
			}
			return
		}
	}
}

// UUID returns the identifier the finished report carries.
func (r *Report) UUID() string {
	return r.builder.UUID().String()
}

// Options tune how a received report is finalized and shipped.
type Options struct {
	// Timeout bounds reading a report. Zero selects the default.
	Timeout time.Duration
	// UploadTimeout bounds the upload. Zero selects Timeout.
	UploadTimeout time.Duration
	// Endpoint is used when the report does not name one.
	Endpoint *config.Endpoint
	// Demangle forces demangling of native function names.
	Demangle bool
}

// Finalize enriches the received data with what only the receiver can
// provide and builds the CrashInfo.
func (r *Report) Finalize(opts *Options) *crashinfo.CrashInfo {
	b := r.builder
	cfg := r.Config
	if cfg == nil {
		b.WithLogMessage("missing crash tracker configuration")
		cfg = &config.Configuration{}
	}

	b.WithOsInfoThisMachine()
	r.addContainerTags()
	for _, name := range cfg.AdditionalFiles {
		if err := b.WithFile(name); err != nil {
			b.WithLogMessage(err.Error())
		}
	}
	r.applyTraceback()
	if !b.HasMessage() && b.SigInfo() != nil {
		b.WithMessage(crashinfo.SignalMessage(b.SigInfo()))
	}

	if cfg.ResolveFrames == config.StacktraceSymbolsInReceiver {
		r.symbolize()
	}

	ci := b.Build()
	if cfg.DemangleNames || opts.Demangle {
		if failed := ci.DemangleNames(); failed > 0 {
			log.Debugf("Failed to demangle %d function names", failed)
		}
	}
	return ci
}

// addContainerTags tags the report with the container the crashed process
// ran in.
func (r *Report) addContainerTags() {
	pid := r.PeerPID
	if pid == 0 {
		pi := r.builder.ProcInfo()
		if pi == nil {
			return
		}
		pid = pi.PID
	}
	c, err := containermetadata.LookupPID(pid)
	if err != nil {
		log.Debugf("Failed to look up container of pid %d: %v", pid, err)
		return
	}
	for _, tag := range c.Tags() {
		r.builder.WithAdditionalTag(tag)
	}
}

// applyTraceback turns the goroutine dump into threads and fills in what
// the runtime crash output reveals about the crash.
func (r *Report) applyTraceback() {
	tb := r.traceback
	if tb == nil {
		return
	}
	b := r.builder

	if b.SigInfo() == nil {
		if si, ok := tb.sigInfo(); ok {
			b.WithSigInfo(*si)
		}
	}
	msg, isPanic, hasMsg := tb.panicMessage()
	if b.Kind() == "" {
		switch {
		case b.SigInfo() != nil:
			_ = b.WithKind(crashinfo.KindUnixSignal)
		case hasMsg || len(tb.threads) > 0:
			_ = b.WithKind(crashinfo.KindPanic)
		}
	}
	if !b.HasMessage() {
		switch {
		case hasMsg && isPanic:
			b.WithMessage(fmt.Sprintf("Process panicked with message \"%s\"", msg))
		case hasMsg:
			b.WithMessage(msg)
		}
	}

	// The runtime prints the crashing goroutine first. For signals caught
	// through signal.Notify no goroutine crashed; that dump has no header.
	crashedFirst := b.Kind() != crashinfo.KindUnixSignal || len(tb.header) > 0
	for i, t := range tb.threads {
		t.Crashed = crashedFirst && i == 0
		b.WithThread(t)
	}
	if crashedFirst && !b.HasStack() && len(tb.threads) > 0 {
		b.WithStack(tb.threads[0].Stack)
	}
}

func (r *Report) symbolize() {
	b := r.builder
	pi := b.ProcInfo()
	maps, ok := b.FileContents("/proc/self/maps")
	if pi == nil || !ok || !b.HasStack() {
		b.WithLogMessage("cannot symbolize: missing proc info, maps or stack")
		return
	}
	sym, closer, err := crashinfo.OpenProcessSymbolizer(pi.PID, maps)
	if err != nil {
		b.WithLogMessage(fmt.Sprintf("cannot symbolize: %v", err))
		return
	}
	defer closer.Close()
	stack := b.Stack()
	n := sym.Symbolize(stack)
	log.Debugf("Symbolized %d of %d frames", n, len(stack.Frames))
}

// Endpoint returns where the report goes: the collector's choice first,
// then the receiver's fallback.
func (r *Report) Endpoint(fallback *config.Endpoint) *config.Endpoint {
	if r.Config != nil && r.Config.Endpoint != nil {
		return r.Config.Endpoint
	}
	return fallback
}

// Upload ships ci to ep.
func Upload(ctx context.Context, ci *crashinfo.CrashInfo, ep *config.Endpoint,
	timeout time.Duration) error {
	return withUploader(ctx, ep, timeout, func(ctx context.Context, up crashinfo.Uploader) error {
		return up.Upload(ctx, ci)
	})
}

func withUploader(ctx context.Context, ep *config.Endpoint, timeout time.Duration,
	fn func(context.Context, crashinfo.Uploader) error) error {
	if ep == nil {
		return ErrNoEndpoint
	}
	ctx, cancel := context.WithTimeout(ctx, ep.Timeout(timeout))
	defer cancel()
	up, err := crashinfo.NewUploader(ctx, ep)
	if err != nil {
		return err
	}
	return fn(ctx, up)
}

// pinger sends crash pings in the background while the report is still
// being received.
type pinger struct {
	ctx      context.Context
	fallback *config.Endpoint
	timeout  time.Duration
	g        errgroup.Group
}

func newPinger(ctx context.Context, opts *Options) *pinger {
	return &pinger{ctx: ctx, fallback: opts.Endpoint, timeout: opts.uploadTimeout()}
}

func (p *pinger) send(cfg *config.Configuration, ping *crashinfo.CrashPing) {
	ep := endpointFor(cfg, p.fallback)
	if ep == nil {
		return
	}
	p.g.Go(func() error {
		err := withUploader(p.ctx, ep, p.timeout, func(ctx context.Context, up crashinfo.Uploader) error {
			return up.UploadPing(ctx, ping)
		})
		if err != nil {
			log.Warnf("Failed to send crash ping %s: %v", ping.CrashUUID, err)
		}
		return nil
	})
}

// wait returns once every ping sent so far finished.
func (p *pinger) wait() {
	_ = p.g.Wait()
}

func (o *Options) uploadTimeout() time.Duration {
	switch {
	case o.UploadTimeout > 0:
		return o.UploadTimeout
	case o.Timeout > 0:
		return o.Timeout
	}
	return times.DefaultReceiverTimeout
}

// ReceiveAndUpload handles one report end to end. It returns nil, nil if
// the stream carried no report.
func ReceiveAndUpload(ctx context.Context, r io.Reader,
	opts *Options) (*crashinfo.CrashInfo, error) {
	pings := newPinger(ctx, opts)
	defer pings.wait()

	rep, err := receiveReport(ctx, r, opts.Timeout, pings.send)
	if err != nil || rep == nil {
		return nil, err
	}
	ci := rep.Finalize(opts)
	if !rep.Complete {
		log.Infof("Crash report %s is incomplete", ci.UUID)
	}

	if err := Upload(ctx, ci, rep.Endpoint(opts.Endpoint), opts.uploadTimeout()); err != nil {
		return ci, fmt.Errorf("failed to upload crash report %s: %w", ci.UUID, err)
	}
	log.Infof("Uploaded crash report %s (fingerprint %s)", ci.UUID, ci.Fingerprint)
	return ci, nil
}
