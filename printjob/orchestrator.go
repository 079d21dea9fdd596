package printjob

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nixxel-company-limited/ql-usb-server/cache"
	"github.com/nixxel-company-limited/ql-usb-server/label"
	"github.com/nixxel-company-limited/ql-usb-server/media"
	"github.com/nixxel-company-limited/ql-usb-server/prepare"
	"github.com/nixxel-company-limited/ql-usb-server/qlerr"
	"github.com/nixxel-company-limited/ql-usb-server/session"
	"github.com/nixxel-company-limited/ql-usb-server/settings"
	"github.com/nixxel-company-limited/ql-usb-server/status"
	"go.uber.org/zap"
)

// Printer is the device side of a job.
type Printer interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, data []byte) error
	QueryStatus(ctx context.Context) (*status.Report, bool)
	State() session.State
	Disconnect() error
}

type Options struct {
	// Cache of prepared streams; nil disables caching.
	Cache    cache.Cache
	CacheTTL time.Duration
	Encoding prepare.Encoding
}

// Orchestrator runs one print job at a time against a Printer.
type Orchestrator struct {
	printer  Printer
	preparer prepare.Preparer
	settings *settings.Store
	opts     Options
	logger   *zap.Logger

	mu     sync.Mutex
	active *Job
}

func New(printer Printer, preparer prepare.Preparer, store *settings.Store, opts Options, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = cache.DefaultTTL
	}
	return &Orchestrator{
		printer:  printer,
		preparer: preparer,
		settings: store,
		opts:     opts,
		logger:   logger.Named("printjob"),
	}
}

// Busy reports whether a job is in flight.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active != nil
}

func (o *Orchestrator) begin() (*Job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != nil {
		return nil, fmt.Errorf("%w: job %s is in progress", qlerr.ErrSessionBusy, o.active.ID)
	}
	job := newJob(uuid.NewString())
	o.active = job
	return job, nil
}

func (o *Orchestrator) end(job *Job, r Result) {
	o.mu.Lock()
	if o.active == job {
		o.active = nil
	}
	o.mu.Unlock()
	job.finish(r)
}

// Start begins printing req and returns at once. A second job while one is
// in flight is rejected, not queued.
func (o *Orchestrator) Start(ctx context.Context, req label.Request) (*Job, error) {
	job, err := o.begin()
	if err != nil {
		return nil, err
	}
	go o.run(ctx, job, func(ctx context.Context, log *zap.Logger) ([]byte, string, error) {
		job.report(Rendering, "")
		lbl, err := o.resolveLabel(ctx, req, log)
		if err != nil {
			return nil, "", err
		}
		req.LabelSize = lbl.ID
		data, err := o.stream(ctx, req, lbl, log)
		return data, lbl.ID, err
	})
	return job, nil
}

// StartRaw sends an already encoded command stream.
func (o *Orchestrator) StartRaw(ctx context.Context, data []byte) (*Job, error) {
	job, err := o.begin()
	if err != nil {
		return nil, err
	}
	go o.run(ctx, job, func(context.Context, *zap.Logger) ([]byte, string, error) {
		return data, "", nil
	})
	return job, nil
}

// Print is the synchronous form of Start.
func (o *Orchestrator) Print(ctx context.Context, req label.Request) Result {
	job, err := o.Start(ctx, req)
	if err != nil {
		return Result{Message: err.Error(), Err: err}
	}
	return job.Wait()
}

// PrintRaw is the synchronous form of StartRaw.
func (o *Orchestrator) PrintRaw(ctx context.Context, data []byte) Result {
	job, err := o.StartRaw(ctx, data)
	if err != nil {
		return Result{Message: err.Error(), Err: err}
	}
	return job.Wait()
}

type obtainFunc func(ctx context.Context, log *zap.Logger) (data []byte, labelSize string, err error)

func (o *Orchestrator) run(ctx context.Context, job *Job, obtain obtainFunc) {
	log := o.logger.With(zap.String("job_id", job.ID))
	start := time.Now()

	fail := func(stage string, err error) {
		log.Error("Print job failed", zap.String("stage", stage), zap.Error(err))
		o.end(job, Result{Message: fmt.Sprintf("%s: %v", stage, err), Err: err})
	}

	job.report(Connecting, "")
	if err := o.printer.Connect(ctx); err != nil {
		fail("connect", err)
		return
	}

	data, labelSize, err := obtain(ctx, log)
	if err != nil {
		fail("prepare", err)
		return
	}

	if delay := o.settings.Get().JobDelay(); delay > 0 {
		log.Debug("Waiting before send", zap.Duration("delay", delay))
		if err := sleep(ctx, delay); err != nil {
			fail("delay", err)
			return
		}
	}

	job.report(Sending, "")
	if err := o.printer.Send(ctx, data); err != nil {
		fail("send", err)
		return
	}

	log.Info("Print job complete",
		zap.String("label_size", labelSize),
		zap.Int("bytes", len(data)),
		zap.Duration("took", time.Since(start)))
	msg := fmt.Sprintf("printed %d bytes", len(data))
	if labelSize != "" {
		msg = fmt.Sprintf("printed %s label", labelSize)
	}
	o.end(job, Result{Success: true, Message: msg, LabelSize: labelSize, Bytes: len(data)})
}

// resolveLabel picks the label stock for req. Without a label size in the
// request the loaded media is used when the printer reports it, else the
// configured default.
func (o *Orchestrator) resolveLabel(ctx context.Context, req label.Request, log *zap.Logger) (media.Label, error) {
	report, ok := o.printer.QueryStatus(ctx)
	var detected media.Label
	var found bool
	if ok {
		if report.HasErrors() {
			log.Warn("Printer reports errors", zap.Strings("errors", report.Errors))
		}
		detected, found = report.Label()
	} else {
		log.Debug("Printer status unavailable")
	}

	id := req.LabelSize
	if id == "" {
		if found {
			log.Info("Using detected media", zap.String("label_size", detected.ID))
			return detected, nil
		}
		id = o.settings.Get().Defaults.LabelSize
	}

	lbl, err := media.Lookup(id)
	if err != nil {
		return media.Label{}, err
	}
	if ok && report.MediaWidthMM != 0 && report.MediaWidthMM != lbl.WidthMM {
		log.Warn("Requested label does not match loaded media",
			zap.String("label_size", lbl.ID),
			zap.Int("loaded_width_mm", report.MediaWidthMM))
	}
	return lbl, nil
}

type cacheKey struct {
	Request  label.Request
	Label    string
	Encoding prepare.Encoding
}

// stream prepares req through the cache.
func (o *Orchestrator) stream(ctx context.Context, req label.Request, lbl media.Label, log *zap.Logger) ([]byte, error) {
	var key string
	if o.opts.Cache != nil {
		k, err := cache.Key(cacheKey{Request: req, Label: lbl.ID, Encoding: o.opts.Encoding})
		if err != nil {
			log.Warn("Cache key failed", zap.Error(err))
		} else {
			key = k
			data, found, err := o.opts.Cache.Get(ctx, key)
			switch {
			case err != nil:
				log.Warn("Cache get failed", zap.Error(err))
			case found:
				log.Debug("Prepared stream from cache", zap.String("key", key))
				return data, nil
			}
		}
	}

	data, err := prepare.Stream(ctx, o.preparer, o.opts.Encoding, req, lbl)
	if err != nil {
		return nil, err
	}

	if key != "" {
		if err := o.opts.Cache.Set(ctx, key, data, o.opts.CacheTTL); err != nil {
			log.Warn("Cache set failed", zap.Error(err))
		}
	}
	return data, nil
}

// Prepare returns the command stream for req without printing it.
func (o *Orchestrator) Prepare(ctx context.Context, req label.Request) ([]byte, error) {
	id := req.LabelSize
	if id == "" {
		if report, ok := o.printer.QueryStatus(ctx); ok {
			if lbl, found := report.Label(); found {
				id = lbl.ID
			}
		}
	}
	if id == "" {
		id = o.settings.Get().Defaults.LabelSize
	}
	lbl, err := media.Lookup(id)
	if err != nil {
		return nil, err
	}
	req.LabelSize = lbl.ID
	return o.stream(ctx, req, lbl, o.logger)
}

// Reset releases the printer so that the next job connects afresh. It is
// the way out of a failed session and is refused while a job runs.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != nil {
		return fmt.Errorf("%w: job %s is in progress", qlerr.ErrSessionBusy, o.active.ID)
	}
	prev := o.printer.State()
	if err := o.printer.Disconnect(); err != nil {
		return err
	}
	o.logger.Info("Printer reset", zap.Stringer("previous_state", prev))
	return nil
}

// FlushCache drops every prepared stream.
func (o *Orchestrator) FlushCache(ctx context.Context) error {
	if o.opts.Cache == nil {
		return nil
	}
	return o.opts.Cache.Flush(ctx)
}

// Status returns the printer status for display. It connects first when no
// job is running; failures only make the report unavailable.
func (o *Orchestrator) Status(ctx context.Context) (*status.Report, bool) {
	if !o.Busy() && o.printer.State() == session.Disconnected {
		if err := o.printer.Connect(ctx); err != nil && !errors.Is(err, qlerr.ErrSessionBusy) {
			o.logger.Debug("Connect for status failed", zap.Error(err))
		}
	}
	return o.printer.QueryStatus(ctx)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
