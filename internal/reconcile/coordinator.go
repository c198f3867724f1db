// Package reconcile runs the top-level device cleanup loop: snapshot the full
// inventory, classify it against policy, and drive eligible devices through
// their lifecycle transitions.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Smok3y97/Rustdesk-Server-Pro-Device-Cleaner/internal/directory"
	"github.com/Smok3y97/Rustdesk-Server-Pro-Device-Cleaner/internal/lifecycle"
	"github.com/Smok3y97/Rustdesk-Server-Pro-Device-Cleaner/internal/models"
	"github.com/Smok3y97/Rustdesk-Server-Pro-Device-Cleaner/internal/policy"
)

// ErrConfirmationRequired is returned by a live run that matched more than
// one device without auto-confirmation. Nothing has been mutated when it is
// returned.
var ErrConfirmationRequired = errors.New("multiple devices matched; confirm with --yes")

// Options configures a reconciliation run.
type Options struct {
	Filter      models.SearchFilter
	Policy      models.Policy
	DryRun      bool
	OnlyDisable bool

	// AutoConfirm skips the multi-device safety gate. Required for
	// unattended (cron) runs that target more than one device.
	AutoConfirm bool

	// Workers bounds the number of concurrent device pipelines. Values
	// below 2 mean sequential processing. Each device is processed
	// end-to-end by a single worker; the device is the partition key.
	Workers int

	// Now is the reference time for staleness classification. Zero means
	// the wall clock at run start.
	Now time.Time
}

// Coordinator owns one reconciliation run against a device directory.
type Coordinator struct {
	dir directory.Directory
	opt Options
}

// New creates a coordinator for the given directory and options.
func New(dir directory.Directory, opt Options) *Coordinator {
	return &Coordinator{dir: dir, opt: opt}
}

// Snapshot drains the full device listing into memory before any
// classification happens, so the whole run works from one consistent view.
// Duplicate IDs across pages are dropped defensively and reported to the
// caller as policy violations. A listing failure is fatal to the run.
func (c *Coordinator) Snapshot(ctx context.Context) ([]models.Device, []models.TransitionRecord, error) {
	var (
		devices    []models.Device
		violations []models.TransitionRecord
		seen       = map[string]bool{}
		cursor     string
	)

	for {
		page, next, err := c.dir.ListDevices(ctx, c.opt.Filter, cursor)
		if err != nil {
			return nil, nil, fmt.Errorf("list devices: %w", err)
		}
		for _, d := range page {
			if d.ID != "" && seen[d.ID] {
				log.Printf("[reconcile] duplicate device id %q across pages, skipping", d.ID)
				violations = append(violations, policyViolation(d.ID, "duplicate id in listing"))
				continue
			}
			seen[d.ID] = true
			devices = append(devices, d)
		}
		if next == "" {
			break
		}
		cursor = next
	}

	log.Printf("[reconcile] inventory snapshot: %d devices", len(devices))
	return devices, violations, nil
}

// Partition applies the classifier to a snapshot, returning the eligible
// devices and the records for devices the classifier refused (malformed
// record, implausible timestamps). The ineligible remainder produces no
// records; leaving a device alone needs no audit trail.
func Partition(devices []models.Device, pol models.Policy, now time.Time) (eligible []models.Device, violations []models.TransitionRecord) {
	for _, d := range devices {
		v, err := policy.Classify(d, pol, now)
		if err != nil {
			log.Printf("[reconcile] skipping device: %v", err)
			violations = append(violations, policyViolation(d.ID, err.Error()))
			continue
		}
		if v.Eligible {
			log.Printf("[reconcile] device %s eligible: %s", d.ID, v.Reason)
			eligible = append(eligible, d)
		}
	}
	return eligible, violations
}

// Remove runs the full delete workflow: snapshot, classify, then drive every
// eligible device through disable → delete. The report is complete even when
// the run ends early for confirmation; in that case no mutating call has
// been made.
func (c *Coordinator) Remove(ctx context.Context) (*models.RunReport, error) {
	driver := &lifecycle.Driver{Dir: c.dir, DryRun: c.opt.DryRun, OnlyDisable: c.opt.OnlyDisable}
	return c.sweep(ctx, "delete", driver.Remove)
}

// Sweep runs a one-step workflow (enable or disable) over every device the
// filter and policy match.
func (c *Coordinator) Sweep(ctx context.Context, step string) (*models.RunReport, error) {
	driver := &lifecycle.Driver{Dir: c.dir, DryRun: c.opt.DryRun}
	return c.sweep(ctx, step, func(ctx context.Context, dev models.Device) []models.TransitionRecord {
		return []models.TransitionRecord{driver.Step(ctx, dev, step)}
	})
}

// Assign runs the assignment workflow, setting attrType=value on every
// matched device.
func (c *Coordinator) Assign(ctx context.Context, attrType, value string) (*models.RunReport, error) {
	driver := &lifecycle.Driver{Dir: c.dir, DryRun: c.opt.DryRun}
	return c.sweep(ctx, models.StepAssign, func(ctx context.Context, dev models.Device) []models.TransitionRecord {
		return []models.TransitionRecord{driver.Assign(ctx, dev, attrType, value)}
	})
}

func (c *Coordinator) sweep(ctx context.Context, command string, fn func(context.Context, models.Device) []models.TransitionRecord) (*models.RunReport, error) {
	report := c.newReport(command)
	defer finish(report)
	step := firstStep(command)

	devices, violations, err := c.Snapshot(ctx)
	if err != nil {
		return report, err
	}
	report.Scanned = len(devices)
	report.Merge(stamp(violations, step))

	now := c.opt.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	eligible, refused := Partition(devices, c.opt.Policy, now)
	report.Eligible = len(eligible)
	report.Merge(stamp(refused, step))

	if len(eligible) > 1 && !c.opt.DryRun && !c.opt.AutoConfirm {
		return report, ErrConfirmationRequired
	}

	c.drive(ctx, eligible, report, step, fn)
	return report, nil
}

// stamp tags policy-violation records with the step this run would have
// attempted. Snapshot and Partition produce the records without knowing
// which command is running.
func stamp(recs []models.TransitionRecord, step string) []models.TransitionRecord {
	for i := range recs {
		recs[i].Step = step
	}
	return recs
}

// firstStep names the transition a command would attempt first; cancellation
// records use it so the report reads naturally.
func firstStep(command string) string {
	switch command {
	case "enable":
		return models.StepEnable
	case "assign":
		return models.StepAssign
	default:
		return models.StepDisable
	}
}

// drive processes eligible devices, sequentially or with a bounded worker
// pool. Results flow through a channel drained by this goroutine alone, so
// the report never sees concurrent writers. Cancellation stops dispatching
// new devices; calls already in flight are not rolled back — the remote API
// has no compensating transaction.
func (c *Coordinator) drive(ctx context.Context, devices []models.Device, report *models.RunReport, step string, fn func(context.Context, models.Device) []models.TransitionRecord) {
	if c.opt.Workers < 2 {
		for _, dev := range devices {
			if ctx.Err() != nil {
				report.Merge(cancelled(dev.ID, step))
				continue
			}
			report.Merge(fn(ctx, dev))
		}
		return
	}

	var (
		work    = make(chan models.Device)
		results = make(chan []models.TransitionRecord)
		wg      sync.WaitGroup
	)

	for i := 0; i < c.opt.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for dev := range work {
				results <- fn(ctx, dev)
			}
		}()
	}

	go func() {
		defer close(work)
		for _, dev := range devices {
			if ctx.Err() != nil {
				results <- cancelled(dev.ID, step)
				continue
			}
			work <- dev
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for recs := range results {
		report.Merge(recs)
	}
}

func (c *Coordinator) newReport(command string) *models.RunReport {
	return &models.RunReport{
		Command:   command,
		DryRun:    c.opt.DryRun,
		StartedAt: time.Now().UTC(),
	}
}

func finish(r *models.RunReport) { r.FinishedAt = time.Now().UTC() }

func policyViolation(id, detail string) models.TransitionRecord {
	return models.TransitionRecord{
		DeviceID: id,
		Outcome:  models.OutcomeFailed,
		Error:    "policy: " + detail,
	}
}

func cancelled(id, step string) []models.TransitionRecord {
	return []models.TransitionRecord{{
		DeviceID: id,
		Step:     step,
		Outcome:  models.OutcomeFailed,
		Error:    "run cancelled before device was processed",
	}}
}
