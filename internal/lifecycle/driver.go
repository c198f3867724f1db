// Package lifecycle drives individual devices through the server's mandatory
// two-step removal: a device must be observed disabled before a delete is
// issued. The driver owns that invariant; callers hand it one device at a
// time and collect transition records.
package lifecycle

import (
	"context"
	"log"

	"github.com/Smok3y97/Rustdesk-Server-Pro-Device-Cleaner/internal/directory"
	"github.com/Smok3y97/Rustdesk-Server-Pro-Device-Cleaner/internal/models"
)

// Driver executes lifecycle transitions against a device directory. One
// driver is shared across workers; it holds no per-device state.
type Driver struct {
	Dir directory.Directory

	// DryRun replaces every mutating call with a recorded "would" outcome.
	// The state machine still advances symbolically so the report reflects
	// the actions a live run would take.
	DryRun bool

	// OnlyDisable stops the removal pipeline after the disable step.
	OnlyDisable bool
}

// Remove drives one device through disable → delete. The returned records
// cover every attempted step; a failed step terminates the pipeline for this
// device without affecting any other.
//
// Delete is never issued unless this run observed the device disabled:
// either the listing reported it disabled, or the disable call (or its
// dry-run stand-in) succeeded first.
func (d *Driver) Remove(ctx context.Context, dev models.Device) []models.TransitionRecord {
	var recs []models.TransitionRecord

	if dev.Status != models.StatusDisabled {
		rec := d.step(ctx, dev, models.StepDisable)
		recs = append(recs, rec)
		if rec.Failed() {
			return recs
		}
	}

	if d.OnlyDisable {
		return recs
	}

	rec, err := d.delete(ctx, dev)
	if directory.IsPrecondition(err) {
		// Remote state changed between our calls. Re-verify instead of
		// forcing the delete.
		recs = append(recs, d.recover(ctx, dev)...)
		return recs
	}
	recs = append(recs, rec)
	return recs
}

// recover handles a delete rejected for a state mismatch: re-fetch the
// device, re-disable if it reverted to active, then retry the delete once.
func (d *Driver) recover(ctx context.Context, dev models.Device) []models.TransitionRecord {
	log.Printf("[lifecycle] %s: delete rejected, re-verifying remote status", dev.ID)

	cur, err := d.Dir.GetDevice(ctx, dev.ID)
	if err != nil {
		return []models.TransitionRecord{{
			DeviceID: dev.ID,
			Step:     models.StepDelete,
			Outcome:  models.OutcomeFailed,
			Error:    "re-verify after precondition failure: " + err.Error(),
		}}
	}
	if cur == nil {
		// Gone from the listing entirely: removed out of band. The slot is
		// free either way.
		log.Printf("[lifecycle] %s: no longer listed, treating as removed", dev.ID)
		return []models.TransitionRecord{{
			DeviceID: dev.ID,
			Step:     models.StepDelete,
			Outcome:  models.OutcomeAlreadyInState,
		}}
	}

	var recs []models.TransitionRecord
	if cur.Status != models.StatusDisabled {
		rec := d.step(ctx, *cur, models.StepDisable)
		recs = append(recs, rec)
		if rec.Failed() {
			return recs
		}
	}

	rec, err := d.delete(ctx, *cur)
	if directory.IsPrecondition(err) {
		// Second rejection with a freshly verified disable: give up on this
		// device rather than loop against a server that keeps flapping.
		rec = models.TransitionRecord{
			DeviceID: dev.ID,
			Step:     models.StepDelete,
			Outcome:  models.OutcomeFailed,
			Error:    err.Error(),
		}
	}
	return append(recs, rec)
}

func (d *Driver) delete(ctx context.Context, dev models.Device) (models.TransitionRecord, error) {
	rec := models.TransitionRecord{DeviceID: dev.ID, Step: models.StepDelete}

	if d.DryRun {
		log.Printf("[dry-run] would delete device %s (guid %s)", dev.ID, dev.GUID)
		rec.Outcome = models.OutcomeWould
		return rec, nil
	}

	ack, err := d.Dir.Delete(ctx, dev.GUID)
	switch {
	case directory.IsPrecondition(err):
		return rec, err
	case err != nil:
		rec.Outcome = models.OutcomeFailed
		rec.Error = err.Error()
		log.Printf("[lifecycle] delete %s failed: %v", dev.ID, err)
	case ack.Already:
		rec.Outcome = models.OutcomeAlreadyInState
	default:
		rec.Outcome = models.OutcomeSuccess
		log.Printf("[lifecycle] deleted device %s", dev.ID)
	}
	return rec, nil
}

// Step performs a single transition (disable, enable, or assign) on a
// device. Used directly by the one-step sweep commands.
func (d *Driver) Step(ctx context.Context, dev models.Device, step string) models.TransitionRecord {
	return d.step(ctx, dev, step)
}

func (d *Driver) step(ctx context.Context, dev models.Device, step string) models.TransitionRecord {
	rec := models.TransitionRecord{DeviceID: dev.ID, Step: step}

	if d.DryRun {
		log.Printf("[dry-run] would %s device %s (guid %s)", step, dev.ID, dev.GUID)
		rec.Outcome = models.OutcomeWould
		return rec
	}

	var (
		ack directory.Ack
		err error
	)
	switch step {
	case models.StepDisable:
		ack, err = d.Dir.Disable(ctx, dev.GUID)
	case models.StepEnable:
		ack, err = d.Dir.Enable(ctx, dev.GUID)
	default:
		rec.Outcome = models.OutcomeFailed
		rec.Error = "unknown step: " + step
		return rec
	}

	switch {
	case err != nil:
		rec.Outcome = models.OutcomeFailed
		rec.Error = err.Error()
		log.Printf("[lifecycle] %s %s failed: %v", step, dev.ID, err)
	case ack.Already:
		rec.Outcome = models.OutcomeAlreadyInState
	default:
		rec.Outcome = models.OutcomeSuccess
		log.Printf("[lifecycle] %sd device %s", step, dev.ID)
	}
	return rec
}

// Assign sets an attribute on a device, honoring dry-run.
func (d *Driver) Assign(ctx context.Context, dev models.Device, attrType, value string) models.TransitionRecord {
	rec := models.TransitionRecord{DeviceID: dev.ID, Step: models.StepAssign}

	if d.DryRun {
		log.Printf("[dry-run] would assign %s=%s to device %s", attrType, value, dev.ID)
		rec.Outcome = models.OutcomeWould
		return rec
	}

	if err := d.Dir.Assign(ctx, dev.GUID, attrType, value); err != nil {
		rec.Outcome = models.OutcomeFailed
		rec.Error = err.Error()
		log.Printf("[lifecycle] assign %s=%s to %s failed: %v", attrType, value, dev.ID, err)
		return rec
	}
	rec.Outcome = models.OutcomeSuccess
	log.Printf("[lifecycle] assigned %s=%s to device %s", attrType, value, dev.ID)
	return rec
}
