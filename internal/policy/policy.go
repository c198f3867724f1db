// Package policy implements the eligibility rules that decide which devices
// a reconciliation run may act on. Classification is pure: no I/O, no clock
// access — the caller supplies the reference time.
package policy

import (
	"fmt"
	"time"

	"github.com/Smok3y97/Rustdesk-Server-Pro-Device-Cleaner/internal/directory"
	"github.com/Smok3y97/Rustdesk-Server-Pro-Device-Cleaner/internal/models"
)

const day = 24 * time.Hour

// Classify maps one device to an eligibility verdict under the given policy.
//
// Rules, in order:
//   - all: every filtered device, used by the explicit -all escape hatch;
//   - ungrouped: no device group assigned, regardless of last_online
//     (covers one-shot Quick Support sessions that never get grouped);
//   - stale: last_online present and at least StaleAfterDays ago, boundary
//     inclusive;
//   - otherwise ineligible. A grouped device that never connected is
//     presumed provisioned, not abandoned — only the ungrouped rule can
//     catch it.
//
// A device whose last_online lies in the future of now is reported as a
// *directory.PolicyError rather than guessed at: clock skew between the
// server and the host running the cleaner should be fixed, not silently
// classified.
func Classify(d models.Device, p models.Policy, now time.Time) (models.Verdict, error) {
	if d.ID == "" || d.GUID == "" {
		return models.Verdict{}, &directory.PolicyError{
			DeviceID: d.ID,
			Detail:   "record missing id or guid",
		}
	}

	if p.All {
		return models.Verdict{DeviceID: d.ID, Eligible: true, Reason: models.ReasonMatched}, nil
	}

	if p.Ungrouped && d.Ungrouped() {
		return models.Verdict{DeviceID: d.ID, Eligible: true, Reason: models.ReasonUngrouped}, nil
	}

	if p.StaleAfterDays > 0 && d.LastOnline != nil {
		if d.LastOnline.After(now) {
			return models.Verdict{}, &directory.PolicyError{
				DeviceID: d.ID,
				Detail:   fmt.Sprintf("last_online %s is in the future", d.LastOnline.Format(time.RFC3339)),
			}
		}
		if now.Sub(*d.LastOnline) >= time.Duration(p.StaleAfterDays)*day {
			return models.Verdict{DeviceID: d.ID, Eligible: true, Reason: models.ReasonStale}, nil
		}
	}

	return models.Verdict{DeviceID: d.ID, Eligible: false, Reason: models.ReasonIneligible}, nil
}
