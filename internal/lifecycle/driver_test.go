package lifecycle

import (
	"context"
	"strings"
	"testing"

	"github.com/Smok3y97/Rustdesk-Server-Pro-Device-Cleaner/internal/directory"
	"github.com/Smok3y97/Rustdesk-Server-Pro-Device-Cleaner/internal/directory/directorytest"
	"github.com/Smok3y97/Rustdesk-Server-Pro-Device-Cleaner/internal/models"
)

func activeDevice(id string) models.Device {
	return models.Device{ID: id, GUID: "g-" + id, Status: models.StatusActive}
}

func outcomes(recs []models.TransitionRecord) []string {
	var out []string
	for _, r := range recs {
		out = append(out, r.Step+"/"+r.Outcome)
	}
	return out
}

func TestRemoveDisablesBeforeDelete(t *testing.T) {
	t.Parallel()
	dev := activeDevice("A1")
	fake := directorytest.New(dev)
	driver := &Driver{Dir: fake}

	recs := driver.Remove(context.Background(), dev)

	want := []string{"disable/success", "delete/success"}
	if got := outcomes(recs); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("records = %v, want %v", got, want)
	}

	// The delete call must come after the disable call.
	var disableAt, deleteAt int
	for i, c := range fake.Calls {
		switch c {
		case "disable:g-A1":
			disableAt = i
		case "delete:g-A1":
			deleteAt = i
		}
	}
	if deleteAt < disableAt {
		t.Errorf("delete issued before disable: %v", fake.Calls)
	}
	if fake.Device("g-A1") != nil {
		t.Errorf("device still present after removal")
	}
}

func TestRemoveSkipsDisableWhenAlreadyDisabled(t *testing.T) {
	t.Parallel()
	dev := models.Device{ID: "A1", GUID: "g-A1", Status: models.StatusDisabled}
	fake := directorytest.New(dev)
	driver := &Driver{Dir: fake}

	recs := driver.Remove(context.Background(), dev)

	if got := outcomes(recs); strings.Join(got, ",") != "delete/success" {
		t.Fatalf("records = %v, want delete only", got)
	}
	for _, c := range fake.Calls {
		if strings.HasPrefix(c, "disable:") {
			t.Errorf("disable issued for an already-disabled device: %v", fake.Calls)
		}
	}
}

func TestRemoveStopsAfterDisableFailure(t *testing.T) {
	t.Parallel()
	dev := activeDevice("A1")
	fake := directorytest.New(dev)
	fake.DisableErr = map[string]error{
		"g-A1": &directory.PermanentError{Op: "disable", Status: 403, Detail: "forbidden"},
	}
	driver := &Driver{Dir: fake}

	recs := driver.Remove(context.Background(), dev)

	if len(recs) != 1 || !recs[0].Failed() {
		t.Fatalf("records = %v, want single failed disable", recs)
	}
	for _, c := range fake.Calls {
		if strings.HasPrefix(c, "delete:") {
			t.Errorf("delete issued for a device never confirmed disabled: %v", fake.Calls)
		}
	}
}

func TestRemoveOnlyDisable(t *testing.T) {
	t.Parallel()
	dev := activeDevice("A1")
	fake := directorytest.New(dev)
	driver := &Driver{Dir: fake, OnlyDisable: true}

	recs := driver.Remove(context.Background(), dev)

	if got := outcomes(recs); strings.Join(got, ",") != "disable/success" {
		t.Fatalf("records = %v, want disable only", got)
	}
	if fake.Device("g-A1") == nil {
		t.Errorf("device deleted despite only-disable")
	}
}

func TestRemovePreconditionRecovery(t *testing.T) {
	t.Parallel()
	dev := activeDevice("D4")
	fake := directorytest.New(dev)

	// Remote state reverts to active between our disable and delete, so the
	// first delete is rejected. The driver must re-verify, re-disable, and
	// retry the delete instead of dropping the device.
	fake.BeforeDelete = func(f *directorytest.Fake, guid string) {
		f.SetStatus(guid, models.StatusActive)
	}
	driver := &Driver{Dir: fake}

	recs := driver.Remove(context.Background(), dev)

	want := "disable/success,disable/success,delete/success"
	if got := strings.Join(outcomes(recs), ","); got != want {
		t.Fatalf("records = %v, want %s", outcomes(recs), want)
	}

	foundVerify := false
	for _, c := range fake.Calls {
		if c == "get:D4" {
			foundVerify = true
		}
	}
	if !foundVerify {
		t.Errorf("driver never re-verified remote status: %v", fake.Calls)
	}
	if fake.Device("g-D4") != nil {
		t.Errorf("device still present after recovery")
	}
}

func TestRemoveRepeatedPreconditionIsTerminalFailure(t *testing.T) {
	t.Parallel()
	dev := models.Device{ID: "A1", GUID: "g-A1", Status: models.StatusDisabled}
	fake := directorytest.New(dev)
	fake.DeleteErr = map[string]error{
		"g-A1": &directory.PreconditionError{GUID: "g-A1", Detail: "state changed"},
	}
	driver := &Driver{Dir: fake}

	// The server rejects the delete even after re-verification found the
	// device disabled. The driver must give up and record the failure
	// instead of looping against a flapping server.
	recs := driver.Remove(context.Background(), dev)
	last := recs[len(recs)-1]
	if last.Step != models.StepDelete || !last.Failed() {
		t.Fatalf("records = %v, want terminal failed delete", recs)
	}
}

func TestDryRunIssuesNoMutations(t *testing.T) {
	t.Parallel()
	dev := activeDevice("A1")
	fake := directorytest.New(dev)
	driver := &Driver{Dir: fake, DryRun: true}

	recs := driver.Remove(context.Background(), dev)

	want := "disable/would,delete/would"
	if got := strings.Join(outcomes(recs), ","); got != want {
		t.Fatalf("records = %v, want %s", outcomes(recs), want)
	}
	if n := fake.Mutations(); n != 0 {
		t.Errorf("dry run issued %d mutating calls: %v", n, fake.Calls)
	}
	if fake.Device("g-A1") == nil {
		t.Errorf("dry run removed the device")
	}
}

func TestStepEnable(t *testing.T) {
	t.Parallel()
	dev := models.Device{ID: "A1", GUID: "g-A1", Status: models.StatusDisabled}
	fake := directorytest.New(dev)
	driver := &Driver{Dir: fake}

	rec := driver.Step(context.Background(), dev, models.StepEnable)
	if rec.Outcome != models.OutcomeSuccess {
		t.Fatalf("enable outcome = %s, want success", rec.Outcome)
	}
	if got := fake.Device("g-A1").Status; got != models.StatusActive {
		t.Errorf("status after enable = %s, want active", got)
	}

	rec = driver.Step(context.Background(), dev, models.StepEnable)
	if rec.Outcome != models.OutcomeAlreadyInState {
		t.Errorf("second enable outcome = %s, want already_in_state", rec.Outcome)
	}
}

func TestAssignRecordsOutcome(t *testing.T) {
	t.Parallel()
	dev := activeDevice("A1")
	fake := directorytest.New(dev)
	driver := &Driver{Dir: fake}

	rec := driver.Assign(context.Background(), dev, "device_group_name", "workshop")
	if rec.Outcome != models.OutcomeSuccess {
		t.Fatalf("assign outcome = %s, want success", rec.Outcome)
	}
	found := false
	for _, c := range fake.Calls {
		if c == "assign:g-A1:device_group_name=workshop" {
			found = true
		}
	}
	if !found {
		t.Errorf("assign call not recorded: %v", fake.Calls)
	}
}
