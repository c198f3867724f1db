// Package directorytest provides an in-memory Directory implementation with
// call recording, for driver and coordinator tests.
package directorytest

import (
	"context"
	"strings"
	"sync"

	"github.com/Smok3y97/Rustdesk-Server-Pro-Device-Cleaner/internal/directory"
	"github.com/Smok3y97/Rustdesk-Server-Pro-Device-Cleaner/internal/models"
)

// Fake is an in-memory device directory. It enforces the server's real
// semantics: disable is idempotent, delete rejects devices that are not
// disabled. Every call is appended to Calls in order.
type Fake struct {
	mu       sync.Mutex
	devices  []models.Device
	pageSize int

	// Calls is the ordered log of operations, e.g. "list", "get:A1",
	// "disable:g1", "delete:g1".
	Calls []string

	// ListErr, when set, fails every listing call.
	ListErr error

	// DisableErr and DeleteErr inject per-GUID failures.
	DisableErr map[string]error
	DeleteErr  map[string]error

	// BeforeDelete, when set, runs before each delete is applied. Tests use
	// it to flip remote state between a disable and its delete.
	BeforeDelete func(f *Fake, guid string)
}

var _ directory.Directory = (*Fake)(nil)

// New creates a fake directory seeded with the given devices.
func New(devices ...models.Device) *Fake {
	f := &Fake{pageSize: 100}
	f.devices = append(f.devices, devices...)
	return f
}

// SetPageSize makes listings paginate with the given page length.
func (f *Fake) SetPageSize(n int) { f.pageSize = n }

// SetStatus rewrites the stored status of a device by GUID.
func (f *Fake) SetStatus(guid, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.devices {
		if f.devices[i].GUID == guid {
			f.devices[i].Status = status
		}
	}
}

// Device returns the stored device with the given GUID, or nil if deleted.
func (f *Fake) Device(guid string) *models.Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.devices {
		if f.devices[i].GUID == guid {
			d := f.devices[i]
			return &d
		}
	}
	return nil
}

// Mutations counts the mutating calls issued so far. Dry-run tests assert it
// stays zero.
func (f *Fake) Mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if !strings.HasPrefix(c, "list") && !strings.HasPrefix(c, "get:") {
			n++
		}
	}
	return n
}

func (f *Fake) record(call string) {
	f.Calls = append(f.Calls, call)
}

// ListDevices returns one page of devices. Only the ID filter is honored,
// with substring matching; the real server does the same with wildcards.
func (f *Fake) ListDevices(ctx context.Context, filter models.SearchFilter, cursor string) ([]models.Device, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("list")

	if f.ListErr != nil {
		return nil, "", f.ListErr
	}

	var matched []models.Device
	for _, d := range f.devices {
		if filter.ID != "" && !strings.Contains(d.ID, strings.Trim(filter.ID, "%")) {
			continue
		}
		matched = append(matched, d)
	}

	start := 0
	if cursor != "" {
		for i, d := range matched {
			if d.ID == cursor {
				start = i
				break
			}
		}
	}
	end := start + f.pageSize
	if end >= len(matched) {
		return matched[start:], "", nil
	}
	return matched[start:end], matched[end].ID, nil
}

// GetDevice returns the device with the exact ID, nil if unknown.
func (f *Fake) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("get:" + id)

	for _, d := range f.devices {
		if d.ID == id {
			dev := d
			return &dev, nil
		}
	}
	return nil, nil
}

// Disable marks a device disabled. Idempotent: an already-disabled device
// acks with Already.
func (f *Fake) Disable(ctx context.Context, guid string) (directory.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("disable:" + guid)

	if err := f.DisableErr[guid]; err != nil {
		return directory.Ack{}, err
	}
	for i := range f.devices {
		if f.devices[i].GUID == guid {
			if f.devices[i].Status == models.StatusDisabled {
				return directory.Ack{Already: true}, nil
			}
			f.devices[i].Status = models.StatusDisabled
			return directory.Ack{}, nil
		}
	}
	return directory.Ack{}, &directory.PermanentError{Op: "disable", Status: 404, Detail: "unknown device"}
}

// Enable marks a device active.
func (f *Fake) Enable(ctx context.Context, guid string) (directory.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("enable:" + guid)

	for i := range f.devices {
		if f.devices[i].GUID == guid {
			if f.devices[i].Status == models.StatusActive {
				return directory.Ack{Already: true}, nil
			}
			f.devices[i].Status = models.StatusActive
			return directory.Ack{}, nil
		}
	}
	return directory.Ack{}, &directory.PermanentError{Op: "enable", Status: 404, Detail: "unknown device"}
}

// Delete removes a device, rejecting the call with *PreconditionError when
// the stored status is not disabled.
func (f *Fake) Delete(ctx context.Context, guid string) (directory.Ack, error) {
	if f.BeforeDelete != nil {
		hook := f.BeforeDelete
		f.BeforeDelete = nil
		hook(f, guid)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete:" + guid)

	if err := f.DeleteErr[guid]; err != nil {
		return directory.Ack{}, err
	}
	for i := range f.devices {
		if f.devices[i].GUID == guid {
			if f.devices[i].Status != models.StatusDisabled {
				return directory.Ack{}, &directory.PreconditionError{GUID: guid, Detail: "device must be disabled before deletion"}
			}
			f.devices = append(f.devices[:i], f.devices[i+1:]...)
			return directory.Ack{}, nil
		}
	}
	return directory.Ack{}, &directory.PermanentError{Op: "delete", Status: 404, Detail: "unknown device"}
}

// Assign records the attribute assignment without interpreting it.
func (f *Fake) Assign(ctx context.Context, guid, attrType, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("assign:" + guid + ":" + attrType + "=" + value)
	return nil
}
