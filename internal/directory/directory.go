package directory

import (
	"context"

	"github.com/Smok3y97/Rustdesk-Server-Pro-Device-Cleaner/internal/models"
)

// Directory is the abstract device-directory capability every backend must
// implement. A single Directory instance represents one server connection.
// All knowledge of transport, pagination mechanics, and status codes lives
// behind this interface; callers only see devices and typed errors.
type Directory interface {
	// ListDevices fetches a page of devices matching the filter. Pass an
	// empty cursor for the first page. Returns devices in server order, the
	// next cursor (empty if exhausted), and error. No deduplication is
	// performed; the caller may assume the server enumerates uniquely and
	// must defend where it does not.
	ListDevices(ctx context.Context, filter models.SearchFilter, cursor string) ([]models.Device, string, error)

	// GetDevice fetches a single device by its human-facing ID, returning
	// nil if the server no longer knows it. Used to re-verify remote status
	// before a contested delete.
	GetDevice(ctx context.Context, id string) (*models.Device, error)

	// Disable transitions a device to the disabled state. Calling it on an
	// already-disabled device is not an error: the Ack reports it.
	Disable(ctx context.Context, guid string) (Ack, error)

	// Enable transitions a device back to the active state.
	Enable(ctx context.Context, guid string) (Ack, error)

	// Delete removes a device permanently. The server only accepts the call
	// for disabled devices; a state mismatch surfaces as *PreconditionError
	// and is never silently retried as a disable.
	Delete(ctx context.Context, guid string) (Ack, error)

	// Assign sets an attribute (group, user, note, ...) on a device.
	Assign(ctx context.Context, guid, attrType, value string) error
}

// Ack reports how the remote server applied a mutating call.
type Ack struct {
	// Already is true when the device was already in the requested state
	// and the server treated the call as a no-op.
	Already bool
}
