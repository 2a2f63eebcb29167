package resource

import "sigs.k8s.io/controller-runtime/pkg/client"

// Action describes what kind of change a notification reports.
type Action string

const (
	// Added indicates the resource was observed for the first time.
	Added Action = "Added"

	// Updated indicates an existing resource changed, or that something related
	// to the resource changed (secondary resources, timers).
	Updated Action = "Updated"

	// Deleted indicates the resource is gone from the remote store.
	Deleted Action = "Deleted"
)

// Event is a single change notification for a resource.
type Event struct {
	ID     ID
	Action Action

	// Object is the resource content delivered with the notification. It is nil
	// for triggers that do not originate from the primary watch.
	Object client.Object
}

// NewEvent builds an Event for obj.
func NewEvent(action Action, obj client.Object) Event {
	return Event{ID: FromObject(obj), Action: action, Object: obj}
}

// Trigger builds an Event that carries no resource content.
func Trigger(id ID) Event {
	return Event{ID: id, Action: Updated}
}

// Version returns the resourceVersion carried by the event, or "" if there is none.
func (e Event) Version() string {
	if e.Object == nil {
		return ""
	}
	return e.Object.GetResourceVersion()
}
