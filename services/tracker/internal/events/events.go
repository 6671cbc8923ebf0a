// Package events fans lifecycle events out to observers.
//
// Delivery is synchronous, in subscription order, on the publisher's
// goroutine. There is no queue and no timeout: an observer that blocks
// stalls the control loop.
package events

import "tracker-go/types"

// Observer consumes lifecycle events. The event, including any downlink
// bytes, is only valid for the duration of the call.
type Observer interface {
	OnEvent(ev types.Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev types.Event)

func (f ObserverFunc) OnEvent(ev types.Event) { f(ev) }

// Dispatcher is an append-only observer registry. Not safe for concurrent
// use; it belongs to the control loop.
type Dispatcher struct {
	obs []Observer
}

func NewDispatcher() *Dispatcher { return &Dispatcher{} }

// Subscribe appends o. Registering the same observer twice delivers twice.
func (d *Dispatcher) Subscribe(o Observer) {
	if o == nil {
		return
	}
	d.obs = append(d.obs, o)
}

// Publish delivers ev to every observer in registration order. Observers
// subscribed during delivery see the next event, not this one.
func (d *Dispatcher) Publish(ev types.Event) {
	obs := d.obs
	for _, o := range obs {
		o.OnEvent(ev)
	}
}

func (d *Dispatcher) Len() int { return len(d.obs) }
