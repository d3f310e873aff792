package extensions

import (
	"fmt"
	"sync"

	"github.com/namisoft/coinflip/pkg/log"
)

// Dispatcher notifies registered extensions in registration order.
// Extensions are untrusted: "after" hooks run behind a recover and any
// failure is logged and swallowed so they can never block a settled
// transition. "Before" hooks abort the transition only at hook points
// configured as abortable.
type Dispatcher struct {
	lock       sync.RWMutex
	extensions []Extension
	abortable  map[HookPoint]bool
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		abortable: map[HookPoint]bool{
			BeforeBet:      true,
			BeforeFinalize: true,
			BeforeCancel:   true,
		},
	}
}

// Register appends an extension. Registration order is notification order.
func (d *Dispatcher) Register(ext Extension) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.extensions = append(d.extensions, ext)
}

// SetAbortable configures whether a failing hook at the given point
// aborts the transition.
func (d *Dispatcher) SetAbortable(point HookPoint, abortable bool) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.abortable[point] = abortable
}

// Extensions returns the registered extensions in order.
func (d *Dispatcher) Extensions() []Extension {
	d.lock.RLock()
	defer d.lock.RUnlock()
	out := make([]Extension, len(d.extensions))
	copy(out, d.extensions)
	return out
}

// NotifyBefore runs a "before" hook point across all extensions. A hook
// failure aborts with an error if the point is abortable, otherwise it
// is logged and the remaining extensions still run.
func (d *Dispatcher) NotifyBefore(point HookPoint, ctx Context) error {
	d.lock.RLock()
	exts := d.extensions
	abortable := d.abortable[point]
	d.lock.RUnlock()

	for _, ext := range exts {
		err := d.callBefore(point, ext, ctx)
		if err == nil {
			continue
		}
		if abortable {
			return fmt.Errorf("extension %s vetoed %s: %w", ext.Name(), point, err)
		}
		log.Warn("Extension %s failed %s hook: %v", ext.Name(), point, err)
	}
	return nil
}

// NotifyAfter runs an "after" hook point across all extensions,
// containing any failure or panic.
func (d *Dispatcher) NotifyAfter(point HookPoint, ctx Context) {
	d.lock.RLock()
	exts := d.extensions
	d.lock.RUnlock()

	for _, ext := range exts {
		d.callAfter(point, ext, ctx)
	}
}

func (d *Dispatcher) callBefore(point HookPoint, ext Extension, ctx Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panicked: %v", r)
		}
	}()
	switch point {
	case BeforeBet:
		return ext.OnBeforeBet(ctx)
	case BeforeFinalize:
		return ext.OnBeforeFinalize(ctx)
	case BeforeCancel:
		return ext.OnBeforeCancel(ctx)
	default:
		return fmt.Errorf("not a before hook point: %s", point)
	}
}

func (d *Dispatcher) callAfter(point HookPoint, ext Extension, ctx Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("Extension %s panicked in %s hook: %v", ext.Name(), point, r)
		}
	}()
	switch point {
	case AfterBet:
		ext.OnAfterBet(ctx)
	case AfterFinalize:
		ext.OnAfterFinalize(ctx)
	case AfterCancel:
		ext.OnAfterCancel(ctx)
	default:
		log.Error("Not an after hook point: %s", point)
	}
}
