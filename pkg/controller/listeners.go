package controller

import "github.com/flowmill/flowmill/pkg/flow"

// AddEventListener registers an in-process callback invoked for every
// event persisted by this controller's runs. The returned function
// removes the listener.
func (c *Controller) AddEventListener(fn EventListener) func() {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	id := c.nextListenerID
	c.nextListenerID++
	c.eventListeners[id] = fn
	return func() {
		c.listenersMu.Lock()
		defer c.listenersMu.Unlock()
		delete(c.eventListeners, id)
	}
}

// AddLifecycleListener registers an in-process callback invoked on every
// paused/completed/failed/stopped transition. The returned function
// removes the listener.
func (c *Controller) AddLifecycleListener(fn LifecycleListener) func() {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	id := c.nextListenerID
	c.nextListenerID++
	c.lifecycleListeners[id] = fn
	return func() {
		c.listenersMu.Lock()
		defer c.listenersMu.Unlock()
		delete(c.lifecycleListeners, id)
	}
}

func (c *Controller) dispatchEvent(e *flow.Event) {
	if c.metrics != nil {
		c.metrics.RecordEventWritten(string(e.Type))
	}
	for _, fn := range c.snapshotEventListeners() {
		c.safeInvoke(func() { fn(e) })
	}
}

func (c *Controller) dispatchLifecycle(rec *flow.RunRecord, tr flow.LifecycleTransition) {
	for _, fn := range c.snapshotLifecycleListeners() {
		c.safeInvoke(func() { fn(rec, tr) })
	}
}

// Listeners are invoked outside the registry lock so a listener may
// add or remove listeners without deadlocking.
func (c *Controller) snapshotEventListeners() []EventListener {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	out := make([]EventListener, 0, len(c.eventListeners))
	for _, fn := range c.eventListeners {
		out = append(out, fn)
	}
	return out
}

func (c *Controller) snapshotLifecycleListeners() []LifecycleListener {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	out := make([]LifecycleListener, 0, len(c.lifecycleListeners))
	for _, fn := range c.lifecycleListeners {
		out = append(out, fn)
	}
	return out
}

// safeInvoke runs a listener and swallows panics. A throwing listener
// must not prevent other listeners from running or corrupt run state.
func (c *Controller) safeInvoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.WithField("panic", r).Error("listener panicked")
		}
	}()
	fn()
}
