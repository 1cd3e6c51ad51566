package calsync

import "time"

// ChangeKind names what part of the state changed.
type ChangeKind string

const (
	ChangeEvents  ChangeKind = "events"
	ChangeConfig  ChangeKind = "config"
	ChangeSession ChangeKind = "session"
)

type Change struct {
	Kind ChangeKind `json:"kind"`
	At   time.Time  `json:"at"`
}

// Subscribe registers fn for change notifications and returns a function
// that removes it. fn runs on the goroutine that made the change and must
// not block.
func (c *Controller) Subscribe(fn func(Change)) func() {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Controller) notify(kinds ...ChangeKind) {
	c.subMu.Lock()
	fns := make([]func(Change), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()

	at := c.now()
	for _, k := range kinds {
		for _, fn := range fns {
			fn(Change{Kind: k, At: at})
		}
	}
}
