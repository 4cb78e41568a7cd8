package controller

import "time"

// statusMessages rotate on a fixed interval while an enhancement is pending.
var statusMessages = []string{
	"Warming up the enhancement model...",
	"Analyzing your image...",
	"Applying your instructions...",
	"Refining colors and detail...",
	"Adding finishing touches...",
	"Almost there...",
}

const statusRotateInterval = 2 * time.Second

// beginPending moves the slot to Pending and starts the status rotation.
// Caller must hold c.mu.
func (c *Controller) beginPending() {
	c.state = StatePending
	c.statusIdx = 0
	c.statusMessage = statusMessages[0]

	stop := make(chan struct{})
	c.rotateStop = stop
	go c.rotateStatus(stop)
}

// endPending stops the rotation and returns the slot to Ready semantics.
// Safe to call more than once. Caller must hold c.mu.
func (c *Controller) endPending() {
	if c.rotateStop != nil {
		close(c.rotateStop)
		c.rotateStop = nil
	}
	c.statusMessage = ""
	c.state = StateReady
}

func (c *Controller) rotateStatus(stop <-chan struct{}) {
	ticker := time.NewTicker(statusRotateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.state == StatePending {
				c.statusIdx = (c.statusIdx + 1) % len(statusMessages)
				c.statusMessage = statusMessages[c.statusIdx]
			}
			c.mu.Unlock()
		}
	}
}
