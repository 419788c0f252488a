// Package stop implements a pattern for the cooperative, concurrent shutdown
// of a group of long-running components.
package stop

import "sync"

// Channel is used by a component to report the outcome of a Stop back to its
// caller. A component sends exactly one slice of errors (nil or empty for a
// clean stop) and closes the channel by calling Done.
type Channel chan []error

// NewChannel allocates a Channel with enough buffer that Done never blocks
// on a caller that hasn't started receiving yet.
func NewChannel() Channel {
	return make(Channel, 1)
}

// AlreadyStopped is a Result that's already closed and reports no errors,
// for a Stop implementation to return when called on a component that has
// already been stopped.
var AlreadyStopped = func() Result {
	c := NewChannel()
	c.Done()
	return c.Result()
}()

// Done reports the non-nil errors in errs, if any, and closes the channel.
// It must be called exactly once.
func (c Channel) Done(errs ...error) {
	var reported []error
	for _, err := range errs {
		if err != nil {
			reported = append(reported, err)
		}
	}
	c <- reported
	close(c)
}

// Result is the read-only view of a Channel handed back to callers of Stop.
// Stop implementations must return immediately and report the actual
// outcome, asynchronously, over this channel.
type Result <-chan []error

// Result returns the read-only Result view of c.
func (c Channel) Result() Result {
	return Result((chan []error)(c))
}

// Stopper is implemented by anything that can be cleanly, asynchronously
// stopped.
type Stopper interface {
	// Stop begins a shutdown and returns immediately. The actual shutdown
	// happens in a separate goroutine, which reports its outcome on the
	// returned Result.
	Stop() Result
}

// Func adapts a plain function to the Stopper interface.
type Func func() Result

// Stop implements Stopper for Func.
func (f Func) Stop() Result { return f() }

// Group stops a collection of Stoppers concurrently and joins their errors
// into a single Result.
type Group struct {
	stoppables []Stopper
	sync.Mutex
}

// NewGroup allocates a new Group.
func NewGroup() *Group {
	return &Group{}
}

// Add appends a Stopper to the Group.
func (g *Group) Add(s Stopper) {
	g.Lock()
	defer g.Unlock()

	g.stoppables = append(g.stoppables, s)
}

// AddFunc appends a Func to the Group.
func (g *Group) AddFunc(f Func) {
	g.Add(f)
}

// Stop stops every member of the Group concurrently and returns a Result
// that reports the union of all errors once every member has finished.
func (g *Group) Stop() Result {
	g.Lock()
	stoppables := make([]Stopper, len(g.stoppables))
	copy(stoppables, g.stoppables)
	g.Unlock()

	c := NewChannel()
	go func() {
		results := make([]Result, 0, len(stoppables))
		for _, s := range stoppables {
			results = append(results, s.Stop())
		}

		var all []error
		for _, r := range results {
			all = append(all, <-r...)
		}
		c.Done(all...)
	}()

	return c.Result()
}
