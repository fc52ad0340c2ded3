package verify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kalsky/shadesd/internal/shade"
)

// fakeDevice implements shade.FeedbackHandle and shade.BroadcastHandle with
// scripted behavior for tests.
type fakeDevice struct {
	mu sync.Mutex

	id      string
	reading shade.Reading
	readErr error

	// onRefresh, when set, mutates the device on each refresh. Used to
	// model stale reads that a refresh resolves.
	onRefresh func(d *fakeDevice)
	// onCommand, when set, mutates the device when commanded. Used to
	// model shades that obey (or ignore) remediation.
	onCommand func(d *fakeDevice, action string, position int)

	refreshErr error
	commandErr error

	refreshes int
	commands  []string
}

func newFakeDevice(id string, status shade.Status, position *int) *fakeDevice {
	return &fakeDevice{id: id, reading: shade.Reading{Status: status, Position: position}}
}

func (d *fakeDevice) ID() string { return d.id }

func (d *fakeDevice) Read(context.Context) (shade.Reading, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readErr != nil {
		return shade.Reading{}, d.readErr
	}
	return d.reading, nil
}

func (d *fakeDevice) set(status shade.Status, position *int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reading = shade.Reading{Status: status, Position: position}
}

func (d *fakeDevice) Refresh(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refreshes++
	if d.refreshErr != nil {
		return d.refreshErr
	}
	if d.onRefresh != nil {
		d.onRefresh(d)
	}
	return nil
}

func (d *fakeDevice) Open(context.Context) error {
	return d.execute("open", 0)
}

func (d *fakeDevice) Close(context.Context) error {
	return d.execute("close", 0)
}

func (d *fakeDevice) SetPosition(_ context.Context, position int) error {
	return d.execute(fmt.Sprintf("set_position:%d", position), position)
}

func (d *fakeDevice) execute(action string, position int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, action)
	if d.commandErr != nil {
		return d.commandErr
	}
	if d.onCommand != nil {
		d.onCommand(d, action, position)
	}
	return nil
}

func (d *fakeDevice) commandCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.commands)
}

func (d *fakeDevice) refreshCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.refreshes
}

// fakeNotifier records delivered messages.
type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) Notify(_ context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

func (n *fakeNotifier) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.messages) == 0 {
		return ""
	}
	return n.messages[len(n.messages)-1]
}

// manualScheduler queues scheduled steps and runs them when the test pumps.
// It keeps the engine's one-pending-step discipline observable: Pump runs
// exactly one step, the one the engine armed last.
type manualScheduler struct {
	mu      sync.Mutex
	pending []scheduledStep
}

type scheduledStep struct {
	delay    time.Duration
	fn       func()
	canceled bool
}

func (s *manualScheduler) Schedule(d time.Duration, fn func()) Cancel {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := len(s.pending)
	s.pending = append(s.pending, scheduledStep{delay: d, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.pending[idx].canceled = true
	}
}

// Pump runs the next step that has not been canceled. Returns false when
// nothing is scheduled.
func (s *manualScheduler) Pump() bool {
	s.mu.Lock()
	var fn func()
	for i := range s.pending {
		if s.pending[i].fn != nil && !s.pending[i].canceled {
			fn = s.pending[i].fn
			s.pending[i].fn = nil
			break
		}
	}
	s.mu.Unlock()

	if fn == nil {
		return false
	}
	fn()
	return true
}

// Drain pumps until no steps remain, with a safety bound.
func (s *manualScheduler) Drain() int {
	steps := 0
	for steps < 100 && s.Pump() {
		steps++
	}
	return steps
}
