// Package verify implements the completion-verification and remediation
// state machine for shade groups: after a group command it samples the
// authoritative feedback channel in phases, sends targeted corrective
// commands to members that are off target, retries a bounded number of
// times, and aborts the retry loop whenever the resolved target changes
// under it.
package verify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kalsky/shadesd/internal/ledger"
	"github.com/kalsky/shadesd/internal/notify"
	"github.com/kalsky/shadesd/internal/shade"
)

// State identifies where a group's verification cycle currently is.
type State int

const (
	StateIdle State = iota
	StateAwaitingTravel
	StatePhaseOneCheck
	StatePhaseTwoRefreshCheck
	StateRetryLoop
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingTravel:
		return "awaiting_travel"
	case StatePhaseOneCheck:
		return "phase_one_check"
	case StatePhaseTwoRefreshCheck:
		return "phase_two_refresh_check"
	case StateRetryLoop:
		return "retry_loop"
	default:
		return "unknown"
	}
}

// Verdict is the terminal outcome of a cycle.
type Verdict string

const (
	VerdictSuccess        Verdict = "success"
	VerdictPartialFailure Verdict = "partial_failure"
	VerdictSuperseded     Verdict = "superseded"
)

// Settings carries the tunables of one group's verification runs. They are
// re-read at every step so configuration edits mid-cycle take effect on the
// next step rather than being an error.
type Settings struct {
	TravelTime         time.Duration
	SettleDelay        time.Duration
	RefreshSettleDelay time.Duration
	MaxRetries         int
	FallbackEnabled    bool
}

// Recorder persists cycle history. Satisfied by *ledger.Ledger; nil disables
// recording (tests).
type Recorder interface {
	Append(cycleID, groupName string, eventType ledger.EventType, payload map[string]any) error
	SaveGroupState(s ledger.GroupState) error
}

// Result summarizes a finished cycle for downstream consumers.
type Result struct {
	CycleID       string
	Group         string
	Verdict       Verdict
	Target        Target
	Aggregate     Aggregate
	FailedMembers []int
}

// Config wires one Engine.
type Config struct {
	Group      string
	Controller shade.Controller
	Members    func() []Member
	Settings   func() Settings
	Notifier   notify.Notifier
	Recorder   Recorder
	Scheduler  Scheduler
	OnDone     func(Result)
}

// Engine runs the verification state machine for a single group.
//
// All work happens as discrete scheduled steps on one logical timeline: at
// most one step is ever pending, every step runs under the engine mutex, and
// a new group command cancels the pending step before arming a new cycle, so
// two overlapping verdicts can never race. Groups get independent engines
// and share nothing.
type Engine struct {
	group      string
	ctrl       shade.Controller
	members    func() []Member
	settings   func() Settings
	dispatcher *Dispatcher
	notifier   notify.Notifier
	recorder   Recorder
	scheduler  Scheduler
	onDone     func(Result)

	mu      sync.Mutex
	state   State
	gen     uint64
	lastSeq uint64
	cycle   *cycle
	pending Cancel
}

// cycle is the mutable context of one verification run.
type cycle struct {
	id       string
	gen      uint64
	target   Target
	retry    int
	failed   []int                 // indexes of members still failing
	readings map[int]MemberReading // latest observation per member index
}

// NewEngine creates an engine for one group.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		group:     cfg.Group,
		ctrl:      cfg.Controller,
		members:   cfg.Members,
		settings:  cfg.Settings,
		notifier:  cfg.Notifier,
		recorder:  cfg.Recorder,
		scheduler: cfg.Scheduler,
		onDone:    cfg.OnDone,
		state:     StateIdle,
	}
	e.dispatcher = &Dispatcher{Group: cfg.Group, Notifier: cfg.Notifier}
	return e
}

// State returns the engine's current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// HandleCommand arms a verification cycle from an observed group-controller
// status transition. Any cycle still in flight for this group is superseded:
// its pending step is canceled and the new command owns the outcome.
//
// seq is the event bus publish sequence. Bus workers may deliver two
// commands out of publish order; a command older than the latest one seen
// is dropped here so the newer intent always owns the cycle.
func (e *Engine) HandleCommand(seq uint64, rawStatus string, position *int) {
	reading := shade.Reading{Status: shade.ParseStatus(rawStatus), Position: position}

	e.mu.Lock()
	defer e.mu.Unlock()

	if seq <= e.lastSeq {
		log.Debug().
			Str("group", e.group).
			Uint64("seq", seq).
			Uint64("last_seq", e.lastSeq).
			Str("status", rawStatus).
			Msg("Stale group command delivered out of order, dropping")
		return
	}
	e.lastSeq = seq

	if e.pending != nil {
		e.pending()
		e.pending = nil
	}

	if e.cycle != nil {
		log.Info().
			Str("group", e.group).
			Str("cycle", e.cycle.id).
			Str("state", e.state.String()).
			Msg("Cycle superseded by new group command")
		e.record(e.cycle.id, ledger.EventCycleSuperseded, map[string]any{
			"reason": "new_command",
			"state":  e.state.String(),
		})
	}

	e.gen++
	c := &cycle{
		id:       uuid.NewString(),
		gen:      e.gen,
		target:   ResolveTarget(reading),
		readings: make(map[int]MemberReading),
	}
	e.cycle = c
	e.state = StateAwaitingTravel

	st := e.settings()
	log.Info().
		Str("group", e.group).
		Str("cycle", c.id).
		Str("status", rawStatus).
		Str("target", c.target.String()).
		Dur("travel_time", st.TravelTime).
		Msg("Group command observed, verification armed")

	e.record(c.id, ledger.EventCycleStarted, map[string]any{
		"status": rawStatus,
		"target": c.target.String(),
	})

	e.schedule(st.TravelTime, e.stepPhaseOneRefresh)
}

// Stop cancels any pending step. The engine re-arms on the next command.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pending != nil {
		e.pending()
		e.pending = nil
	}
	e.cycle = nil
	e.state = StateIdle
}

// schedule arms the single pending step for the live cycle. The generation
// check makes a fired-but-not-yet-run timer from a superseded cycle a no-op.
func (e *Engine) schedule(d time.Duration, step func(ctx context.Context)) {
	gen := e.cycle.gen
	e.pending = e.scheduler.Schedule(d, func() {
		e.mu.Lock()
		defer e.mu.Unlock()

		if e.cycle == nil || e.cycle.gen != gen {
			return
		}
		e.pending = nil
		step(context.Background())
	})
}

// stepPhaseOneRefresh runs after travel time: refresh every member, then
// wait out the settle delay before the first sample.
func (e *Engine) stepPhaseOneRefresh(ctx context.Context) {
	e.state = StatePhaseOneCheck

	members := e.members()
	log.Debug().
		Str("group", e.group).
		Str("cycle", e.cycle.id).
		Int("members", len(members)).
		Msg("Travel time elapsed, refreshing feedback channel")

	Refresh(ctx, e.group, members)
	e.schedule(e.settings().SettleDelay, e.stepPhaseOneCheck)
}

// stepPhaseOneCheck samples every member and decides who failed.
func (e *Engine) stepPhaseOneCheck(ctx context.Context) {
	c := e.cycle
	members := e.members()

	// Re-resolve against the live controller; the provisional target from
	// the triggering event stands when the controller cannot be read.
	if live, ok := e.resolveLive(ctx); ok {
		c.target = live
	}

	readings := Sample(ctx, e.group, members)
	for _, r := range readings {
		c.readings[r.Index] = r
	}

	if !c.target.Determinate() && c.target.Direction == DirectionNone {
		log.Warn().
			Str("group", e.group).
			Str("cycle", c.id).
			Msg("Target indeterminate and no commanded direction, nothing to verify")
		e.finish(ctx, members, false)
		return
	}

	c.failed = failingIndexes(readings, c.target)

	st := e.settings()
	log.Info().
		Str("group", e.group).
		Str("cycle", c.id).
		Str("target", c.target.String()).
		Ints("failed", c.failed).
		Msg("Phase one check complete")

	if len(c.failed) == 0 || !st.FallbackEnabled {
		if len(c.failed) > 0 {
			log.Info().Str("group", e.group).Msg("Fallback disabled, skipping remediation")
		}
		e.finish(ctx, members, false)
		return
	}

	// Many phase-one failures are stale reads rather than real positional
	// errors. Refresh just the failed members and re-check before sending
	// any remedial command.
	e.state = StatePhaseTwoRefreshCheck
	Refresh(ctx, e.group, selectMembers(members, c.failed))
	e.schedule(st.RefreshSettleDelay, e.stepPhaseTwoCheck)
}

// stepPhaseTwoCheck re-samples only the members that failed phase one. Those
// still off target receive the first remediation wave.
func (e *Engine) stepPhaseTwoCheck(ctx context.Context) {
	c := e.cycle
	members := e.members()
	failedMembers := selectMembers(members, c.failed)

	readings := Sample(ctx, e.group, failedMembers)
	for _, r := range readings {
		c.readings[r.Index] = r
	}
	c.failed = failingIndexes(readings, c.target)

	log.Info().
		Str("group", e.group).
		Str("cycle", c.id).
		Ints("failed", c.failed).
		Msg("Phase two re-check complete")

	if len(c.failed) == 0 {
		e.finish(ctx, members, false)
		return
	}

	still := selectMembers(members, c.failed)
	dispatched := e.dispatcher.Remediate(ctx, still, c.target)
	e.record(c.id, ledger.EventRemediationWave, map[string]any{
		"round":      0,
		"failed":     c.failed,
		"dispatched": dispatched,
	})

	c.retry = 0
	e.state = StateRetryLoop
	e.schedule(e.settings().TravelTime, e.stepRetryCheck)
}

// stepRetryCheck runs after a remediation wave's travel time. The target is
// re-resolved first: a change means the user issued a new command and the
// retry loop must not fight it.
func (e *Engine) stepRetryCheck(ctx context.Context) {
	c := e.cycle

	if live, ok := e.resolveLive(ctx); ok && !live.Equal(c.target) {
		log.Info().
			Str("group", e.group).
			Str("cycle", c.id).
			Str("old_target", c.target.String()).
			Str("new_target", live.String()).
			Msg("Target changed mid-retry, abandoning cycle")
		e.record(c.id, ledger.EventCycleSuperseded, map[string]any{
			"reason":     "intent_changed",
			"old_target": c.target.String(),
			"new_target": live.String(),
		})
		e.cycle = nil
		e.state = StateIdle
		return
	}

	members := e.members()
	Refresh(ctx, e.group, selectMembers(members, c.failed))
	e.schedule(e.settings().RefreshSettleDelay, e.stepRetryEvaluate)
}

// stepRetryEvaluate re-checks the failing members and either finishes,
// gives up, or sends the next remediation wave.
func (e *Engine) stepRetryEvaluate(ctx context.Context) {
	c := e.cycle
	members := e.members()
	failedMembers := selectMembers(members, c.failed)

	readings := Sample(ctx, e.group, failedMembers)
	for _, r := range readings {
		c.readings[r.Index] = r
	}
	c.failed = failingIndexes(readings, c.target)

	log.Info().
		Str("group", e.group).
		Str("cycle", c.id).
		Int("round", c.retry).
		Ints("failed", c.failed).
		Msg("Retry round re-check complete")

	if len(c.failed) == 0 {
		e.finish(ctx, members, false)
		return
	}

	st := e.settings()
	if c.retry+1 > st.MaxRetries {
		log.Warn().
			Str("group", e.group).
			Str("cycle", c.id).
			Int("retries", st.MaxRetries).
			Ints("failed", c.failed).
			Msg("Retry budget exhausted, giving up")
		e.finish(ctx, members, true)
		return
	}

	c.retry++
	still := selectMembers(members, c.failed)
	dispatched := e.dispatcher.Remediate(ctx, still, c.target)
	e.record(c.id, ledger.EventRemediationWave, map[string]any{
		"round":      c.retry,
		"failed":     c.failed,
		"dispatched": dispatched,
	})

	e.schedule(st.TravelTime, e.stepRetryCheck)
}

// finish reaches a terminal verdict: aggregate, resync the broadcast
// mirrors, persist, and notify iff any member is still off target.
func (e *Engine) finish(ctx context.Context, members []Member, gaveUp bool) {
	c := e.cycle

	agg := AggregateReadings(orderedReadings(members, c.readings))
	Resync(ctx, e.group, members)

	verdict := VerdictSuccess
	if len(c.failed) > 0 {
		verdict = VerdictPartialFailure
	}

	counted := 0
	for _, r := range c.readings {
		if r.Ok {
			counted++
		}
	}

	log.Info().
		Str("group", e.group).
		Str("cycle", c.id).
		Str("verdict", string(verdict)).
		Str("status", string(agg.Status)).
		Float64("average_position", agg.AveragePosition).
		Ints("failed", c.failed).
		Msg("Verification cycle finished")

	if len(c.failed) > 0 && e.notifier != nil {
		var msg string
		if gaveUp {
			msg = fmt.Sprintf("%s: gave up after %d remediation retries; %d of %d shade(s) at target %s",
				e.group, e.settings().MaxRetries, counted-len(c.failed), counted, c.target)
		} else {
			msg = fmt.Sprintf("%s: verification finished incomplete; %d of %d shade(s) at target %s",
				e.group, counted-len(c.failed), counted, c.target)
		}
		if err := e.notifier.Notify(ctx, msg); err != nil {
			log.Error().Err(err).Str("group", e.group).Msg("Failed to deliver verdict notification")
		}
	}

	event := ledger.EventCycleCompleted
	if gaveUp {
		event = ledger.EventCycleGaveUp
	}
	e.record(c.id, event, map[string]any{
		"verdict":          string(verdict),
		"status":           string(agg.Status),
		"average_position": agg.AveragePosition,
		"failed":           c.failed,
		"target":           c.target.String(),
	})
	if e.recorder != nil {
		if err := e.recorder.SaveGroupState(ledger.GroupState{
			GroupName:       e.group,
			Status:          string(agg.Status),
			AveragePosition: agg.AveragePosition,
			Verdict:         string(verdict),
		}); err != nil {
			log.Error().Err(err).Str("group", e.group).Msg("Failed to persist group state")
		}
	}

	if e.onDone != nil {
		e.onDone(Result{
			CycleID:       c.id,
			Group:         e.group,
			Verdict:       verdict,
			Target:        c.target,
			Aggregate:     agg,
			FailedMembers: append([]int(nil), c.failed...),
		})
	}

	e.cycle = nil
	e.state = StateIdle
}

// resolveLive re-resolves the target against the live group controller.
func (e *Engine) resolveLive(ctx context.Context) (Target, bool) {
	r, err := e.ctrl.Read(ctx)
	if err != nil {
		log.Warn().Err(err).Str("group", e.group).Msg("Group controller read failed")
		return Target{}, false
	}
	return ResolveTarget(r), true
}

func (e *Engine) record(cycleID string, event ledger.EventType, payload map[string]any) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.Append(cycleID, e.group, event, payload); err != nil {
		log.Error().Err(err).Str("group", e.group).Str("event", string(event)).Msg("Failed to append ledger entry")
	}
}

// failingIndexes returns the indexes of readable members not at target,
// preserving member order. Unreadable members are skipped from counts.
func failingIndexes(readings []MemberReading, target Target) []int {
	var failed []int
	for _, r := range readings {
		if !r.Ok {
			continue
		}
		if !AtTarget(r.Reading, target) {
			failed = append(failed, r.Index)
		}
	}
	return failed
}

// selectMembers filters a member snapshot down to the given indexes.
func selectMembers(members []Member, indexes []int) []Member {
	want := make(map[int]bool, len(indexes))
	for _, i := range indexes {
		want[i] = true
	}

	var out []Member
	for _, m := range members {
		if want[m.Index] {
			out = append(out, m)
		}
	}
	return out
}

// orderedReadings lays the reading snapshot out in member order for
// aggregation. Members never observed appear as unreadable.
func orderedReadings(members []Member, snap map[int]MemberReading) []MemberReading {
	out := make([]MemberReading, 0, len(members))
	for _, m := range members {
		if r, ok := snap[m.Index]; ok {
			out = append(out, r)
			continue
		}
		out = append(out, MemberReading{Index: m.Index})
	}
	return out
}
