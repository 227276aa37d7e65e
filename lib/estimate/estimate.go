// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package estimate predicts how long a waiting student will wait.
//
// Per service it keeps the last Window realized service durations
// (completion minus call). The average service time is an exponential
// moving average over that window, blended toward the running mean of
// every duration seen with weight 1 − exp(−n/Decay), so a handful of
// samples cannot swing the estimate far from the long-run figure.
// Below MinSamples the service's configured base time is used instead
// and the estimate is tagged low confidence.
//
// The average is scaled by an hour-of-day load multiplier and fed to
// a simulation of the service's parallel windows: busy windows free up
// once their current student has had an average service time, and
// each ticket ahead takes the earliest free window for one average.
// A student's wait is the earliest free time after everyone ahead of
// them has been placed.
//
// History is seeded lazily from the store the first time a service is
// estimated, then kept current by [Estimator.Record]. Completions
// recorded while a store read is in flight are buffered and merged
// into its result by ticket ID, so none is lost or counted twice.
// [Estimator.Reseed] reloads from the store, which picks up
// completions made by other processes sharing it.
package estimate

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/bureau-foundation/frontdesk/lib/clock"
	queueschema "github.com/bureau-foundation/frontdesk/lib/schema/queue"
)

// Defaults for Config fields left zero.
const (
	DefaultWindow     = 20
	DefaultMinSamples = 3
	DefaultDecay      = 5.0
	DefaultAlpha      = 0.3

	// highConfidenceSamples is the history size at which an estimate
	// can be tagged high confidence.
	highConfidenceSamples = 10

	// longQueueRank is the number of tickets ahead beyond which an
	// estimate is never tagged high confidence.
	longQueueRank = 10
)

// HistorySource supplies completed tickets for seeding. store.Store
// satisfies it.
type HistorySource interface {
	RecentCompleted(ctx context.Context, serviceID string, limit int) ([]queueschema.Ticket, error)
}

// Config tunes the estimator.
type Config struct {
	Window     int
	MinSamples int
	Decay      float64

	// Alpha is the EMA smoothing factor in (0, 1].
	Alpha float64

	// LoadProfile maps hour of day (in the clock's location) to a
	// multiplier on the average service time.
	LoadProfile map[int]float64

	Clock clock.Clock
}

// Estimate is a predicted wait.
type Estimate struct {
	Minutes    float64
	Confidence queueschema.Confidence
}

// Average is a service's current average service time.
type Average struct {
	// Minutes includes the load multiplier.
	Minutes float64

	// Samples is the number of durations in the window.
	Samples int

	// Base is true when the configured base time was used.
	Base bool
}

// Estimator holds per-service history. Safe for concurrent use.
type Estimator struct {
	source HistorySource
	config Config
	clock  clock.Clock

	mu        sync.Mutex
	histories map[string]*history
}

// sample is one realized service duration.
type sample struct {
	ticketID    string
	completedAt time.Time
	minutes     float64
}

type history struct {
	seeded bool

	// loading counts store reads in flight. While it is non-zero,
	// recorded samples are also kept in pending for the merge.
	loading int
	pending []sample

	// samples is the window, oldest completion first.
	samples []sample

	allTimeSum   float64
	allTimeCount int
}

// New returns an estimator seeded from source on demand.
func New(source HistorySource, config Config) *Estimator {
	if config.Window <= 0 {
		config.Window = DefaultWindow
	}
	if config.MinSamples <= 0 {
		config.MinSamples = DefaultMinSamples
	}
	if config.Decay <= 0 {
		config.Decay = DefaultDecay
	}
	if config.Alpha <= 0 || config.Alpha > 1 {
		config.Alpha = DefaultAlpha
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	return &Estimator{
		source:    source,
		config:    config,
		clock:     config.Clock,
		histories: make(map[string]*history),
	}
}

// Record adds the realized service duration of a completed ticket.
// Tickets of services never estimated are skipped: the first estimate
// reads them from the store.
func (e *Estimator) Record(ticket queueschema.Ticket) {
	duration, ok := ticket.ServiceDuration()
	if !ok || duration < 0 || ticket.CompletedAt == nil {
		return
	}
	recorded := sample{ticketID: ticket.ID, completedAt: *ticket.CompletedAt, minutes: duration.Minutes()}

	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.histories[ticket.ServiceID]
	if !ok {
		return
	}
	if h.loading > 0 {
		h.pending = append(h.pending, recorded)
	}
	if h.seeded {
		h.add(recorded, e.config.Window)
	}
}

// Reseed reloads a service's history from the store, keeping any
// completion recorded while the read was in flight.
func (e *Estimator) Reseed(ctx context.Context, serviceID string) error {
	return e.load(ctx, serviceID)
}

// AverageServiceTime returns the load-adjusted average service time.
func (e *Estimator) AverageServiceTime(ctx context.Context, service queueschema.Service) (Average, error) {
	samples, allTimeMean, err := e.history(ctx, service.ID)
	if err != nil {
		return Average{}, err
	}
	multiplier := e.loadMultiplier()

	if len(samples) < e.config.MinSamples {
		return Average{
			Minutes: service.BaseServiceMinutes * multiplier,
			Samples: len(samples),
			Base:    true,
		}, nil
	}

	ema := samples[0]
	for _, sample := range samples[1:] {
		ema = e.config.Alpha*sample + (1-e.config.Alpha)*ema
	}
	weight := 1 - math.Exp(-float64(len(samples))/e.config.Decay)
	blended := weight*ema + (1-weight)*allTimeMean

	return Average{Minutes: blended * multiplier, Samples: len(samples)}, nil
}

// EstimateWait predicts the wait for a student with rankAhead tickets
// ahead of them, given the tickets currently being served.
func (e *Estimator) EstimateWait(ctx context.Context, service queueschema.Service, serving []queueschema.Ticket, rankAhead int) (Estimate, error) {
	average, err := e.AverageServiceTime(ctx, service)
	if err != nil {
		return Estimate{}, err
	}
	windows := e.windowsFreeAt(service.Capacity(), serving, average.Minutes)
	for range rankAhead {
		windows.place(average.Minutes)
	}
	return Estimate{
		Minutes:    roundMinutes(windows.earliest()),
		Confidence: e.confidence(average, rankAhead),
	}, nil
}

// Annotate fills EstimatedWaitMinutes and Confidence for every waiting
// entry of snapshot and returns the estimate for a student joining
// behind all of them.
func (e *Estimator) Annotate(ctx context.Context, service queueschema.Service, snapshot *queueschema.Snapshot) (Estimate, Average, error) {
	average, err := e.AverageServiceTime(ctx, service)
	if err != nil {
		return Estimate{}, Average{}, err
	}
	windows := e.windowsFreeAt(snapshot.Capacity, snapshot.Serving, average.Minutes)
	for index := range snapshot.Waiting {
		entry := &snapshot.Waiting[index]
		entry.EstimatedWaitMinutes = roundMinutes(windows.earliest())
		entry.Confidence = e.confidence(average, entry.Rank-1)
		windows.place(average.Minutes)
	}
	newcomer := Estimate{
		Minutes:    roundMinutes(windows.earliest()),
		Confidence: e.confidence(average, len(snapshot.Waiting)),
	}
	return newcomer, average, nil
}

func (e *Estimator) confidence(average Average, rankAhead int) queueschema.Confidence {
	switch {
	case average.Base || average.Samples < e.config.MinSamples:
		return queueschema.ConfidenceLow
	case average.Samples < highConfidenceSamples || rankAhead > longQueueRank:
		return queueschema.ConfidenceMedium
	}
	return queueschema.ConfidenceHigh
}

func (e *Estimator) loadMultiplier() float64 {
	if len(e.config.LoadProfile) == 0 {
		return 1
	}
	multiplier, ok := e.config.LoadProfile[e.clock.Now().Hour()]
	if !ok || multiplier <= 0 {
		return 1
	}
	return multiplier
}

// windowsFreeAt returns the minute offsets at which each of capacity
// windows becomes free. A busy window frees after the remainder of an
// average service time, never before now.
func (e *Estimator) windowsFreeAt(capacity int, serving []queueschema.Ticket, averageMinutes float64) windowSchedule {
	now := e.clock.Now()
	schedule := make(windowSchedule, capacity)
	busy := 0
	for _, ticket := range serving {
		if busy == capacity {
			break
		}
		elapsed := 0.0
		if ticket.CalledAt != nil {
			elapsed = now.Sub(*ticket.CalledAt).Minutes()
		}
		schedule[busy] = math.Max(0, averageMinutes-elapsed)
		busy++
	}
	return schedule
}

// history returns the service's sample minutes, oldest first, and the
// all-time mean, seeding from the source on first use.
func (e *Estimator) history(ctx context.Context, serviceID string) ([]float64, float64, error) {
	e.mu.Lock()
	h, ok := e.histories[serviceID]
	if ok && h.seeded {
		samples, mean := h.snapshot()
		e.mu.Unlock()
		return samples, mean, nil
	}
	e.mu.Unlock()

	if err := e.load(ctx, serviceID); err != nil {
		return nil, 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	samples, mean := e.histories[serviceID].snapshot()
	return samples, mean, nil
}

// load reads the service's recent completions and merges them with
// whatever was recorded during the read.
func (e *Estimator) load(ctx context.Context, serviceID string) error {
	e.mu.Lock()
	h, ok := e.histories[serviceID]
	if !ok {
		h = &history{}
		e.histories[serviceID] = h
	}
	h.loading++
	e.mu.Unlock()

	completed, err := e.source.RecentCompleted(ctx, serviceID, e.config.Window)

	e.mu.Lock()
	defer e.mu.Unlock()
	h.loading--
	defer func() {
		if h.loading == 0 {
			h.pending = nil
		}
	}()
	if err != nil {
		return fmt.Errorf("estimate: seeding history for %s: %w", serviceID, err)
	}

	// RecentCompleted is newest first.
	loaded := make([]sample, 0, len(completed)+len(h.pending))
	seen := make(map[string]bool, len(completed))
	for index := len(completed) - 1; index >= 0; index-- {
		ticket := completed[index]
		duration, ok := ticket.ServiceDuration()
		if !ok || ticket.CompletedAt == nil {
			continue
		}
		loaded = append(loaded, sample{ticketID: ticket.ID, completedAt: *ticket.CompletedAt, minutes: duration.Minutes()})
		seen[ticket.ID] = true
	}
	for _, recorded := range h.pending {
		if !seen[recorded.ticketID] {
			loaded = append(loaded, recorded)
			seen[recorded.ticketID] = true
		}
	}
	sort.SliceStable(loaded, func(i, j int) bool {
		return loaded[i].completedAt.Before(loaded[j].completedAt)
	})
	h.replace(loaded, e.config.Window)
	h.seeded = true
	return nil
}

// add appends one sample unless the window already holds its ticket.
func (h *history) add(recorded sample, window int) {
	if h.holds(recorded.ticketID) {
		return
	}
	h.samples = append(h.samples, recorded)
	if len(h.samples) > window {
		h.samples = h.samples[len(h.samples)-window:]
	}
	h.allTimeSum += recorded.minutes
	h.allTimeCount++
}

// replace swaps in a freshly loaded window. Samples new to this
// history count toward the all-time mean; once the window is full,
// only those completed after its oldest sample do, since older ones
// were already counted before they were evicted.
func (h *history) replace(loaded []sample, window int) {
	if len(loaded) > window {
		loaded = loaded[len(loaded)-window:]
	}
	full := len(h.samples) >= window
	for _, candidate := range loaded {
		if h.holds(candidate.ticketID) {
			continue
		}
		if full && !candidate.completedAt.After(h.samples[0].completedAt) {
			continue
		}
		h.allTimeSum += candidate.minutes
		h.allTimeCount++
	}
	h.samples = loaded
}

func (h *history) holds(ticketID string) bool {
	for _, existing := range h.samples {
		if existing.ticketID == ticketID {
			return true
		}
	}
	return false
}

func (h *history) snapshot() ([]float64, float64) {
	samples := make([]float64, len(h.samples))
	for index, recorded := range h.samples {
		samples[index] = recorded.minutes
	}
	if h.allTimeCount == 0 {
		return samples, 0
	}
	return samples, h.allTimeSum / float64(h.allTimeCount)
}

// windowSchedule holds per-window free times in minutes from now.
type windowSchedule []float64

func (s windowSchedule) earliestIndex() int {
	best := 0
	for index := range s {
		if s[index] < s[best] {
			best = index
		}
	}
	return best
}

func (s windowSchedule) earliest() float64 {
	if len(s) == 0 {
		return 0
	}
	return s[s.earliestIndex()]
}

// place gives the earliest free window to one ticket for duration
// minutes.
func (s windowSchedule) place(duration float64) {
	if len(s) == 0 {
		return
	}
	s[s.earliestIndex()] += duration
}

// roundMinutes rounds to a tenth of a minute.
func roundMinutes(minutes float64) float64 {
	return math.Round(minutes*10) / 10
}
