package alerts

import (
	"sync"
	"time"
)

// DetectionDeduplicator holds per-category alert state. Each category is
// observed independently, as its inference result completes.
type DetectionDeduplicator struct {
	mu            sync.Mutex
	policies      map[Category]CategoryPolicy
	state         map[Category]*categoryState
	minConfidence float64
	now           func() time.Time
}

type categoryState struct {
	lastLabel  string
	armedUntil time.Time
}

// NewDetectionDeduplicator creates a deduplicator with the given per-category policies
func NewDetectionDeduplicator(policies map[Category]CategoryPolicy, minConfidence float64) *DetectionDeduplicator {
	return &DetectionDeduplicator{
		policies:      policies,
		state:         make(map[Category]*categoryState),
		minConfidence: minConfidence,
		now:           time.Now,
	}
}

// Dominant returns the highest-confidence detection at or above minConfidence
func Dominant(detections []Detection, minConfidence float64) (Detection, bool) {
	var best Detection
	found := false
	for _, d := range detections {
		if d.Label == "" || d.Confidence < minConfidence {
			continue
		}
		if !found || d.Confidence > best.Confidence {
			best = d
			found = true
		}
	}
	return best, found
}

// Observe applies the category's policy to a batch of detections and reports
// whether an alert fires. A fired alert changes nothing until it is passed to
// Commit, so an alert that could not be announced fires again next cycle.
func (d *DetectionDeduplicator) Observe(category Category, detections []Detection) (Alert, Decision) {
	d.mu.Lock()
	defer d.mu.Unlock()

	policy := d.policies[category]
	st, ok := d.state[category]
	if !ok {
		st = &categoryState{}
		d.state[category] = st
	}

	dominant, found := Dominant(detections, d.minConfidence)
	if !found {
		// An empty scene re-arms change-based categories
		if policy.Policy == PolicyOnChange {
			st.lastLabel = ""
		}
		return Alert{}, DecisionIgnored
	}

	now := d.now()
	if now.Before(st.armedUntil) {
		return Alert{}, DecisionSuppressed
	}
	if policy.Policy == PolicyOnChange && dominant.Label == st.lastLabel {
		return Alert{}, DecisionSuppressed
	}

	return Alert{
		Category:   category,
		Label:      dominant.Label,
		Confidence: dominant.Confidence,
		Phrase:     PhraseFor(category, dominant.Label),
		FiredAt:    now,
	}, DecisionFired
}

// Commit records alert as announced, saving its label and arming the
// category's suppression window from the time it fired
func (d *DetectionDeduplicator) Commit(alert Alert) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.state[alert.Category]
	if !ok {
		st = &categoryState{}
		d.state[alert.Category] = st
	}
	st.lastLabel = alert.Label
	st.armedUntil = alert.FiredAt.Add(d.policies[alert.Category].Window)
}

// LastLabels returns the last alerted label per category
func (d *DetectionDeduplicator) LastLabels() map[Category]string {
	d.mu.Lock()
	defer d.mu.Unlock()

	labels := make(map[Category]string, len(d.state))
	for category, st := range d.state {
		labels[category] = st.lastLabel
	}
	return labels
}

// Reset clears all suppression state
func (d *DetectionDeduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = make(map[Category]*categoryState)
}

// InstructionDeduplicator is purely value-based: an instruction is actionable
// only if it differs from the last one spoken. There is no time-based re-arm.
type InstructionDeduplicator struct {
	mu   sync.Mutex
	last string
}

// NewInstructionDeduplicator creates an empty instruction deduplicator
func NewInstructionDeduplicator() *InstructionDeduplicator {
	return &InstructionDeduplicator{}
}

// Actionable reports whether text should be spoken
func (d *InstructionDeduplicator) Actionable(text string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return text != "" && text != d.last
}

// MarkSpoken records text as the last spoken instruction
func (d *InstructionDeduplicator) MarkSpoken(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = text
}

// Last returns the last spoken instruction
func (d *InstructionDeduplicator) Last() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}
