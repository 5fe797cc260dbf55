// Package signals tracks, per scan, which capabilities and rule ids have
// fired for each method and type. It is the direct analogue of the
// teacher's stateful session store, scoped to a single method/type instead
// of a shell session (spec.md §4.2).
package signals

// MethodSignals is the mutable aggregate for a single method: which
// capabilities were observed and which rule ids have triggered.
type MethodSignals struct {
	FileWrite                bool
	EnvModified               bool
	SensitiveFolder           bool
	SuspiciousLocalVariables  bool
	triggeredRules            map[string]bool
}

// NewMethodSignals returns a zero-valued signal set ready to accumulate.
func NewMethodSignals() *MethodSignals {
	return &MethodSignals{triggeredRules: make(map[string]bool)}
}

// MarkTriggered records that ruleID fired in this method.
func (m *MethodSignals) MarkTriggered(ruleID string) {
	if m.triggeredRules == nil {
		m.triggeredRules = make(map[string]bool)
	}
	m.triggeredRules[ruleID] = true
}

// HasTriggered reports whether ruleID has fired in this method.
func (m *MethodSignals) HasTriggered(ruleID string) bool {
	return m.triggeredRules[ruleID]
}

// HasTriggeredOtherThan reports whether any rule other than ruleID has fired.
func (m *MethodSignals) HasTriggeredOtherThan(ruleID string) bool {
	for id := range m.triggeredRules {
		if id != ruleID {
			return true
		}
	}
	return false
}

// HasAnyOf reports whether any rule id in ids has fired — used for the
// reflection strong-companion allow-list check (spec.md §3 invariants).
func (m *MethodSignals) HasAnyOf(ids []string) bool {
	for _, id := range ids {
		if m.triggeredRules[id] {
			return true
		}
	}
	return false
}

// TriggeredRuleIDs returns the set of rule ids triggered in this method.
func (m *MethodSignals) TriggeredRuleIDs() []string {
	out := make([]string, 0, len(m.triggeredRules))
	for id := range m.triggeredRules {
		out = append(out, id)
	}
	return out
}

// SignalCount returns the number of distinct signals observed: capability
// bits plus triggered rules, used by the deep-behavior orchestrator's
// "signal count >= 3" selection criterion (spec.md §4.9).
func (m *MethodSignals) SignalCount() int {
	n := len(m.triggeredRules)
	if m.FileWrite {
		n++
	}
	if m.EnvModified {
		n++
	}
	if m.SensitiveFolder {
		n++
	}
	if m.SuspiciousLocalVariables {
		n++
	}
	return n
}

// Merge folds other's signals into m (used to build TypeSignals as the union
// of its methods' signals).
func (m *MethodSignals) Merge(other *MethodSignals) {
	if other == nil {
		return
	}
	m.FileWrite = m.FileWrite || other.FileWrite
	m.EnvModified = m.EnvModified || other.EnvModified
	m.SensitiveFolder = m.SensitiveFolder || other.SensitiveFolder
	m.SuspiciousLocalVariables = m.SuspiciousLocalVariables || other.SuspiciousLocalVariables
	if m.triggeredRules == nil {
		m.triggeredRules = make(map[string]bool)
	}
	for id := range other.triggeredRules {
		m.triggeredRules[id] = true
	}
}

// TypeSignals is the union of a type's methods' signals, reusing
// MethodSignals' shape per spec.md §4.2 ("reuses the same shape for convenience").
type TypeSignals = MethodSignals

// Tracker owns per-method and per-type signal maps for a single scan.
type Tracker struct {
	methods map[string]*MethodSignals
	types   map[string]*TypeSignals
}

// NewTracker creates an empty signal tracker.
func NewTracker() *Tracker {
	return &Tracker{
		methods: make(map[string]*MethodSignals),
		types:   make(map[string]*TypeSignals),
	}
}

// ForMethod returns (creating if absent) the signals for methodKey.
func (t *Tracker) ForMethod(methodKey string) *MethodSignals {
	ms, ok := t.methods[methodKey]
	if !ok {
		ms = NewMethodSignals()
		t.methods[methodKey] = ms
	}
	return ms
}

// ForType returns (creating if absent) the signals for typeFullName.
func (t *Tracker) ForType(typeFullName string) *TypeSignals {
	ts, ok := t.types[typeFullName]
	if !ok {
		ts = NewMethodSignals()
		t.types[typeFullName] = ts
	}
	return ts
}

// MergeMethodIntoType folds a method's signals into its enclosing type's
// aggregate. Called once a method has been fully analyzed.
func (t *Tracker) MergeMethodIntoType(typeFullName, methodKey string) {
	ms, ok := t.methods[methodKey]
	if !ok {
		return
	}
	t.ForType(typeFullName).Merge(ms)
}

// AllMethodKeys returns the set of method keys with recorded signals.
func (t *Tracker) AllMethodKeys() []string {
	out := make([]string, 0, len(t.methods))
	for k := range t.methods {
		out = append(out, k)
	}
	return out
}
