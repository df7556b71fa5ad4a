package scanning

// Tracker turns per-item advancement into de-duplicated progress reports.
// A report is emitted only when the integer percentage changes, and Finish
// always leaves a terminal 100% report as the last one.
type Tracker struct {
	stage   string
	total   int
	sink    ProgressSink
	session *Session

	last        int
	lastCurrent int
}

// NewTracker creates a tracker for total items. The session, if any, mirrors
// the latest percentage for status snapshots. The sink may be nil.
func NewTracker(stage string, total int, sink ProgressSink, session *Session) *Tracker {
	return &Tracker{
		stage:       stage,
		total:       total,
		sink:        sink,
		session:     session,
		last:        -1,
		lastCurrent: -1,
	}
}

// Step records that scanned items out of total are done.
func (t *Tracker) Step(scanned int) {
	if t.total <= 0 {
		return
	}
	percent := scanned * 100 / t.total
	if percent == t.last {
		return
	}
	t.emit(Progress{Stage: t.stage, Current: scanned, Total: t.total, Percent: percent})
}

// Finish emits the terminal 100% report unless the last report already was
// the complete one.
func (t *Tracker) Finish() {
	if t.last == 100 && t.lastCurrent == t.total {
		return
	}
	t.emit(Progress{Stage: t.stage, Current: t.total, Total: t.total, Percent: 100})
}

// Percent returns the last emitted percentage, or 0 before the first report.
func (t *Tracker) Percent() int {
	return max(t.last, 0)
}

func (t *Tracker) emit(p Progress) {
	t.last = p.Percent
	t.lastCurrent = p.Current
	if t.session != nil {
		t.session.record(p)
	}
	if t.sink != nil {
		t.sink.Progress(p)
	}
}
