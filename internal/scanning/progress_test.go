package scanning

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type progressRecorder struct {
	mu      sync.Mutex
	reports []Progress
}

func (r *progressRecorder) Progress(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, p)
}

func TestTrackerDeduplicatesPercent(t *testing.T) {
	rec := &progressRecorder{}
	tr := NewTracker(StageNetworkScan, 254, rec, nil)

	for i := 1; i <= 254; i++ {
		tr.Step(i)
	}
	tr.Finish()

	require.NotEmpty(t, rec.reports)
	assert.LessOrEqual(t, len(rec.reports), 101)

	seen := map[int]bool{}
	prev := -1
	for _, p := range rec.reports {
		assert.False(t, seen[p.Percent], "percent %d reported twice", p.Percent)
		seen[p.Percent] = true
		assert.GreaterOrEqual(t, p.Percent, prev)
		prev = p.Percent
		assert.Equal(t, StageNetworkScan, p.Stage)
	}

	last := rec.reports[len(rec.reports)-1]
	assert.Equal(t, Progress{Stage: StageNetworkScan, Current: 254, Total: 254, Percent: 100}, last)
}

func TestTrackerFinishAfterCancel(t *testing.T) {
	rec := &progressRecorder{}
	tr := NewTracker(StagePortScan, 6, rec, nil)

	tr.Step(1)
	tr.Step(2)
	tr.Finish()

	require.Len(t, rec.reports, 3)
	assert.Equal(t, 16, rec.reports[0].Percent)
	assert.Equal(t, 33, rec.reports[1].Percent)
	assert.Equal(t, Progress{Stage: StagePortScan, Current: 6, Total: 6, Percent: 100}, rec.reports[2])
}

func TestTrackerEmptyTotal(t *testing.T) {
	rec := &progressRecorder{}
	tr := NewTracker(StageNetworkScan, 0, rec, nil)

	tr.Step(0)
	tr.Finish()

	require.Len(t, rec.reports, 1)
	assert.Equal(t, 100, rec.reports[0].Percent)
}

func TestTrackerMirrorsSession(t *testing.T) {
	s := NewSession("advanced_scan")
	tr := NewTracker(StagePortScan, 4, nil, s)

	assert.Equal(t, "advanced_scan", s.Stage())
	assert.Zero(t, s.Percent())

	tr.Step(2)
	assert.Equal(t, 50, s.Percent())
	assert.Equal(t, StagePortScan, s.Stage())
	assert.Equal(t, 50, tr.Percent())

	tr.Finish()
	assert.Equal(t, 100, s.Percent())
}

func TestSessionCancel(t *testing.T) {
	s := NewSession("network_scan")
	other := NewSession("network_scan")

	assert.NotEqual(t, s.ID, other.ID)
	assert.False(t, s.Cancelled())

	s.Cancel()
	s.Cancel()
	assert.True(t, s.Cancelled())
	assert.False(t, other.Cancelled())
}

func TestPortRange(t *testing.T) {
	tests := []struct {
		name  string
		r     PortRange
		valid bool
		size  int
	}{
		{"single", PortRange{22, 22}, true, 1},
		{"default", PortRange{20, 1000}, true, 981},
		{"full", PortRange{1, 65535}, true, 65535},
		{"zero start", PortRange{0, 10}, false, 11},
		{"inverted", PortRange{10, 5}, false, 0},
		{"too high", PortRange{1, 65536}, false, 65536},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.valid {
				assert.NoError(t, tt.r.Validate())
			} else {
				assert.Error(t, tt.r.Validate())
			}
			assert.Equal(t, tt.size, tt.r.Len())
		})
	}

	assert.Equal(t, []int{20, 21, 22, 23, 24, 25}, PortRange{20, 25}.Ports())
	assert.Equal(t, "20-25", PortRange{20, 25}.String())
}
