package coordinator

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PowerSource reports the battery state for status snapshots.
type PowerSource interface {
	Battery() (level int, charging bool)
}

// NewPowerSource returns a sysfs reader for dir, or a fixed full battery
// when dir is empty.
func NewPowerSource(dir string) PowerSource {
	if dir == "" {
		return FixedPower{Level: 100}
	}
	return SysfsBattery{Dir: dir}
}

// FixedPower always reports the same state.
type FixedPower struct {
	Level    int
	Charging bool
}

func (p FixedPower) Battery() (int, bool) {
	return p.Level, p.Charging
}

// SysfsBattery reads a power_supply directory such as
// /sys/class/power_supply/BAT0. Unreadable files report a full battery that
// is not charging.
type SysfsBattery struct {
	Dir string
}

func (b SysfsBattery) Battery() (int, bool) {
	raw, err := os.ReadFile(filepath.Join(b.Dir, "capacity"))
	if err != nil {
		return 100, false
	}
	level, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 100, false
	}
	level = min(max(level, 0), 100)

	status, err := os.ReadFile(filepath.Join(b.Dir, "status"))
	if err != nil {
		return level, false
	}
	return level, strings.TrimSpace(string(status)) == "Charging"
}
