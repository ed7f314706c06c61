package integrity

import "github.com/stemsi/exstem-proctor/internal/model"

// Policy decides when violations end an attempt. A zero limit disables that
// check; the zero Policy never terminates.
type Policy struct {
	MaxTabSwitches     int `json:"max_tab_switches"`
	MaxFullscreenExits int `json:"max_fullscreen_exits"`
}

// Enabled reports whether any limit is configured.
func (p Policy) Enabled() bool {
	return p.MaxTabSwitches > 0 || p.MaxFullscreenExits > 0
}

// Exceeded reports whether state has reached a configured limit.
func (p Policy) Exceeded(state model.IntegrityState) bool {
	if p.MaxTabSwitches > 0 && state.TabSwitchCount >= p.MaxTabSwitches {
		return true
	}
	if p.MaxFullscreenExits > 0 && state.FullscreenExitCount >= p.MaxFullscreenExits {
		return true
	}
	return false
}
