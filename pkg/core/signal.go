// pkg/core/signal.go
package core

// Link is one controlled lane-to-lane movement of a signal.
type Link struct {
	FromLane string `json:"from"`
	ToLane   string `json:"to"`
	ViaLane  string `json:"via,omitempty"`
}

// LinkState pairs a controlled link with its current signal character
// ('r', 'y', 'g', 'G', ...).
type LinkState struct {
	Index    int    `json:"index"`
	State    byte   `json:"state"`
	FromLane string `json:"from"`
	ToLane   string `json:"to"`
}

// SignalState is an immutable copy of a mirrored signal controller.
type SignalState struct {
	ID string `json:"id"`
	// Program is the engine's default program, restored after manual control.
	Program string `json:"program"`
	// State holds one character per controlled link.
	State string `json:"state"`
	Links []Link `json:"links"`
	Tick  uint64 `json:"tick"`
}

// LinkCount returns the number of controlled links.
func (s SignalState) LinkCount() int {
	return len(s.Links)
}

// Link returns the state and lanes of the link at index. ok is false when
// the index is out of range or no state has been received yet.
func (s SignalState) Link(index int) (LinkState, bool) {
	if index < 0 || index >= len(s.Links) || index >= len(s.State) {
		return LinkState{}, false
	}
	l := s.Links[index]
	return LinkState{
		Index:    index,
		State:    s.State[index],
		FromLane: l.FromLane,
		ToLane:   l.ToLane,
	}, true
}
