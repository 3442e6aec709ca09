package game

// ResponseResult is one response with its round outcome attached.
type ResponseResult struct {
	Index      int      `json:"index"`
	Text       string   `json:"text"`
	AuthorID   string   `json:"authorId,omitempty"`
	AuthorName string   `json:"authorName,omitempty"`
	IsMachine  bool     `json:"isMachine"`
	Votes      int      `json:"votes"`
	Voters     []string `json:"voters"` // display names
}

// RoundResultsView is the read-only projection of a finished round.
type RoundResultsView struct {
	Round        int              `json:"round"`
	Prompt       string           `json:"prompt"`
	Model        string           `json:"model"`
	MachineIndex int              `json:"machineIndex"`
	MachineText  string           `json:"machineText"`
	Responses    []ResponseResult `json:"responses"`
	Points       map[string]int   `json:"points"` // player id -> round delta
}

// RoundResults builds the results projection. Only valid while the room is
// in the results phase; false otherwise.
func (e *Engine) RoundResults(roomID string) (*RoundResultsView, bool) {
	var view *RoundResultsView
	_ = e.locks.WithRoomLock(roomID, func() error {
		room, ok := e.store.Get(roomID)
		if !ok || room.State.Phase != PhaseResults {
			return nil
		}
		view = buildResultsLocked(room)
		return nil
	})
	return view, view != nil
}

func buildResultsLocked(room *Room) *RoundResultsView {
	st := room.State
	view := &RoundResultsView{
		Round:        st.Round,
		MachineIndex: -1,
		Responses:    make([]ResponseResult, len(st.Responses)),
		Points:       ComputeRoundDeltas(st.Responses, st.Guesses),
	}
	if st.Prompt != nil {
		view.Prompt = st.Prompt.Text
		view.Model = st.Prompt.Model
	}

	for i, r := range st.Responses {
		rr := ResponseResult{
			Index:     i,
			Text:      r.Text,
			AuthorID:  r.AuthorID,
			IsMachine: r.IsMachine,
			Voters:    []string{},
		}
		if r.IsMachine {
			view.MachineIndex = i
			view.MachineText = r.Text
		} else if p := room.Players[r.AuthorID]; p != nil {
			rr.AuthorName = p.Name
		}
		view.Responses[i] = rr
	}

	for guesserID, idx := range st.Guesses {
		if idx < 0 || idx >= len(view.Responses) {
			continue
		}
		view.Responses[idx].Votes++
		name := guesserID
		if p := room.Players[guesserID]; p != nil {
			name = p.Name
		}
		view.Responses[idx].Voters = append(view.Responses[idx].Voters, name)
	}
	return view
}
