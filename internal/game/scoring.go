package game

// Scoring for a finished round:
//   +1 to a guesser who picked the machine response
//   +5 to the human author of a response for every other player it fooled
//
// The deception bonus is awarded per guess received, so a response that fools
// three players earns its author 15 points.

const (
	correctGuessPoints = 1
	deceptionPoints    = 5
)

// ComputeRoundDeltas returns the per-player point deltas for a finished
// round. Pure: the caller applies the deltas. If no machine response exists
// the delta map is empty.
func ComputeRoundDeltas(responses []Response, guesses map[string]int) map[string]int {
	deltas := make(map[string]int)

	machineIdx := -1
	for i, r := range responses {
		if r.IsMachine {
			machineIdx = i
			break
		}
	}
	if machineIdx == -1 {
		return deltas
	}

	for guesserID, idx := range guesses {
		if idx == machineIdx {
			deltas[guesserID] += correctGuessPoints
			continue
		}
		if idx < 0 || idx >= len(responses) {
			continue
		}
		r := responses[idx]
		// Self-votes cannot happen by construction; the author check is a
		// defensive invariant.
		if !r.IsMachine && r.AuthorID != "" && r.AuthorID != guesserID {
			deltas[r.AuthorID] += deceptionPoints
		}
	}
	return deltas
}
