// Package progress provides progress reporting for long-running selection runs.
package progress

// Callback reports progress during long operations.
// Parameters:
//   - current: Number of items completed
//   - total: Total number of items
//   - message: Human-readable description of the current phase
//
// A nil Callback is valid and will be safely ignored by the Call() helper.
type Callback func(current, total int, message string)

// Call safely invokes the callback if non-nil.
func Call(cb Callback, current, total int, message string) {
	if cb != nil {
		cb(current, total, message)
	}
}

// Update is a detailed progress update with phase information.
type Update struct {
	Phase    string         // Search state (e.g., "building_pool", "searching")
	SubPhase string         // Driver step (e.g., "restart_2", "iteration_14")
	Current  int            // Current progress count within the phase
	Total    int            // Total items to process in the phase, 0 when unbounded
	Message  string         // Human-readable progress message
	Details  map[string]any // Arbitrary metrics (e.g., pool_size, score_major)
}

// DetailedCallback receives detailed progress updates.
// A nil DetailedCallback is valid and will be safely ignored by CallDetailed().
type DetailedCallback func(update Update)

// CallDetailed safely invokes the detailed callback if non-nil.
func CallDetailed(cb DetailedCallback, update Update) {
	if cb != nil {
		cb(update)
	}
}

// Simple adapts a Callback so it can receive detailed updates.
func Simple(cb Callback) DetailedCallback {
	if cb == nil {
		return nil
	}
	return func(u Update) {
		cb(u.Current, u.Total, u.Message)
	}
}
