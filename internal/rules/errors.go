package rules

// IllegalMoveError reports why a move was rejected. The reason is written for
// end users and gets forwarded verbatim in move_error events.
type IllegalMoveError struct {
	Reason string
}

func (e *IllegalMoveError) Error() string {
	return "illegal move: " + e.Reason
}
