package ws

import "github.com/google/uuid"

// newConnID tags a subscription; the id shows up in lifecycle events and
// error records so one connection's traffic can be correlated.
func newConnID() string {
	return uuid.NewString()
}
