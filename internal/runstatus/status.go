package runstatus

import "strings"

const (
	SignedOut        = "Signed out"
	Connecting       = "Connecting"
	Connected        = "Connected"
	Reconnecting     = "Reconnecting"
	Disconnected     = "Disconnected"
	DisconnectedAuth = "Disconnected (auth)"
)

const (
	KeySignedOut        = "signed out"
	KeyConnecting       = "connecting"
	KeyConnected        = "connected"
	KeyReconnecting     = "reconnecting"
	KeyDisconnected     = "disconnected"
	KeyDisconnectedAuth = "disconnected (auth)"
)

func Key(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

// Live reports whether status describes an open broker connection.
func Live(status string) bool {
	return Key(status) == KeyConnected
}
