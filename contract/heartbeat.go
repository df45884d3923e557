package contract

import "time"

// HeartbeatService is registered on every server and used only by the
// client's heartbeat supervisor.
const HeartbeatService = "/inner/heartbeat"

// Pong is what Heartbeat.Ping returns.
var Pong = []byte("pong")

// Heartbeat is the always-on liveness service.
type Heartbeat interface {
	Ping() ([]byte, error)
}

var _ = MustDeclare[Heartbeat](Metadata{Name: HeartbeatService, Timeout: time.Second})
