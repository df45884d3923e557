package message

import "strconv"

// Status is the wire-visible outcome code of a call. Values are stable
// integers; anything >= StatusNoSuchMethod is treated as an error by clients,
// so new codes must stay at or above 400.
type Status uint32

const (
	StatusOK            Status = 200
	StatusNoSuchMethod  Status = 400
	StatusNoSuchService Status = 401
	StatusThrottled     Status = 429
	StatusServerError   Status = 500
)

// IsError reports whether the status denotes a failed call.
func (s Status) IsError() bool {
	return s >= StatusNoSuchMethod
}

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusNoSuchMethod:
		return "NO_SUCH_METHOD"
	case StatusNoSuchService:
		return "NO_SUCH_SERVICE"
	case StatusThrottled:
		return "THROTTLED"
	case StatusServerError:
		return "SERVER_ERROR"
	}
	return "STATUS_" + strconv.FormatUint(uint64(s), 10)
}
