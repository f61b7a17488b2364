package persist

import "fmt"

// Status is the save state of one player's economy.
type Status int

const (
	StatusIdle Status = iota
	StatusPending
	StatusSaving
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPending:
		return "pending"
	case StatusSaving:
		return "saving"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
