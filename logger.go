// Package corosync defines the cross-cutting interfaces every other
// package in this module is constructed against: the logging sink and
// its severity levels. No package here reaches for a global logger —
// every component takes one as a constructor argument, the same
// dependency-injection discipline the rest of this module's contracts
// (transport.Transport, totemsrp.RingIDStore) follow.
package corosync

// Level orders log severities from most to least verbose.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelNotice
	LevelWarning
	LevelError
	LevelCrit
)

// String renders the level the way subsystem log lines report it.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelNotice:
		return "notice"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	case LevelCrit:
		return "crit"
	default:
		return "unknown"
	}
}

// Logger is the one logging sink every component in this module is
// constructed against. subsys names the owning component ("TOTEM",
// "TOTEMPG", "MAIN"); fn is the calling function's name; args are
// zerolog-style alternating key/value pairs appended as structured
// fields.
type Logger interface {
	Log(level Level, subsys, fn string, args ...any)
}

// Nop discards every record. Useful as a constructor default in tests
// that don't care about log output.
type Nop struct{}

func (Nop) Log(Level, string, string, ...any) {}
