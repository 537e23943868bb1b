package stage

// Mode names how an executor carries out a stage.
type Mode string

const (
	ModeCommand  Mode = "command"
	ModeDeferred Mode = "deferred"
	ModeFunc     Mode = "func"
)

// Health reports whether the executor for a stage can accept work.
type Health struct {
	Name   string
	Mode   Mode
	Ready  bool
	Detail string
}

// Healthy returns a ready record for the named stage.
func Healthy(name string, mode Mode, detail string) Health {
	return Health{Name: name, Mode: mode, Ready: true, Detail: detail}
}

// Unhealthy returns a record explaining why the stage cannot run.
func Unhealthy(name string, mode Mode, detail string) Health {
	return Health{Name: name, Mode: mode, Detail: detail}
}

// AllReady reports whether every record is ready. An empty slice is not ready.
func AllReady(health []Health) bool {
	if len(health) == 0 {
		return false
	}
	for _, h := range health {
		if !h.Ready {
			return false
		}
	}
	return true
}
