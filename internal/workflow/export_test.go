package workflow

// InflightExecutors reports how many executor goroutines the run's actor
// still tracks.
func InflightExecutors(m *Manager, runID string) int {
	a := m.actorFor(runID)
	if a == nil {
		return 0
	}
	return a.inflightCount()
}
