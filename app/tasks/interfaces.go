package tasks

// RunnerInterface is the background job surface the main application
// manages: start the schedules, stop them cleanly on shutdown.
type RunnerInterface interface {
	Start()
	Stop()
}
