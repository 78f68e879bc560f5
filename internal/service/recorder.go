package service

// Recorder receives engine outcomes for metrics.
type Recorder interface {
	Transition(event Event, kind Kind)
	Notification(event Event, recipients int, err error)
}

type nopRecorder struct{}

func (nopRecorder) Transition(Event, Kind) {
}

func (nopRecorder) Notification(Event, int, error) {
}

func recorder(r Recorder) Recorder {
	if r == nil {
		return nopRecorder{}
	}
	return r
}
