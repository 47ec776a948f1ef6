package install

// Reporter receives the outcome of an operation as it progresses.
// Exactly one of Success or Failure is called per operation.
type Reporter interface {
	// Progress reports overall completion in percent. Values never
	// decrease within one operation.
	Progress(percent int)
	Message(text string)
	Success()
	Failure(f *Failure)
}

// NopReporter discards all events.
type NopReporter struct{}

func (NopReporter) Progress(int)     {}
func (NopReporter) Message(string)   {}
func (NopReporter) Success()         {}
func (NopReporter) Failure(*Failure) {}
