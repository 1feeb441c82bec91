package gpio

// FakeOutput is a test double that records every command it receives.
type FakeOutput struct {
	// Name identifies the output in test failures.
	Name string

	// State is the current logical state (true = ON).
	State bool

	// Commands contains every command in order (true = On, false = Off).
	Commands []bool
}

// NewFakeOutput creates a FakeOutput that starts off.
func NewFakeOutput(name string) *FakeOutput {
	return &FakeOutput{Name: name}
}

// On records an on command.
func (f *FakeOutput) On() {
	f.State = true
	f.Commands = append(f.Commands, true)
}

// Off records an off command.
func (f *FakeOutput) Off() {
	f.State = false
	f.Commands = append(f.Commands, false)
}

// Transitions returns the number of times the state actually changed.
func (f *FakeOutput) Transitions() int {
	n := 0
	prev := false
	for _, c := range f.Commands {
		if c != prev {
			n++
		}
		prev = c
	}
	return n
}

// Reset clears recorded commands and turns the output off.
func (f *FakeOutput) Reset() {
	f.State = false
	f.Commands = nil
}
