package wfs

import "fmt"

// ErrStageConfig reports missing or invalid parameters of a stage for one
// channel. The channel is skipped by that stage only.
type ErrStageConfig struct {
	Stage   string
	Channel string
	Reason  string
}

func (e *ErrStageConfig) Error() string {
	return fmt.Sprintf("stage %q, channel %q: %s", e.Stage, e.Channel, e.Reason)
}

// ErrColumnExists is returned when a stage writes a column that is already in
// the feature table.
type ErrColumnExists struct {
	Column string
}

func (e *ErrColumnExists) Error() string {
	return fmt.Sprintf("column %q already exists in the feature table", e.Column)
}

// ErrShape is returned by the single event variants when the input holds more
// than one event.
type ErrShape struct {
	Channel  string
	NEvents  int
	NSamples int
}

func (e *ErrShape) Error() string {
	return fmt.Sprintf("channel %q: expected a single waveform, got an array of shape (%d, %d)", e.Channel, e.NEvents, e.NSamples)
}

// ErrUnknownStage is a channel map naming a stage that is not registered.
type ErrUnknownStage struct {
	Stage   string
	Channel string
}

func (e *ErrUnknownStage) Error() string {
	return fmt.Sprintf("channel %q: unknown waveform stage %q", e.Channel, e.Stage)
}
