package sync

// State is the engine's current phase. Transitions are logged and visible to
// observers through progress events.
type State string

const (
	StateIdle         State = "idle"
	StateScanning     State = "scanning"
	StateDiffing      State = "diffing"
	StateTransferring State = "transferring"
	StateVerifying    State = "verifying"
	StateCommitting   State = "committing"
	StateCancelled    State = "cancelled"
	StateFailed       State = "failed"
)

// terminal reports whether a new operation may start from this state.
func (s State) terminal() bool {
	return s == StateIdle || s == StateCancelled || s == StateFailed
}

// Progress is one observer event. FilesTotal and BytesTotal refer to the
// files being transferred, not the whole source tree.
type Progress struct {
	Phase      State
	FilesTotal int
	FilesDone  int
	BytesTotal uint64
	BytesDone  uint64
}
