package install

// Phase is a state of the install or removal state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCheckingCompatibility
	PhaseClosingHostApp
	PhaseEnsuringBackup
	PhaseResolvingArchive
	PhasePatching
	PhaseResolvingUnpacked
	PhaseReplacingUnpackedDir
	PhaseVerifyingChecksum
	PhasePersistingState
	PhaseRelaunching
	PhaseRestoringBackup
	PhaseResigning
	PhaseClearingState
	PhaseSuccess
	PhaseFailed
)

var phaseNames = [...]string{
	PhaseIdle:                  "idle",
	PhaseCheckingCompatibility: "checking_compatibility",
	PhaseClosingHostApp:        "closing_host_app",
	PhaseEnsuringBackup:        "ensuring_backup",
	PhaseResolvingArchive:      "resolving_archive",
	PhasePatching:              "patching",
	PhaseResolvingUnpacked:     "resolving_unpacked",
	PhaseReplacingUnpackedDir:  "replacing_unpacked_dir",
	PhaseVerifyingChecksum:     "verifying_checksum",
	PhasePersistingState:       "persisting_state",
	PhaseRelaunching:           "relaunching",
	PhaseRestoringBackup:       "restoring_backup",
	PhaseResigning:             "resigning",
	PhaseClearingState:         "clearing_state",
	PhaseSuccess:               "success",
	PhaseFailed:                "failed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}
