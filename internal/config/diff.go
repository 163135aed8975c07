package config

// Diff describes what changed between two configs. Only fields whose change
// produces a runtime command are tracked; audio_source, engine, and position
// changes are persisted state written back by the application itself, and
// reacting to them here would create a write-watch feedback loop.
type Diff struct {
	AppearanceChanged bool
	ModeChanged       bool
	EdgeChanged       bool
	LockedChanged     bool
	CorrectionChanged bool
}

// Changed reports whether any tracked field differs.
func (d Diff) Changed() bool {
	return d.AppearanceChanged || d.ModeChanged || d.EdgeChanged ||
		d.LockedChanged || d.CorrectionChanged
}

// Compare returns the tracked differences between old and new.
func Compare(old, new *Config) Diff {
	return Diff{
		AppearanceChanged: old.Appearance != new.Appearance,
		ModeChanged:       old.OverlayMode != new.OverlayMode,
		EdgeChanged:       old.ScreenEdge != new.ScreenEdge,
		LockedChanged:     old.Locked != new.Locked,
		CorrectionChanged: old.Correction != new.Correction,
	}
}
