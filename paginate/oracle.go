package paginate

import "folio/css"

// Measurer is the measurement oracle: an exclusive-access offscreen layout
// surface reporting rendered heights of HTML fragments. Each Measure call
// lays the fragment out under the given style profile, reads its pixel
// height and discards it. Callers must serialize access - the pagination run
// is single threaded by construction and never interleaves calls.
type Measurer interface {
	Measure(fragment string, profile *css.Profile) (float64, error)
	// SetHeadingMode switches the surface between chapter-opening and
	// ordinary page typography. Surfaces without distinct heading typography
	// may ignore it; the orchestrator separately reserves a heading band on
	// pages that carry a subordinate heading.
	SetHeadingMode(on bool)
	Destroy()
}
