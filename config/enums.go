package config

//go:generate go tool go-enum --marshal --nocomments

// Specification of page geometry mode: fixed device pages or fluid
// (viewport-derived) pages.
// ENUM(fixed, fluid)
type PageLayout int

// IsFluid reports whether page dimensions follow the viewport instead of
// fixed device geometry.
func (l PageLayout) IsFluid() bool {
	return l == PageLayoutFluid
}
