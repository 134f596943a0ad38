package sync

// RateLimitGuard decides whether a sync pass must pause before starting the
// next pull request. The threshold is sized to cover one PR's full set of
// sub-fetches so a PR is never left half synced.
type RateLimitGuard struct {
	// MinRemaining is the low-water mark. Zero disables the guard.
	MinRemaining int
}

// ShouldPause reports whether remaining quota is too low to start another
// pull request. Negative remaining means the source did not report quota and
// is never a reason to pause.
func (g RateLimitGuard) ShouldPause(remaining int) bool {
	if g.MinRemaining <= 0 || remaining < 0 {
		return false
	}
	return remaining < g.MinRemaining
}
