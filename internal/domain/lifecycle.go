package domain

// AppState is a device lifecycle transition.
type AppState string

const (
	AppForeground AppState = "foreground"
	AppBackground AppState = "background"
	AppInactive   AppState = "inactive"
)

// Suspends reports whether the transition takes the app out of the foreground.
func (s AppState) Suspends() bool {
	return s == AppBackground || s == AppInactive
}
