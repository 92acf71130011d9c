package domain

// Role is derived once at login from collection membership: an identity present in the
// drivers collection is a driver, every other identity is a rider.
type Role string

const (
	RoleDriver Role = "driver"
	RoleRider  Role = "rider"
)

func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleDriver:
		return RoleDriver, true
	case RoleRider:
		return RoleRider, true
	default:
		return "", false
	}
}

// DriverProfile is read-only from the location subsystem's perspective.
type DriverProfile struct {
	ID          IdentityID
	FirstName   string
	LastName    string
	RouteID     RouteID
	BusNumber   string
	PhoneNumber string
}

func (p DriverProfile) FullName() string {
	return NormalizeHumanName(p.FirstName + " " + p.LastName)
}

// RiderProfile is the roster entry for a passenger assigned to a route.
type RiderProfile struct {
	ID          IdentityID
	FirstName   string
	LastName    string
	RouteID     RouteID
	PhoneNumber string
}

func (p RiderProfile) FullName() string {
	return NormalizeHumanName(p.FirstName + " " + p.LastName)
}

// Identity is a tagged variant: exactly one of Driver or Rider is set, matching Role.
type Identity struct {
	ID   IdentityID
	Role Role

	Driver *DriverProfile
	Rider  *RiderProfile
}

func NewDriverIdentity(p DriverProfile) Identity {
	return Identity{ID: p.ID, Role: RoleDriver, Driver: &p}
}

func NewRiderIdentity(p RiderProfile) Identity {
	return Identity{ID: p.ID, Role: RoleRider, Rider: &p}
}

func (i Identity) IsDriver() bool { return i.Role == RoleDriver && i.Driver != nil }
func (i Identity) IsRider() bool  { return i.Role == RoleRider && i.Rider != nil }

// Valid reports whether the variant tag agrees with the attached profile.
func (i Identity) Valid() bool {
	if i.ID == "" {
		return false
	}
	switch i.Role {
	case RoleDriver:
		return i.Driver != nil && i.Rider == nil
	case RoleRider:
		return i.Rider != nil && i.Driver == nil
	default:
		return false
	}
}

// RouteID returns the route from whichever profile is attached. Empty means unresolved.
func (i Identity) RouteID() RouteID {
	switch {
	case i.Driver != nil:
		return i.Driver.RouteID
	case i.Rider != nil:
		return i.Rider.RouteID
	default:
		return ""
	}
}

func (i Identity) DisplayName() string {
	switch {
	case i.Driver != nil:
		return i.Driver.FullName()
	case i.Rider != nil:
		return i.Rider.FullName()
	default:
		return ""
	}
}
