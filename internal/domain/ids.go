package domain

// IdentityID is the opaque identifier issued by the credential service.
// Driver and rider documents are keyed by it.
type IdentityID string

// RouteID addresses a fixed bus route. It is the unit of addressing for all live data.
type RouteID string

// ChannelKey names one of the independently addressable per-route realtime keys.
type ChannelKey string

const (
	KeyLocation ChannelKey = "location"
	KeyStatus   ChannelKey = "status"
	KeyTip      ChannelKey = "tip"
)

// ChannelKeys lists every per-route key in a stable order.
func ChannelKeys() []ChannelKey {
	return []ChannelKey{KeyLocation, KeyStatus, KeyTip}
}

func (k ChannelKey) Valid() bool {
	switch k {
	case KeyLocation, KeyStatus, KeyTip:
		return true
	default:
		return false
	}
}

// Document collections.
const (
	CollectionDrivers = "drivers"
	CollectionRiders  = "riders"
)
