package identity

// DefaultProfileImage marks a profile that still uses the built-in avatar;
// clients render their bundled placeholder instead of fetching a URL.
const DefaultProfileImage = "default"

// Statuses a user can carry in the directory. Online/Offline are driven by
// the presence tracker; Available/Away are user-chosen.
const (
	StatusOnline    = "Online"
	StatusOffline   = "Offline"
	StatusAvailable = "Available"
	StatusAway      = "Away"
)

// User is the directory record for one verified phone identity.
type User struct {
	UID             string         `json:"uid"`
	Username        string         `json:"username"`
	PhoneNumber     string         `json:"phoneNumber"`
	ProfileImageURL string         `json:"profileImageUrl"`
	Status          string         `json:"status"`
	LastSeen        int64          `json:"lastSeen"`
	FCMToken        string         `json:"fcmToken,omitempty"`
	Settings        map[string]any `json:"settings,omitempty"`
}
