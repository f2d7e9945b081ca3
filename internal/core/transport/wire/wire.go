// Package wire holds the JSON records exchanged with the Fenotek backend.
//
// Fields the backend may omit are pointers or carry their zero value as the
// documented default; callers validate them at the classifier boundary.
package wire

// LoginRequest is the body of POST /authenticate.
type LoginRequest struct {
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Device   LoginDevice `json:"device"`
}

// LoginDevice describes the client registering the session.
type LoginDevice struct {
	PushType  string `json:"pushType"`
	TimeZone  string `json:"timeZone"`
	Type      string `json:"type"`
	DUID      string `json:"duid"`
	BypassDND bool   `json:"bypassDnd"`
	TokenID   string `json:"tokenId"`
}

// LoginResponse carries either a token or an error message.
type LoginResponse struct {
	Token string `json:"token,omitempty"`
	Error string `json:"error,omitempty"`
}

// DevicesResponse lists the doorbell ids visible to the user.
type DevicesResponse struct {
	Visiophones []string `json:"visiophones"`
}

// DryContact is a relay definition inside the device profile.
type DryContact struct {
	ID        string `json:"_id"`
	Name      string `json:"name"`
	CommandID string `json:"commandId"`
	IsOnHold  bool   `json:"isOnHold"`
	Icon      string `json:"icon"`
	Delay     int    `json:"delay"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// Member is a user attached to a doorbell.
type Member struct {
	ID        string `json:"_id"`
	UserID    string `json:"userId"`
	IsAdmin   bool   `json:"isAdmin"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// Zone is a motion detection zone.
type Zone struct {
	ID      string  `json:"_id"`
	Label   string  `json:"label"`
	Coords  [][]int `json:"coords"`
	Surface int     `json:"surface"`
}

// Address is the postal address of the installation.
type Address struct {
	Country string `json:"country"`
	Street1 string `json:"street_1"`
	Street2 string `json:"street_2"`
	ZipCode string `json:"zipcode"`
	City    string `json:"city"`
}

// Visiophone is the device profile returned by GET /visiophones/{id}.
type Visiophone struct {
	ID                     string       `json:"_id"`
	Description            string       `json:"description"`
	IsInStandBy            bool         `json:"isInStandBy"`
	IsNotificationEnabled  bool         `json:"isNotificationEnabled"`
	IsTurnedOn             bool         `json:"isTurnedOn"`
	Suspended              bool         `json:"suspended"`
	IsUserDetectionEnabled bool         `json:"isUserDetectionEnabled"`
	LedColor               int          `json:"ledColor"`
	Major                  int          `json:"major"`
	Minor                  int          `json:"minor"`
	ScreenName             string       `json:"screenName"`
	SensorRange            int          `json:"sensorRange"`
	TimeZone               string       `json:"timeZone"`
	Region                 string       `json:"region"`
	AndroidBuildVersion    string       `json:"androidBuildVersion"`
	HiVersion              string       `json:"hiVersion"`
	UpdaterVersion         string       `json:"updaterVersion"`
	LastPing               string       `json:"lastPing"`
	ConnectionType         string       `json:"connectionType"`
	DisconnectionAlert     bool         `json:"disconnectionAlert"`
	DryContacts            []DryContact `json:"dryContacts"`
	Members                []Member     `json:"member"`
	Zones                  []Zone       `json:"zones"`
	Address                *Address     `json:"address,omitempty"`
	CreatedAt              string       `json:"createdAt,omitempty"`
	UpdatedAt              string       `json:"updatedAt,omitempty"`
}

// NotificationDetail is the type-specific part of a notification.
//
// Type is nil when the backend omits it; the classifier maps that to the
// unknown sub-category.
type NotificationDetail struct {
	Type        *int   `json:"type,omitempty"`
	Label       string `json:"label,omitempty"`
	URL         string `json:"url,omitempty"`
	TriggeredBy string `json:"triggeredBy,omitempty"`
	Name        string `json:"name,omitempty"`
	Download    string `json:"download,omitempty"`
	VideoURL    string `json:"videoUrl,omitempty"`
	Room        string `json:"room,omitempty"`
	Recorded    bool   `json:"recorded,omitempty"`
	AnsweredBy  string `json:"answeredBy,omitempty"`
}

// Notification is one event record as served by the backend.
type Notification struct {
	ID        string             `json:"_id"`
	VUID      string             `json:"vuid,omitempty"`
	Type      string             `json:"type"`
	Detail    NotificationDetail `json:"detail"`
	ExpireAt  string             `json:"expireAt,omitempty"`
	CreatedAt string             `json:"createdAt"`
	UpdatedAt string             `json:"updatedAt,omitempty"`
}

// NotificationsPage is one page of GET /visiophones/{id}/notifications.
type NotificationsPage struct {
	Page          int            `json:"page"`
	Pages         int            `json:"pages"`
	Notifications []Notification `json:"notifications"`
}

// HomeUser is a user entry of the home summary.
type HomeUser struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`
}

// HomeDryContact is the compact relay entry of the home summary.
type HomeDryContact struct {
	Name      string `json:"name"`
	CommandID string `json:"commandId"`
	IsOnHold  bool   `json:"isOnHold"`
	Icon      string `json:"icon"`
	Delay     int    `json:"delay"`
}

// Home is the device summary returned by GET /page/{id}/home.
type Home struct {
	VUID             string           `json:"vuid"`
	Users            []HomeUser       `json:"users"`
	DryContacts      []HomeDryContact `json:"dryContacts"`
	LastNotification *Notification    `json:"lastNotification,omitempty"`
	MediaURL         string           `json:"mediaUrl"`
}

// MediaDocument is the JSON document behind indirect video URLs.
type MediaDocument struct {
	Data struct {
		URL string `json:"url"`
	} `json:"data"`
}

// PingResponse is the body of POST /visiophones/{id}/ping.
type PingResponse struct {
	Success bool `json:"success"`
}

// ActivateRequest is the body of the relay activation call.
type ActivateRequest struct {
	SecurityCode string `json:"securityCode"`
}

// SchemaError details a validation failure reported by the backend.
type SchemaError struct {
	Message string `json:"message"`
}

// ActivateResponse is the body returned by the relay activation call.
type ActivateResponse struct {
	Error       string       `json:"error,omitempty"`
	SchemaError *SchemaError `json:"schemaError,omitempty"`
	Success     bool         `json:"success"`
}

// Int returns a pointer to v, for building details in code and tests.
func Int(v int) *int {
	return &v
}
