package auth

// MicrosoftIdentity holds the verified claims this service consumes from a
// Microsoft ID token. SubjectID is the stable key.
type MicrosoftIdentity struct {
	SubjectID         string
	Email             string
	GivenName         string
	FamilyName        string
	PreferredUsername string
}

// XboxIdentity holds the profile fields returned by the XSTS leg of the Xbox
// Live chain. XboxID is the stable key; the gamertag can change upstream.
type XboxIdentity struct {
	XboxID   string
	Gamertag string
}
