package auth

// Login types recognized by the token client. Kept in sync with the config
// package by construction-time validation.
const (
	LoginTypeMicrosoft = "microsoft"
	LoginTypeXbox      = "xbox"
)

var (
	microsoftScopes = []string{"openid", "email"}
	xboxScopes      = []string{"XboxLive.signin", "XboxLive.offline_access"}
)

// RequiredScopes returns the scope set a token grant must carry for the given
// login type. Extra scopes only extend the Microsoft set; the Xbox set is
// fixed by the upstream contract.
func RequiredScopes(loginType string, extraScopes []string) []string {
	if loginType == LoginTypeXbox {
		return append([]string(nil), xboxScopes...)
	}
	required := append([]string(nil), microsoftScopes...)
	return append(required, extraScopes...)
}

// HasRequiredScopes reports whether every required scope was granted. An
// empty required set is always satisfied.
func HasRequiredScopes(granted, required []string) bool {
	grantedSet := make(map[string]struct{}, len(granted))
	for _, scope := range granted {
		grantedSet[scope] = struct{}{}
	}
	for _, scope := range required {
		if _, ok := grantedSet[scope]; !ok {
			return false
		}
	}
	return true
}
