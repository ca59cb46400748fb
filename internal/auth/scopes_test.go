package auth

import "testing"

func TestHasRequiredScopesIsSubsetCheck(t *testing.T) {
	testCases := []struct {
		name     string
		granted  []string
		required []string
		want     bool
	}{
		{
			name:     "exact match",
			granted:  []string{"openid", "email"},
			required: []string{"openid", "email"},
			want:     true,
		},
		{
			name:     "superset granted",
			granted:  []string{"openid", "email", "profile", "offline_access"},
			required: []string{"openid", "email"},
			want:     true,
		},
		{
			name:     "missing scope",
			granted:  []string{"openid"},
			required: []string{"openid", "email"},
			want:     false,
		},
		{
			name:     "empty required always satisfied",
			granted:  nil,
			required: nil,
			want:     true,
		},
		{
			name:     "empty granted with required",
			granted:  nil,
			required: []string{"openid"},
			want:     false,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			got := HasRequiredScopes(testCase.granted, testCase.required)
			if got != testCase.want {
				t.Fatalf("HasRequiredScopes(%v, %v) = %v, want %v",
					testCase.granted, testCase.required, got, testCase.want)
			}
		})
	}
}

func TestRequiredScopesPerLoginType(t *testing.T) {
	xbox := RequiredScopes(LoginTypeXbox, []string{"ignored"})
	if len(xbox) != 2 || xbox[0] != "XboxLive.signin" || xbox[1] != "XboxLive.offline_access" {
		t.Fatalf("unexpected xbox scope set: %v", xbox)
	}

	microsoft := RequiredScopes(LoginTypeMicrosoft, []string{"User.Read"})
	want := []string{"openid", "email", "User.Read"}
	if len(microsoft) != len(want) {
		t.Fatalf("unexpected microsoft scope set: %v", microsoft)
	}
	for i, scope := range want {
		if microsoft[i] != scope {
			t.Fatalf("unexpected microsoft scope set: %v", microsoft)
		}
	}
}

func TestRequiredScopesDoesNotMutateBaseSets(t *testing.T) {
	first := RequiredScopes(LoginTypeMicrosoft, []string{"a"})
	second := RequiredScopes(LoginTypeMicrosoft, []string{"b"})
	if first[2] != "a" || second[2] != "b" {
		t.Fatalf("scope sets interfered: %v %v", first, second)
	}
}
