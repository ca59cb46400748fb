package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Xbox Live endpoints. Reverse engineered; Microsoft publishes no official
// API documentation for either.
const (
	defaultXboxTokenURL   = "https://user.auth.xboxlive.com/user/authenticate"
	defaultXboxProfileURL = "https://xsts.auth.xboxlive.com/xsts/authorize"
)

// XboxToken is the user token returned by the first leg of the Xbox Live
// chain. A zero value means the upstream declined the request.
type XboxToken struct {
	Value    string
	UserHash string
	IssuedAt time.Time
	NotAfter time.Time
}

// IsZero reports whether no token was obtained.
func (t XboxToken) IsZero() bool {
	return t.Value == ""
}

// XboxProfile carries the profile fields extracted from the XSTS response.
// A zero value means no profile was obtained.
type XboxProfile struct {
	XboxID   string
	Gamertag string
}

// IsZero reports whether no profile was obtained.
func (p XboxProfile) IsZero() bool {
	return p.XboxID == ""
}

// XboxClientConfig bundles configuration for the Xbox Live client.
type XboxClientConfig struct {
	HTTPClient *http.Client
	Logger     *zap.Logger
	// TokenURL and ProfileURL override the production endpoints in tests.
	TokenURL   string
	ProfileURL string
}

// XboxClient performs the two-leg Xbox Live token chain. Both legs treat a
// non-2xx upstream status as "no result" rather than an error; the upstream
// API has no documented error contract to interpret.
type XboxClient struct {
	httpClient *http.Client
	logger     *zap.Logger
	tokenURL   string
	profileURL string
}

// NewXboxClient constructs an Xbox Live client with sane defaults.
func NewXboxClient(cfg XboxClientConfig) *XboxClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tokenURL := strings.TrimSpace(cfg.TokenURL)
	if tokenURL == "" {
		tokenURL = defaultXboxTokenURL
	}
	profileURL := strings.TrimSpace(cfg.ProfileURL)
	if profileURL == "" {
		profileURL = defaultXboxProfileURL
	}
	return &XboxClient{
		httpClient: httpClient,
		logger:     logger,
		tokenURL:   tokenURL,
		profileURL: profileURL,
	}
}

type xboxTokenRequest struct {
	RelyingParty string              `json:"RelyingParty"`
	TokenType    string              `json:"TokenType"`
	Properties   xboxTokenProperties `json:"Properties"`
}

type xboxTokenProperties struct {
	AuthMethod string `json:"AuthMethod"`
	SiteName   string `json:"SiteName"`
	RpsTicket  string `json:"RpsTicket"`
}

type xstsRequest struct {
	RelyingParty string         `json:"RelyingParty"`
	TokenType    string         `json:"TokenType"`
	Properties   xstsProperties `json:"Properties"`
}

type xstsProperties struct {
	UserTokens []string `json:"UserTokens"`
	SandboxID  string   `json:"SandboxId"`
}

type xboxResponse struct {
	Token         string `json:"Token"`
	IssueInstant  string `json:"IssueInstant"`
	NotAfter      string `json:"NotAfter"`
	DisplayClaims struct {
		XUI []map[string]string `json:"xui"`
	} `json:"DisplayClaims"`
}

// FetchUserToken exchanges a Microsoft access token for an Xbox Live user
// token. A non-2xx response yields a zero token and nil error.
func (c *XboxClient) FetchUserToken(ctx context.Context, accessToken string) (XboxToken, error) {
	payload := xboxTokenRequest{
		RelyingParty: "http://auth.xboxlive.com",
		TokenType:    "JWT",
		Properties: xboxTokenProperties{
			AuthMethod: "RPS",
			SiteName:   "user.auth.xboxlive.com",
			RpsTicket:  fmt.Sprintf("d=%s", accessToken),
		},
	}

	var parsed xboxResponse
	ok, err := c.post(ctx, c.tokenURL, payload, &parsed)
	if err != nil {
		return XboxToken{}, err
	}
	if !ok || parsed.Token == "" {
		return XboxToken{}, nil
	}

	token := XboxToken{
		Value:    parsed.Token,
		IssuedAt: parseXboxTime(parsed.IssueInstant),
		NotAfter: parseXboxTime(parsed.NotAfter),
	}
	if len(parsed.DisplayClaims.XUI) > 0 {
		token.UserHash = parsed.DisplayClaims.XUI[0]["uhs"]
	}
	return token, nil
}

// FetchProfile exchanges an Xbox user token for the XSTS profile claims. A
// zero input token or a non-2xx response yields a zero profile and nil error.
func (c *XboxClient) FetchProfile(ctx context.Context, token XboxToken) (XboxProfile, error) {
	if token.IsZero() {
		return XboxProfile{}, nil
	}

	payload := xstsRequest{
		RelyingParty: "http://xboxlive.com",
		TokenType:    "JWT",
		Properties: xstsProperties{
			UserTokens: []string{token.Value},
			SandboxID:  "RETAIL",
		},
	}

	var parsed xboxResponse
	ok, err := c.post(ctx, c.profileURL, payload, &parsed)
	if err != nil {
		return XboxProfile{}, err
	}
	if !ok || len(parsed.DisplayClaims.XUI) == 0 {
		return XboxProfile{}, nil
	}

	claims := parsed.DisplayClaims.XUI[0]
	return XboxProfile{
		XboxID:   claims["xid"],
		Gamertag: claims["gtg"],
	}, nil
}

// post sends a JSON payload and decodes the response, reporting false on any
// non-2xx status. Transport failures are returned as errors.
func (c *XboxClient) post(ctx context.Context, url string, payload, out interface{}) (bool, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	// Content-type must be json for Xbox Live.
	req.Header.Set("Content-type", "application/json")
	req.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrProviderUnreachable, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		c.logger.Debug("xbox endpoint declined request",
			zap.String("url", url),
			zap.Int("status", response.StatusCode))
		return false, nil
	}

	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return false, nil
	}
	return true, nil
}

func parseXboxTime(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
