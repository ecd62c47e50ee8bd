package app

import (
	"net/http"
	"time"

	"tableside/pkg/logging"
)

// userinfoValidator checks bearer tokens against the authorization server's
// userinfo endpoint. A 200 response means the token is live.
type userinfoValidator struct {
	endpoint   string
	httpClient *http.Client
}

func newUserinfoValidator(endpoint string) *userinfoValidator {
	return &userinfoValidator{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// ValidateToken implements backend.TokenValidator.
func (v *userinfoValidator) ValidateToken(token string) bool {
	req, err := http.NewRequest(http.MethodGet, v.endpoint, nil)
	if err != nil {
		logging.Error("app", err, "Failed to build userinfo request")
		return false
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		logging.Error("app", err, "Userinfo request failed")
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
