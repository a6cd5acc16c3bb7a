package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Credentials authenticate against the identity service.
type Credentials struct {
	Username string
	Password string
}

// Session carries the identity headers attached to every catalog call.
type Session struct {
	OrgID     string
	SessionID string
	Token     string
}

func (s Session) apply(req *http.Request) {
	if s.OrgID != "" {
		req.Header.Set("X-INFA-ORG-ID", s.OrgID)
	}
	if s.SessionID != "" {
		req.Header.Set("IDS-SESSION-ID", s.SessionID)
	}
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
}

// identityError tolerates both error shapes returned by the identity
// service: an object, or a list of objects.
type identityError struct {
	Message string
}

func (e *identityError) UnmarshalJSON(b []byte) error {
	var one struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(b, &one); err == nil {
		e.Message = one.Message
		return nil
	}
	var many []struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	if len(many) > 0 {
		e.Message = many[0].Message
	}
	return nil
}

type loginResponse struct {
	SessionID string         `json:"sessionId"`
	OrgID     string         `json:"orgId"`
	Error     *identityError `json:"error"`
}

type tokenResponse struct {
	JWT   string         `json:"jwt_token"`
	Error *identityError `json:"error"`
}

// Login authenticates with username and password, then exchanges the
// session for a bearer token.
func Login(ctx context.Context, hc *http.Client, loginURL string, creds Credentials) (Session, error) {
	if creds.Username == "" || creds.Password == "" {
		return Session{}, fmt.Errorf("login: %w: username and password are required", ErrUnauthorized)
	}
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	base := strings.TrimRight(loginURL, "/")

	payload, err := json.Marshal(map[string]string{
		"username": creds.Username,
		"password": creds.Password,
	})
	if err != nil {
		return Session{}, fmt.Errorf("login: %w", err)
	}

	var lr loginResponse
	if err := identityPost(ctx, hc, base+"/identity-service/api/v1/Login", payload, nil, &lr); err != nil {
		return Session{}, fmt.Errorf("login: %w", err)
	}
	if lr.Error != nil {
		return Session{}, fmt.Errorf("login: %w: %s", ErrUnauthorized, lr.Error.Message)
	}
	if lr.SessionID == "" {
		return Session{}, fmt.Errorf("login: %w: no session id returned", ErrUnauthorized)
	}

	headers := map[string]string{
		"Cookie":         "USER_SESSION=" + lr.SessionID,
		"IDS-SESSION-ID": lr.SessionID,
	}
	var tr tokenResponse
	if err := identityPost(ctx, hc, base+"/identity-service/api/v1/jwt/Token?client_id=cdlg_app&nonce=1234", nil, headers, &tr); err != nil {
		return Session{}, fmt.Errorf("token: %w", err)
	}
	if tr.Error != nil {
		return Session{}, fmt.Errorf("token: %w: %s", ErrUnauthorized, tr.Error.Message)
	}
	if tr.JWT == "" {
		return Session{}, fmt.Errorf("token: %w: no token returned", ErrUnauthorized)
	}

	return Session{OrgID: lr.OrgID, SessionID: lr.SessionID, Token: tr.JWT}, nil
}

func identityPost(ctx context.Context, hc *http.Client, u string, payload []byte, headers map[string]string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	// The identity service reports bad credentials with a JSON error body
	// and a non-2xx status; decode first so the message is kept.
	if err := json.Unmarshal(data, out); err != nil {
		if resp.StatusCode >= 300 {
			return &StatusError{Op: "login", Code: resp.StatusCode, Body: truncate(string(data), 256)}
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return &StatusError{Op: "login", Code: resp.StatusCode, Body: truncate(string(data), 256)}
	}
	return nil
}
