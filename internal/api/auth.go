package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"marketplace-client/internal/logging"
)

type Registration struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Password  string `json:"password"`
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// tokenResponse accepts both field names the auth service has used for the
// access token.
type tokenResponse struct {
	AccessToken string `json:"accessToken"`
	Token       string `json:"token"`
}

func (t tokenResponse) value() string {
	if token := strings.TrimSpace(t.AccessToken); token != "" {
		return token
	}
	return strings.TrimSpace(t.Token)
}

func (c *Client) Login(ctx context.Context, email string, password string) (string, error) {
	c.logger.Debug("requesting access token", logging.Field("email", email))
	data, err := c.do(ctx, request{
		method: http.MethodPost,
		url:    c.endpoints.LoginURL,
		body:   credentials{Email: email, Password: password},
		op:     "login",
	})
	if err != nil {
		if KindOf(err) == KindAuth {
			return "", withMessage(err, "Invalid email or password", ErrInvalidCredentials)
		}
		return "", err
	}
	return c.decodeToken("login", data)
}

func (c *Client) Register(ctx context.Context, reg Registration) (string, error) {
	c.logger.Debug("registering account", logging.Field("email", reg.Email))
	data, err := c.do(ctx, request{
		method: http.MethodPost,
		url:    c.endpoints.RegisterURL,
		body:   reg,
		op:     "register",
	})
	if err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
			return "", withMessage(err, "Email already in use", ErrEmailInUse)
		}
		return "", withMessage(err, "Registration failed", nil)
	}
	return c.decodeToken("register", data)
}

// Refresh exchanges the refresh cookie held by the HTTP client's jar for a new
// access token. The expired access token is deliberately not sent.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	data, err := c.do(ctx, request{
		method: http.MethodPost,
		url:    c.endpoints.RefreshURL,
		body:   struct{}{},
		op:     "refresh",
	})
	if err != nil {
		return "", err
	}
	return c.decodeToken("refresh", data)
}

func (c *Client) Logout(ctx context.Context, accessToken string) error {
	_, err := c.do(ctx, request{
		method:      http.MethodPost,
		url:         c.endpoints.LogoutURL,
		bearerToken: accessToken,
		body:        struct{}{},
		op:          "logout",
	})
	return err
}

// Username resolves the broker-facing user name for the bearer token. The
// service answers with plain text, a JSON string, or {"username": "..."}.
func (c *Client) Username(ctx context.Context, accessToken string) (string, error) {
	if strings.TrimSpace(accessToken) == "" {
		return "", &Error{Kind: KindAuth, Status: http.StatusUnauthorized, Message: "missing access token"}
	}
	data, err := c.do(ctx, request{
		method:      http.MethodGet,
		url:         c.endpoints.UsernameURL,
		bearerToken: accessToken,
		op:          "username",
	})
	if err != nil {
		return "", err
	}
	username := parseUsername(data)
	if username == "" {
		return "", &Error{Kind: KindTransport, Message: "empty username response"}
	}
	return username, nil
}

func parseUsername(data []byte) string {
	var wrapped struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil {
		return strings.TrimSpace(wrapped.Username)
	}
	var quoted string
	if err := json.Unmarshal(data, &quoted); err == nil {
		return strings.TrimSpace(quoted)
	}
	return strings.TrimSpace(string(data))
}

func (c *Client) decodeToken(op string, data []byte) (string, error) {
	var resp tokenResponse
	if err := decodeJSON(op, data, &resp); err != nil {
		return "", err
	}
	token := resp.value()
	if token == "" {
		return "", &Error{Kind: KindTransport, Message: "missing access token in " + op + " response"}
	}
	c.logger.Debug(op+" succeeded", logging.Token("token", token))
	return token, nil
}
