package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
)

type ResetTokenStatus struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	_, err := c.do(ctx, request{
		method: http.MethodPost,
		url:    c.endpoints.ForgotPasswordURL,
		body:   map[string]string{"email": email},
		op:     "forgot password",
	})
	return err
}

// ValidateResetToken reports whether a password-reset token is usable. A
// rejection that carries a {valid, message} body is returned as a status,
// not an error.
func (c *Client) ValidateResetToken(ctx context.Context, token string, email string) (ResetTokenStatus, error) {
	query := url.Values{}
	query.Set("token", token)
	query.Set("email", email)
	data, err := c.do(ctx, request{
		method: http.MethodGet,
		url:    c.endpoints.ValidateResetURL + "?" + query.Encode(),
		op:     "validate reset token",
	})

	status := ResetTokenStatus{}
	if err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) && apiErr.Status != 0 && len(data) > 0 {
			if json.Unmarshal(data, &status) == nil && status.Message != "" {
				return status, nil
			}
		}
		return ResetTokenStatus{}, err
	}
	if err := decodeJSON("validate reset token", data, &status); err != nil {
		return ResetTokenStatus{}, err
	}
	return status, nil
}

func (c *Client) ResetPassword(ctx context.Context, token string, email string, newPassword string) error {
	_, err := c.do(ctx, request{
		method: http.MethodPost,
		url:    c.endpoints.ResetPasswordURL,
		body: map[string]string{
			"token":       token,
			"email":       email,
			"newPassword": newPassword,
		},
		op: "reset password",
	})
	return err
}
