package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
)

func TestForgotPassword_PostsEmail(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/auth/forgot-password" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["email"] != "user@example.com" {
			t.Fatalf("body = %#v", body)
		}
		return jsonResponse(r, http.StatusOK, `"Email sent"`), nil
	})
	if err := c.ForgotPassword(context.Background(), "user@example.com"); err != nil {
		t.Fatalf("ForgotPassword() error = %v", err)
	}
}

func TestValidateResetToken_SendsQueryAndDecodes(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodGet || r.URL.Path != "/auth/validate-reset-token" {
			t.Fatalf("request = %s %s", r.Method, r.URL.Path)
		}
		if r.URL.Query().Get("token") != "token123" || r.URL.Query().Get("email") != "email@example.com" {
			t.Fatalf("query = %q", r.URL.RawQuery)
		}
		return jsonResponse(r, http.StatusOK, `{"valid":true,"message":"Valid"}`), nil
	})
	status, err := c.ValidateResetToken(context.Background(), "token123", "email@example.com")
	if err != nil {
		t.Fatalf("ValidateResetToken() error = %v", err)
	}
	if !status.Valid || status.Message != "Valid" {
		t.Fatalf("status = %#v", status)
	}
}

func TestValidateResetToken_ErrorBodyReturnedAsStatus(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(r, http.StatusBadRequest, `{"valid":false,"message":"Invalid token"}`), nil
	})
	status, err := c.ValidateResetToken(context.Background(), "bad-token", "email@example.com")
	if err != nil {
		t.Fatalf("ValidateResetToken() error = %v", err)
	}
	if status.Valid || status.Message != "Invalid token" {
		t.Fatalf("status = %#v", status)
	}
}

func TestResetPassword_SendsNewPassword(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["token"] != "token" || body["email"] != "email@example.com" || body["newPassword"] != "newpass" {
			t.Fatalf("body = %#v", body)
		}
		return jsonResponse(r, http.StatusOK, ``), nil
	})
	if err := c.ResetPassword(context.Background(), "token", "email@example.com", "newpass"); err != nil {
		t.Fatalf("ResetPassword() error = %v", err)
	}
}
