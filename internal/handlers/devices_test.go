package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/milemoto/backend/internal/models"
	"github.com/pquerna/otp/totp"
)

// trustDevice completes an MFA login with rememberDevice set and returns the
// minted device cookie plus the session's refresh cookie.
func trustDevice(t *testing.T, env *testEnv, email, password, secret string) (*http.Cookie, *http.Cookie) {
	t.Helper()

	challengeID := loginExpectingChallenge(t, env, email, password, true, nil)

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("failed generating TOTP code: %v", err)
	}
	verify := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/mfa/login/verify", map[string]any{
		"challengeId": challengeID,
		"code":        code,
	}, nil)
	assertStatus(t, verify, http.StatusOK)

	return extractCookie(t, verify, "device_token"), extractCookie(t, verify, "refresh_token")
}

func TestTrustedDeviceBypassesMFA(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "trusty@example.com", "Password1!", models.UserRoleUser)
	secret, _ := enableMFA(t, env, token)

	device, _ := trustDevice(t, env, "trusty@example.com", "Password1!", secret)

	// With the device cookie, the password alone logs in.
	login := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login", map[string]any{
		"email":    "trusty@example.com",
		"password": "Password1!",
	}, withCookie(nil, device))
	assertStatus(t, login, http.StatusOK)

	data := dataField(t, decodeJSONMap(t, login))
	if data["accessToken"] == nil {
		t.Fatal("expected direct login on a trusted device")
	}
	if required, _ := data["mfaRequired"].(bool); required {
		t.Fatal("trusted device must bypass the MFA gate")
	}

	// The bypass does not weaken the first factor.
	badPass := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login", map[string]any{
		"email":    "trusty@example.com",
		"password": "wrong",
	}, withCookie(nil, device))
	assertStatus(t, badPass, http.StatusUnauthorized)
}

func TestTrustedDeviceNotMintedWithoutOptIn(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "optout@example.com", "Password1!", models.UserRoleUser)
	secret, _ := enableMFA(t, env, token)

	challengeID := loginExpectingChallenge(t, env, "optout@example.com", "Password1!", false, nil)

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("failed generating TOTP code: %v", err)
	}
	verify := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/mfa/login/verify", map[string]any{
		"challengeId": challengeID,
		"code":        code,
	}, nil)
	assertStatus(t, verify, http.StatusOK)

	if findCookie(verify, "device_token") != nil {
		t.Fatal("device must only be trusted when the login opted in")
	}
}

func TestTrustedDeviceList(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "fleet@example.com", "Password1!", models.UserRoleUser)
	secret, _ := enableMFA(t, env, token)

	first, _ := trustDevice(t, env, "fleet@example.com", "Password1!", secret)
	trustDevice(t, env, "fleet@example.com", "Password1!", secret)

	list := performRequest(t, env.app, http.MethodGet, "/api/security/trusted-devices/", nil, withCookie(authHeaders(token), first))
	assertStatus(t, list, http.StatusOK)

	items, ok := decodeJSONMap(t, list)["data"].([]any)
	if !ok || len(items) != 2 {
		t.Fatalf("expected 2 trusted devices, got %v", items)
	}

	currentFlags := 0
	for _, raw := range items {
		item := raw.(map[string]any)
		if flagged, _ := item["current"].(bool); flagged {
			currentFlags++
		}
	}
	if currentFlags != 1 {
		t.Fatalf("expected exactly one device flagged current, got %d", currentFlags)
	}
}

func TestUntrustCurrentDevice(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "revoke-me@example.com", "Password1!", models.UserRoleUser)
	secret, _ := enableMFA(t, env, token)

	device, refresh := trustDevice(t, env, "revoke-me@example.com", "Password1!", secret)

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/security/trusted-devices/untrust-current", nil, withCookie(authHeaders(token), device))
	assertStatus(t, resp, http.StatusOK)

	// The next login owes a second factor again.
	loginExpectingChallenge(t, env, "revoke-me@example.com", "Password1!", false, withCookie(nil, device))

	// Device trust and sessions are independent: the refresh session survives.
	stillAlive := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/refresh", nil, withCookie(nil, refresh))
	assertStatus(t, stillAlive, http.StatusOK)
}

func TestRevokeDeviceByID(t *testing.T) {
	env := setupTestEnv(t)
	user, token := createTestUser(t, env.db, "byid@example.com", "Password1!", models.UserRoleUser)
	secret, _ := enableMFA(t, env, token)

	device, _ := trustDevice(t, env, "byid@example.com", "Password1!", secret)

	var row models.TrustedDevice
	if err := env.db.First(&row, "user_id = ?", user.ID).Error; err != nil {
		t.Fatalf("failed loading trusted device: %v", err)
	}

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/security/trusted-devices/"+row.ID.String()+"/revoke", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)

	loginExpectingChallenge(t, env, "byid@example.com", "Password1!", false, withCookie(nil, device))

	// Revoking an already-revoked device is a 404.
	again := performJSONRequest(t, env.app, http.MethodPost, "/api/security/trusted-devices/"+row.ID.String()+"/revoke", nil, authHeaders(token))
	assertStatus(t, again, http.StatusNotFound)
}

func TestRevokeDeviceOwnershipEnforced(t *testing.T) {
	env := setupTestEnv(t)
	owner, ownerToken := createTestUser(t, env.db, "owner@example.com", "Password1!", models.UserRoleUser)
	_, otherToken := createTestUser(t, env.db, "other@example.com", "Password1!", models.UserRoleUser)
	secret, _ := enableMFA(t, env, ownerToken)
	trustDevice(t, env, "owner@example.com", "Password1!", secret)

	var row models.TrustedDevice
	if err := env.db.First(&row, "user_id = ?", owner.ID).Error; err != nil {
		t.Fatalf("failed loading trusted device: %v", err)
	}

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/security/trusted-devices/"+row.ID.String()+"/revoke", nil, authHeaders(otherToken))
	assertStatus(t, resp, http.StatusNotFound)
}

func TestRevokeAllDevices(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, env.db, "wipe@example.com", "Password1!", models.UserRoleUser)
	secret, _ := enableMFA(t, env, token)

	first, _ := trustDevice(t, env, "wipe@example.com", "Password1!", secret)
	second, _ := trustDevice(t, env, "wipe@example.com", "Password1!", secret)

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/security/trusted-devices/revoke-all", nil, authHeaders(token))
	assertStatus(t, resp, http.StatusOK)

	loginExpectingChallenge(t, env, "wipe@example.com", "Password1!", false, withCookie(nil, first))
	loginExpectingChallenge(t, env, "wipe@example.com", "Password1!", false, withCookie(nil, second))
}
