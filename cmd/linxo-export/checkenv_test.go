package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/mikey/linxo-exporter/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validToken = `{"token":"ya29","refresh_token":"1//r","token_uri":"https://oauth2.googleapis.com/token","client_id":"id","client_secret":"s"}`

func checksByName(checks []envCheck) map[string]envCheck {
	m := make(map[string]envCheck, len(checks))
	for _, c := range checks {
		m[c.Name] = c
	}
	return m
}

func TestCheckEnvironmentAllSet(t *testing.T) {
	v := config.NewEmptyViper()
	v.Set("linxo.email", "user@example.com")
	v.Set("linxo.password", "pw")
	v.Set("server.api_key", "key")
	v.Set("gmail.token_json", validToken)
	v.Set("delivery.webhook.url", "https://hooks.example.com/csv")

	checks := checksByName(checkEnvironment(config.NewFromViper(v)))
	for name, c := range checks {
		assert.True(t, c.OK, "%s: %s", name, c.Detail)
	}
	assert.Contains(t, checks, "GMAIL_TOKEN_JSON")
	assert.Contains(t, checks, "WEBHOOK_URL")
}

func TestCheckEnvironmentReportsMissingValues(t *testing.T) {
	v := config.NewEmptyViper()
	v.Set("gmail.token_json", `{"token":"ya29","client_id":"id"}`)

	checks := checkEnvironment(config.NewFromViper(v))
	byName := checksByName(checks)

	assert.False(t, byName["LINXO_EMAIL"].OK)
	assert.False(t, byName["API_KEY"].OK)
	assert.False(t, byName["portal configuration"].OK)
	assert.Equal(t, "missing fields: client_secret, refresh_token, token_uri", byName["GMAIL_TOKEN_JSON"].Detail)

	var out bytes.Buffer
	failed := printChecks(&out, checks)
	assert.Greater(t, failed, 3)
	assert.Contains(t, out.String(), "[FAIL] LINXO_EMAIL: not set")
	assert.NotContains(t, out.String(), "ya29")
}

func TestCheckEnvironmentGmailTokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte(validToken), 0600))

	v := config.NewEmptyViper()
	v.Set("gmail.token_file", path)
	check := checkGmail(config.NewFromViper(v).GetGmail())
	assert.True(t, check.OK, check.Detail)

	v.Set("gmail.token_file", filepath.Join(t.TempDir(), "absent.json"))
	check = checkGmail(config.NewFromViper(v).GetGmail())
	assert.False(t, check.OK)
	assert.Contains(t, check.Detail, "unreadable")

	v.Set("gmail.token_json", "not json")
	check = checkGmail(config.NewFromViper(v).GetGmail())
	assert.False(t, check.OK)
	assert.Contains(t, check.Detail, "not valid JSON")
}

func TestCheckEnvironmentIMAP(t *testing.T) {
	v := config.NewEmptyViper()
	v.Set("mailbox.type", "imap")
	v.Set("imap.host", "imap.example.com")

	byName := checksByName(checkEnvironment(config.NewFromViper(v)))
	require.Contains(t, byName, "IMAP mailbox")
	assert.False(t, byName["IMAP mailbox"].OK)
	assert.NotContains(t, byName, "GMAIL_TOKEN_JSON")
}
