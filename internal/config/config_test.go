package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func setMinimalEntraEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APRICOT_BACKEND", "microsoft_entra")
	t.Setenv("APRICOT_CLIENT_ID", "client-id")
	t.Setenv("APRICOT_CLIENT_SECRET", "client-secret")
	t.Setenv("APRICOT_DOMAIN", "example.com")
	t.Setenv("APRICOT_ENTRA_TENANT_ID", "tenant-id")
}

func TestLoadMinimalEntraConfig(t *testing.T) {
	setMinimalEntraEnv(t)

	cfg := Load()
	assert.Equal(t, "microsoft_entra", cfg.Backend)
	assert.Equal(t, 1389, cfg.Port)
	assert.True(t, cfg.AllowAnonymousBinds)
	assert.True(t, cfg.EnablePrimaryGroups)
	assert.Equal(t, 60, cfg.RefreshIntervalSeconds)
}

func TestLoadAppliesOverrides(t *testing.T) {
	setMinimalEntraEnv(t)
	t.Setenv("APRICOT_PORT", "3890")
	t.Setenv("APRICOT_BACKGROUND_REFRESH", "true")

	cfg := Load()
	assert.Equal(t, 3890, cfg.Port)
	assert.True(t, cfg.BackgroundRefresh)
}

func TestLoadMinimalKeycloakConfig(t *testing.T) {
	t.Setenv("APRICOT_BACKEND", "keycloak")
	t.Setenv("APRICOT_CLIENT_ID", "client-id")
	t.Setenv("APRICOT_CLIENT_SECRET", "client-secret")
	t.Setenv("APRICOT_DOMAIN", "example.com")
	t.Setenv("APRICOT_KEYCLOAK_BASE_URL", "https://keycloak.example.com")
	t.Setenv("APRICOT_KEYCLOAK_REALM", "apricot")

	cfg := Load()
	assert.Equal(t, "keycloak", cfg.Backend)
	assert.Equal(t, "domain", cfg.KeycloakDomainAttribute)
	assert.False(t, cfg.KeycloakWriteBackUIDs)
}

func TestLoadEnablesKeycloakWriteBackUIDs(t *testing.T) {
	t.Setenv("APRICOT_BACKEND", "keycloak")
	t.Setenv("APRICOT_CLIENT_ID", "client-id")
	t.Setenv("APRICOT_CLIENT_SECRET", "client-secret")
	t.Setenv("APRICOT_DOMAIN", "example.com")
	t.Setenv("APRICOT_KEYCLOAK_BASE_URL", "https://keycloak.example.com")
	t.Setenv("APRICOT_KEYCLOAK_REALM", "apricot")
	t.Setenv("APRICOT_KEYCLOAK_WRITE_BACK_UIDS", "true")

	cfg := Load()
	assert.True(t, cfg.KeycloakWriteBackUIDs)
}
