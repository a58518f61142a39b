// Package config loads Apricot's startup configuration from environment
// variables, validated with a struct-tag validator.
package config

import (
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/sapcc/go-bits/logg"
)

// Config is the fully-resolved, validated startup configuration.
type Config struct {
	Backend      string `validate:"required,oneof=microsoft_entra keycloak"`
	ClientID     string `validate:"required"`
	ClientSecret string `validate:"required"`
	Domain       string `validate:"required"`
	Port         int    `validate:"required,min=1,max=65535"`

	AllowAnonymousBinds          bool
	EnablePrimaryGroups          bool
	EnableMirroredGroups         bool
	EnableUserDomainVerification bool

	BackgroundRefresh      bool
	RefreshIntervalSeconds int `validate:"min=1"`

	TLSPort              int `validate:"min=1,max=65535"`
	TLSCertificatePath   string
	TLSPrivateKeyPath    string

	EntraTenantID string `validate:"required_if=Backend microsoft_entra"`

	KeycloakBaseURL         string `validate:"required_if=Backend keycloak"`
	KeycloakRealm           string `validate:"required_if=Backend keycloak"`
	KeycloakDomainAttribute string
	KeycloakWriteBackUIDs   bool

	RedisHost string
	RedisPort int
}

// envDefaults lists every environment key Apricot reads, with its default
// (empty string means "no default, required unless otherwise handled
// below").
var envDefaults = map[string]string{
	"APRICOT_BACKEND":                         "",
	"APRICOT_CLIENT_ID":                       "",
	"APRICOT_CLIENT_SECRET":                   "",
	"APRICOT_DOMAIN":                          "",
	"APRICOT_PORT":                            "1389",
	"APRICOT_ALLOW_ANONYMOUS_BINDS":           "true",
	"APRICOT_ENABLE_PRIMARY_GROUPS":           "true",
	"APRICOT_ENABLE_MIRRORED_GROUPS":          "true",
	"APRICOT_ENABLE_USER_DOMAIN_VERIFICATION": "true",
	"APRICOT_BACKGROUND_REFRESH":              "false",
	"APRICOT_REFRESH_INTERVAL_SECONDS":        "60",
	"APRICOT_TLS_PORT":                        "1636",
	"APRICOT_TLS_CERTIFICATE_PATH":            "",
	"APRICOT_TLS_PRIVATE_KEY_PATH":            "",
	"APRICOT_ENTRA_TENANT_ID":                 "",
	"APRICOT_KEYCLOAK_BASE_URL":               "",
	"APRICOT_KEYCLOAK_REALM":                  "",
	"APRICOT_KEYCLOAK_DOMAIN_ATTRIBUTE":       "domain",
	"APRICOT_KEYCLOAK_WRITE_BACK_UIDS":        "false",
	"APRICOT_REDIS_HOST":                      "",
	"APRICOT_REDIS_PORT":                      "0",
}

func getenv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		value = envDefaults[key]
	}
	return value
}

func getenvBool(key string) bool {
	value, err := strconv.ParseBool(getenv(key))
	if err != nil {
		logg.Fatal("malformed environment variable: %s must be true or false", key)
	}
	return value
}

func getenvInt(key string) int {
	raw := getenv(key)
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		logg.Fatal("malformed environment variable: %s must be an integer", key)
	}
	return value
}

// Load reads and validates Apricot's configuration from the environment.
// Any validation failure is fatal at startup.
func Load() Config {
	cfg := Config{
		Backend:      getenv("APRICOT_BACKEND"),
		ClientID:     getenv("APRICOT_CLIENT_ID"),
		ClientSecret: getenv("APRICOT_CLIENT_SECRET"),
		Domain:       getenv("APRICOT_DOMAIN"),
		Port:         getenvInt("APRICOT_PORT"),

		AllowAnonymousBinds:          getenvBool("APRICOT_ALLOW_ANONYMOUS_BINDS"),
		EnablePrimaryGroups:          getenvBool("APRICOT_ENABLE_PRIMARY_GROUPS"),
		EnableMirroredGroups:         getenvBool("APRICOT_ENABLE_MIRRORED_GROUPS"),
		EnableUserDomainVerification: getenvBool("APRICOT_ENABLE_USER_DOMAIN_VERIFICATION"),

		BackgroundRefresh:      getenvBool("APRICOT_BACKGROUND_REFRESH"),
		RefreshIntervalSeconds: getenvInt("APRICOT_REFRESH_INTERVAL_SECONDS"),

		TLSPort:            getenvInt("APRICOT_TLS_PORT"),
		TLSCertificatePath: getenv("APRICOT_TLS_CERTIFICATE_PATH"),
		TLSPrivateKeyPath:  getenv("APRICOT_TLS_PRIVATE_KEY_PATH"),

		EntraTenantID: getenv("APRICOT_ENTRA_TENANT_ID"),

		KeycloakBaseURL:         getenv("APRICOT_KEYCLOAK_BASE_URL"),
		KeycloakRealm:           getenv("APRICOT_KEYCLOAK_REALM"),
		KeycloakDomainAttribute: getenv("APRICOT_KEYCLOAK_DOMAIN_ATTRIBUTE"),
		KeycloakWriteBackUIDs:   getenvBool("APRICOT_KEYCLOAK_WRITE_BACK_UIDS"),

		RedisHost: getenv("APRICOT_REDIS_HOST"),
		RedisPort: getenvInt("APRICOT_REDIS_PORT"),
	}

	if (cfg.TLSCertificatePath == "") != (cfg.TLSPrivateKeyPath == "") {
		logg.Fatal("APRICOT_TLS_CERTIFICATE_PATH and APRICOT_TLS_PRIVATE_KEY_PATH must both be set, or neither")
	}

	if err := validator.New().Struct(cfg); err != nil {
		logg.Fatal("invalid configuration: %s", err.Error())
	}

	return cfg
}
