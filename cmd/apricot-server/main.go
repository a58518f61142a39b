package main

import (
	"context"
	"os"
	"time"

	"github.com/sapcc/go-bits/logg"

	"github.com/apricot-ldap/apricot/internal/config"
	"github.com/apricot-ldap/apricot/internal/core"
	"github.com/apricot-ldap/apricot/internal/idp"
	"github.com/apricot-ldap/apricot/internal/ldapserver"
	"github.com/apricot-ldap/apricot/internal/refresh"
)

func main() {
	logg.ShowDebug = os.Getenv("APRICOT_DEBUG") == "true"

	cfg := config.Load()
	client := newIdPClient(cfg)
	allocator := newAllocator(cfg)

	adaptorCfg := core.AdaptorConfig{
		RootDN:                       core.RootDN(cfg.Domain),
		Domain:                       cfg.Domain,
		EnablePrimaryGroups:          cfg.EnablePrimaryGroups,
		EnableMirroredGroups:         cfg.EnableMirroredGroups,
		EnableUserDomainVerification: cfg.EnableUserDomainVerification,
	}

	mode := refresh.OnDemand
	if cfg.BackgroundRefresh {
		mode = refresh.Background
	}
	interval := refresh.DefaultInterval
	if cfg.RefreshIntervalSeconds > 0 {
		interval = time.Duration(cfg.RefreshIntervalSeconds) * time.Second
	}

	tree := core.NewTree()
	engine := refresh.NewEngine(tree, client, allocator, adaptorCfg, mode, interval)
	ctx := context.Background()

	if mode == refresh.Background {
		if err := engine.Rebuild(ctx); err != nil {
			logg.Fatal("initial directory build failed: %s", err.Error())
		}
		go engine.RunBackground(ctx)
	}

	server := ldapserver.NewServer(ldapserver.Config{
		RootDN:              adaptorCfg.RootDN,
		Port:                cfg.Port,
		TLSPort:             cfg.TLSPort,
		TLSCertificatePath:  cfg.TLSCertificatePath,
		TLSPrivateKeyPath:   cfg.TLSPrivateKeyPath,
		AllowAnonymousBinds: cfg.AllowAnonymousBinds,
	}, tree, engine, client)

	logg.Fatal(server.Start().Error())
}

func newIdPClient(cfg config.Config) idp.Client {
	switch cfg.Backend {
	case "microsoft_entra":
		return idp.NewEntraClient(idp.EntraConfig{
			TenantID:     cfg.EntraTenantID,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
		})
	case "keycloak":
		return idp.NewKeycloakClient(idp.KeycloakConfig{
			BaseURL:                cfg.KeycloakBaseURL,
			Realm:                  cfg.KeycloakRealm,
			ClientID:               cfg.ClientID,
			ClientSecret:           cfg.ClientSecret,
			DomainAttribute:        cfg.KeycloakDomainAttribute,
			WriteBackAllocatedUIDs: cfg.KeycloakWriteBackUIDs,
		})
	default:
		logg.Fatal("unsupported backend: %s", cfg.Backend)
		return nil
	}
}

func newAllocator(cfg config.Config) core.Allocator {
	if cfg.RedisHost == "" {
		return core.NewMemoryAllocator()
	}
	return core.NewRedisAllocator(cfg.RedisHost, cfg.RedisPort)
}
