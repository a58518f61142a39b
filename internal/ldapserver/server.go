// Package ldapserver implements the read-only LDAP v3 protocol front end
// on top of github.com/vjeantet/ldapserver and github.com/lor00x/goldap/message.
package ldapserver

import (
	"crypto/tls"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/sapcc/go-bits/logg"
	ldap "github.com/vjeantet/ldapserver"

	"github.com/apricot-ldap/apricot/internal/core"
	"github.com/apricot-ldap/apricot/internal/idp"
	"github.com/apricot-ldap/apricot/internal/refresh"
)

// Config holds the listener-facing settings.
type Config struct {
	RootDN              string
	Port                int
	TLSPort             int
	TLSCertificatePath  string
	TLSPrivateKeyPath   string
	AllowAnonymousBinds bool
}

// Server is the read-only LDAP front end: one plaintext listener, and one
// optional TLS listener, both serving requests off the same shared
// Directory tree.
type Server struct {
	cfg    Config
	tree   *core.Tree
	engine *refresh.Engine
	client idp.Client

	plain  *ldap.Server
	tlsSrv *ldap.Server
	cert   atomic.Pointer[tls.Certificate]

	pagingMu      sync.Mutex
	pagingOffsets map[string]int
}

// NewServer builds a Server bound to tree, engine, and client. cfg.Port is
// always opened; a TLS listener on cfg.TLSPort is opened only if both a
// certificate and private key path are configured.
func NewServer(cfg Config, tree *core.Tree, engine *refresh.Engine, client idp.Client) *Server {
	return &Server{
		cfg:           cfg,
		tree:          tree,
		engine:        engine,
		client:        client,
		pagingOffsets: make(map[string]int),
	}
}

func (s *Server) routeMux() *ldap.RouteMux {
	mux := ldap.NewRouteMux()
	mux.Bind(s.handleBind)
	mux.Search(s.handleSearch)
	mux.Compare(s.handleCompare)
	mux.Extended(s.handleExtended)
	mux.Add(s.handleReject)
	mux.Delete(s.handleReject)
	mux.Modify(s.handleReject)
	mux.NotFound(s.handleReject)
	return mux
}

// Start opens the configured listeners. It blocks until the first of them
// returns (normally only on Stop or a fatal accept error) and returns that
// listener's error, or returns early if the TLS listener cannot be set
// up. Missing certificate OR
// missing private key when TLS is requested is fatal at startup (spec
// §4.8).
func (s *Server) Start() error {
	hasCert := s.cfg.TLSCertificatePath != ""
	hasKey := s.cfg.TLSPrivateKeyPath != ""
	if hasCert != hasKey {
		logg.Fatal("ldap: tls_certificate_path and tls_private_key_path must both be set, or neither")
	}

	s.plain = ldap.NewServer()
	s.plain.Handle(s.routeMux())

	errs := make(chan error, 2)
	go func() {
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		logg.Info("ldap: listening on %s", addr)
		errs <- s.plain.ListenAndServe(addr)
	}()

	if hasCert && hasKey {
		if err := s.reloadCertificate(); err != nil {
			return fmt.Errorf("loading tls material: %w", err)
		}
		s.watchTLSMaterial()

		listener, err := tls.Listen("tcp", fmt.Sprintf(":%d", s.cfg.TLSPort), &tls.Config{
			GetCertificate: s.getCertificate,
		})
		if err != nil {
			return fmt.Errorf("opening tls listener: %w", err)
		}

		s.tlsSrv = ldap.NewServer()
		s.tlsSrv.Handle(s.routeMux())
		go func() {
			logg.Info("ldap: listening (tls) on %s", listener.Addr())
			errs <- s.tlsSrv.Serve(listener)
		}()
	}

	return <-errs
}

// Stop shuts down every listener.
func (s *Server) Stop() {
	if s.plain != nil {
		s.plain.Stop()
	}
	if s.tlsSrv != nil {
		s.tlsSrv.Stop()
	}
}

func (s *Server) getCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return s.cert.Load(), nil
}

func (s *Server) reloadCertificate() error {
	cert, err := tls.LoadX509KeyPair(s.cfg.TLSCertificatePath, s.cfg.TLSPrivateKeyPath)
	if err != nil {
		return err
	}
	s.cert.Store(&cert)
	return nil
}

// watchTLSMaterial watches the certificate and key files for changes
// (e.g. a certbot renewal) and swaps in the refreshed certificate without
// a restart. Because tls.Config.GetCertificate consults s.cert on every
// handshake, no listener restart is needed.
func (s *Server) watchTLSMaterial() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logg.Error("ldap: could not watch tls material for changes: %s", err)
		return
	}
	for _, path := range []string{s.cfg.TLSCertificatePath, s.cfg.TLSPrivateKeyPath} {
		if err := watcher.Add(path); err != nil {
			logg.Error("ldap: could not watch %s: %s", path, err)
		}
	}

	go func() {
		for event := range watcher.Events {
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			logg.Info("ldap: tls material changed (%s), reloading", event.Name)
			if err := s.reloadCertificate(); err != nil {
				logg.Error("ldap: failed to reload tls material: %s", err)
			}
		}
	}()
}
