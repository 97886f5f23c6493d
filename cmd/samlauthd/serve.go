package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/sitecraft/samlauth"
	"github.com/sitecraft/samlauth/handler"
	"github.com/sitecraft/samlauth/session"
	"github.com/sitecraft/samlauth/store/memory"
	"github.com/sitecraft/samlauth/store/postgres"
)

type serveConfig struct {
	Listen      string
	BaseURL     string
	DatabaseURL string
	SessionKey  string
	LogLevel    string

	IdPEntityID string
	IdPSSOURL   string
	IdPSLOURL   string
	IdPCertFile string

	FirstNameAttr     string
	LastNameAttr      string
	GroupAttr         string
	DefaultRole       string
	CustomMappings    []string
	AllowRegistration bool
	InsecureCookie    bool
}

func init() {
	rootCmd.AddCommand(newServeCommand())
}

func newServeCommand() *cobra.Command {
	cfg := serveConfig{
		Listen:   ":8080",
		LogLevel: "info",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the SP authentication endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cfg)
		},
	}

	f := serveCmd.Flags()
	f.StringVar(&cfg.Listen, "listen", cfg.Listen, "Address to listen on.")
	f.StringVar(&cfg.BaseURL, "base-url", "", "Absolute base URL of this site; SP endpoint URLs are derived from it.")
	f.StringVar(&cfg.DatabaseURL, "database-url", "", "PostgreSQL connection URL. Empty runs the in-memory store. Can also be set via SAMLAUTHD_DATABASE_URL.")
	f.StringVar(&cfg.SessionKey, "session-key", "", "Session cookie signing key. Can also be set via SAMLAUTHD_SESSION_KEY.")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: trace, debug, info, warn, error.")

	f.StringVar(&cfg.IdPEntityID, "idp-entity-id", "", "IdP entity ID.")
	f.StringVar(&cfg.IdPSSOURL, "idp-sso-url", "", "IdP single sign-on URL.")
	f.StringVar(&cfg.IdPSLOURL, "idp-slo-url", "", "IdP single logout URL (optional).")
	f.StringVar(&cfg.IdPCertFile, "idp-cert-file", "", "Path to the IdP's PEM encoded signing certificate.")

	f.StringVar(&cfg.FirstNameAttr, "first-name-attr", "", "IdP attribute mapped to the first name field.")
	f.StringVar(&cfg.LastNameAttr, "last-name-attr", "", "IdP attribute mapped to the last name field.")
	f.StringVar(&cfg.GroupAttr, "group-attr", "", "IdP attribute carrying the user's group.")
	f.StringVar(&cfg.DefaultRole, "default-role", "", "Role assigned to every new account; overrides group-derived roles.")
	f.StringArrayVar(&cfg.CustomMappings, "map", nil, "Custom attribute mapping as idpAttribute=localField. Repeatable.")
	f.BoolVar(&cfg.AllowRegistration, "allow-registration", false, "Provision accounts for unknown subjects.")
	f.BoolVar(&cfg.InsecureCookie, "insecure-cookie", false, "Drop the Secure cookie attribute for plain-HTTP development.")

	return serveCmd
}

func runServe(cfg serveConfig) error {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "samlauthd",
		Level: hclog.LevelFromString(cfg.LogLevel),
	})

	provider, err := buildConfig(cfg)
	if err != nil {
		return err
	}

	sessionKey := cfg.SessionKey
	if sessionKey == "" {
		sessionKey = strings.TrimSpace(os.Getenv("SAMLAUTHD_SESSION_KEY"))
	}
	if sessionKey == "" {
		return fmt.Errorf("missing session key: set --session-key or SAMLAUTHD_SESSION_KEY")
	}
	sessionOpts := []session.Option{}
	if cfg.InsecureCookie {
		sessionOpts = append(sessionOpts, session.WithInsecureCookie())
	}
	sessions, err := session.NewCookieManager([]byte(sessionKey), sessionOpts...)
	if err != nil {
		return err
	}

	var store samlauth.IdentityStore
	databaseURL := cfg.DatabaseURL
	if databaseURL == "" {
		databaseURL = strings.TrimSpace(os.Getenv("SAMLAUTHD_DATABASE_URL"))
	}
	if databaseURL != "" {
		pg, err := postgres.Open(rootCmd.Context(), databaseURL)
		if err != nil {
			return err
		}
		defer pg.Close()
		store = pg
		logger.Info("using postgres identity store")
	} else {
		store = memory.New()
		logger.Warn("using in-memory identity store; accounts do not survive restarts")
	}

	svc, err := samlauth.NewService(provider, store, sessions, samlauth.WithLogger(logger))
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Get(samlauth.LoginPath, handler.LoginHandlerFunc(svc))
	r.Post(samlauth.ACSPath, handler.ACSHandlerFunc(svc))
	r.HandleFunc(samlauth.SLSPath, handler.SLSHandlerFunc(svc))
	r.Get(samlauth.MetadataPath, handler.MetadataHandlerFunc(svc))
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		if acct, err := sessions.Current(r); err == nil {
			fmt.Fprintf(w, "signed in as %s\n", acct.Email)
			return
		}
		fmt.Fprintf(w, "not signed in; visit %s\n", samlauth.LoginPath)
	})

	logger.Info("listening", "addr", cfg.Listen)
	return http.ListenAndServe(cfg.Listen, r)
}

func buildConfig(cfg serveConfig) (*samlauth.StaticConfig, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing --base-url: %w", err)
	}
	sp, err := samlauth.NewSPConfig(base)
	if err != nil {
		return nil, err
	}

	ssoURL, err := url.Parse(cfg.IdPSSOURL)
	if err != nil {
		return nil, fmt.Errorf("parsing --idp-sso-url: %w", err)
	}
	idp := &samlauth.IdPConfig{
		EntityID: cfg.IdPEntityID,
		SSOURL:   ssoURL,
	}
	if cfg.IdPSLOURL != "" {
		sloURL, err := url.Parse(cfg.IdPSLOURL)
		if err != nil {
			return nil, fmt.Errorf("parsing --idp-slo-url: %w", err)
		}
		idp.SLOURL = sloURL
	}
	if cfg.IdPCertFile != "" {
		pem, err := os.ReadFile(cfg.IdPCertFile)
		if err != nil {
			return nil, fmt.Errorf("reading --idp-cert-file: %w", err)
		}
		idp.SigningCertificate = string(pem)
	}
	if err := idp.Validate(); err != nil {
		return nil, err
	}

	rules := samlauth.AttributeRules{
		FirstName:   cfg.FirstNameAttr,
		LastName:    cfg.LastNameAttr,
		Group:       cfg.GroupAttr,
		DefaultRole: cfg.DefaultRole,
	}
	for _, m := range cfg.CustomMappings {
		attr, field, ok := strings.Cut(m, "=")
		if !ok || attr == "" || field == "" {
			return nil, fmt.Errorf("invalid --map %q: expected idpAttribute=localField", m)
		}
		rules.Custom = append(rules.Custom, samlauth.CustomMapping{IdPAttribute: attr, LocalField: field})
	}

	return &samlauth.StaticConfig{
		SP:     sp,
		IdP:    idp,
		Rules:  rules,
		Policy: samlauth.RegistrationPolicy{AllowAutoRegistration: cfg.AllowRegistration},
	}, nil
}
