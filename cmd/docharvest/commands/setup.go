package commands

import (
	"database/sql"
	"errors"
	"log/slog"
	"os"

	_ "modernc.org/sqlite"

	"docharvest/lib/captcha"
	"docharvest/lib/configutil"
	"docharvest/lib/docstore"
	"docharvest/lib/osutil"
	"docharvest/lib/restyutil"
	"docharvest/lib/scrapers/enervia"
	"docharvest/lib/telemetry"
)

type CaptchaConfig struct {
	BaseUrl string `json:"base_url"`
	ApiKey  string `json:"api_key"`
}

type Config struct {
	Identity string        `json:"identity"`
	Secret   string        `json:"secret"`
	BaseUrl  string        `json:"base_url"`
	Database string        `json:"database"`
	Captcha  CaptchaConfig `json:"captcha"`
	// overrides for the portal's positional login form, defaults are
	// built in
	Slots            *enervia.SlotIndexes `json:"slots"`
	TimeLimitSeconds int                  `json:"time_limit_seconds"`
}

func readConfig() Config {
	cfg, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		osutil.Fatal("failed to read config", err)
	}
	if cfg.BaseUrl == "" {
		cfg.BaseUrl = "https://client.enervia.fr"
	}
	if cfg.Database == "" {
		cfg.Database = "docharvest.db"
	}
	return cfg
}

// setup wires the portal client, the document store and the session
// from the config. The store downloads through the portal client so
// document urls resolve with live session cookies.
func setup(cfg Config) (*enervia.Client, docstore.Store, *enervia.Session, *sql.DB) {
	telemetry.InitSlog(*debugLogs)

	var debug restyutil.InstrumentOutput
	if *debugLogs {
		debug = restyutil.NewFilesystemOutput(".dev/resty/enervia")
	}
	client, err := enervia.NewClient(enervia.ClientOptions{
		BaseUrl: cfg.BaseUrl,
		Debug:   debug,
	})
	if err != nil {
		osutil.Fatal("failed to initialize portal client", err)
	}

	db, err := sql.Open("sqlite", cfg.Database)
	if err != nil {
		osutil.Fatal("failed to open database", err)
	}
	_, err = db.Exec(docstore.Schema)
	if err != nil {
		osutil.Fatal("failed to apply database schema", err)
	}
	store := docstore.NewStore(db, client.Http)

	session := enervia.NewSession(client, enervia.SessionOptions{
		Identity: cfg.Identity,
		Secret:   cfg.Secret,
		Slots:    cfg.Slots,
		Captcha: captcha.NewClient(captcha.ClientOptions{
			BaseUrl: cfg.Captcha.BaseUrl,
			ApiKey:  cfg.Captcha.ApiKey,
		}),
		Store: store,
	})

	return client, store, session, db
}

// exit codes callers branch on: retry, re-prompt for credentials or
// back off
func exitCode(err error) int {
	switch {
	case errors.Is(err, enervia.ErrMissingCredentials):
		return 2
	case errors.Is(err, enervia.ErrLoginFailed):
		return 3
	case errors.Is(err, enervia.ErrTooManyAttempts):
		return 4
	case errors.Is(err, enervia.ErrVendorUnavailable):
		return 5
	default:
		return 1
	}
}

func fatal(message string, err error) {
	slog.Error(message, "err", err.Error())
	os.Exit(exitCode(err))
}
