package enervia

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.opentelemetry.io/otel/codes"

	"docharvest/lib/captcha"
	"docharvest/lib/htmlutil"
	"docharvest/lib/nettap"
)

const (
	ssoCookieName = "ssoToken"
	localeCookie  = "fr_FR"
	// fixed literal the portal expects in the last filled callback slot
	originLiteral = "web"
	sessionName   = "enervia"
)

// SlotIndexes maps the portal's positional login callback slots to
// their roles. The vendor's form is positional; keeping the indices in
// one resolved-once structure means a vendor-side reordering is a
// configuration change, not a code hunt.
type SlotIndexes struct {
	Identity     int `json:"identity"`
	Secret       int `json:"secret"`
	CaptchaToken int `json:"captcha_token"`
	Origin       int `json:"origin"`
	// output slot carrying the recaptcha site key
	CaptchaKey int `json:"captcha_key"`
}

var DefaultSlotIndexes = SlotIndexes{
	Identity:     0,
	Secret:       1,
	CaptchaToken: 2,
	Origin:       3,
	CaptchaKey:   4,
}

// SessionStore persists cookie state across runs.
type SessionStore interface {
	SaveSession(ctx context.Context, name string, cookies []*http.Cookie) error
	LoadSession(ctx context.Context, name string) ([]*http.Cookie, error)
}

type SessionOptions struct {
	Identity string
	Secret   string
	// nil means DefaultSlotIndexes
	Slots   *SlotIndexes
	Captcha captcha.Solver
	// optional; enables session reuse across runs
	Store SessionStore
}

// Session owns the login/captcha/validate lifecycle of the portal
// client. It installs a traffic tap on the client so silent
// re-authentication redirects during in-page navigation are observed
// instead of inferred from response bodies.
type Session struct {
	client    *Client
	opts      SessionOptions
	slots     SlotIndexes
	tap       *nettap.Tap
	ssoEvents <-chan nettap.Event
	validated bool
}

func NewSession(client *Client, opts SessionOptions) *Session {
	slots := DefaultSlotIndexes
	if opts.Slots != nil {
		slots = *opts.Slots
	}

	tap := nettap.New(nettap.HTTPClientPage(client.Http.GetClient()), []nettap.Rule{
		{Label: "sso-redirect", URL: "/sso/XUI", Method: "GET", Mode: nettap.ModeText},
	})
	tap.Install()

	return &Session{
		client:    client,
		opts:      opts,
		slots:     slots,
		tap:       tap,
		ssoEvents: tap.Subscribe(),
	}
}

// Close detaches the traffic tap, restoring the client's original
// transport.
func (s *Session) Close() {
	s.tap.Restore()
}

func (s *Session) Validated() bool {
	return s.validated
}

// Resume tries to restore a previous run's cookies and validate them.
// Returns false when there is nothing to resume or the session died.
func (s *Session) Resume(ctx context.Context) bool {
	if s.opts.Store == nil {
		return false
	}
	cookies, err := s.opts.Store.LoadSession(ctx, sessionName)
	if err != nil {
		slog.WarnContext(ctx, "failed to load saved session", "err", err)
		return false
	}
	if len(cookies) == 0 {
		return false
	}
	s.client.SetCookies(cookies)
	return s.Validate(ctx)
}

// Validate performs the idempotent activate+probe sequence. It returns
// true only when the probe succeeds without the portal bouncing the
// navigation through its login screen. Ordinary failures are converted
// to false, never errors: this is the re-entry point used both before
// login (to skip it) and after (to confirm it worked).
func (s *Session) Validate(ctx context.Context) bool {
	ctx, span := tracer.Start(ctx, "session:Validate")
	defer span.End()

	s.validated = false
	s.drainSSOEvents()

	err := s.activate(ctx)
	if err != nil {
		slog.DebugContext(ctx, "session activation failed", "err", err)
		return false
	}

	res, err := s.client.Http.R().
		SetContext(ctx).
		Get("/services/rest/context/getCustomerContext")
	if err != nil {
		slog.DebugContext(ctx, "session probe failed", "err", err)
		return false
	}
	if res.StatusCode() != 200 {
		slog.DebugContext(ctx, "session probe rejected", "status", res.StatusCode())
		return false
	}
	if s.sawSSORedirect() {
		slog.DebugContext(ctx, "portal silently redirected to login during probe")
		return false
	}

	s.validated = true
	return true
}

func (s *Session) drainSSOEvents() {
	for {
		select {
		case <-s.ssoEvents:
		default:
			return
		}
	}
}

func (s *Session) sawSSORedirect() bool {
	select {
	case ev := <-s.ssoEvents:
		slog.Debug("observed sso redirect", "url", ev.URL)
		return true
	default:
		return false
	}
}

// Login runs the full authentication exchange: seed the locale cookie,
// fetch the callback challenge, solve its captcha, fill the positional
// slots, submit, inject the session token and double-check with
// Validate.
func (s *Session) Login(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "session:Login")
	defer span.End()

	if s.opts.Identity == "" {
		span.SetStatus(codes.Error, ErrMissingCredentials.Error())
		return ErrMissingCredentials
	}

	s.client.setCookie("locale", localeCookie)

	res, err := s.client.Http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept-API-Version", "protocol=1.0,resource=2.0").
		Post("/sso/json/authenticate")
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch login challenge")
		return fmt.Errorf("%w: %s", ErrVendorUnavailable, err)
	}
	if res.StatusCode() != 200 {
		span.SetStatus(codes.Error, "login challenge rejected")
		return fmt.Errorf("%w: challenge returned status %d", ErrVendorUnavailable, res.StatusCode())
	}
	challenge := string(res.Body())
	if !gjson.Get(challenge, "callbacks").IsArray() {
		span.SetStatus(codes.Error, "challenge has no callbacks")
		return fmt.Errorf("%w: login challenge has no callbacks", ErrMalformedResponse)
	}

	siteKey := gjson.Get(challenge, fmt.Sprintf("callbacks.%d.output.0.value", s.slots.CaptchaKey)).String()
	if siteKey == "" {
		span.SetStatus(codes.Error, "challenge has no captcha site key")
		return fmt.Errorf("%w: no captcha site key in slot %d", ErrMalformedResponse, s.slots.CaptchaKey)
	}

	captchaToken, err := s.opts.Captcha.Solve(ctx, captcha.Challenge{
		SiteURL: s.client.BaseUrl.String(),
		SiteKey: siteKey,
	})
	if err != nil {
		span.SetStatus(codes.Error, "captcha solve failed")
		return fmt.Errorf("%w: captcha solve failed: %s", ErrVendorUnavailable, err)
	}

	filled := challenge
	for slot, value := range map[int]string{
		s.slots.Identity:     s.opts.Identity,
		s.slots.Secret:       s.opts.Secret,
		s.slots.CaptchaToken: captchaToken,
		s.slots.Origin:       originLiteral,
	} {
		filled, err = sjson.Set(filled, fmt.Sprintf("callbacks.%d.input.0.value", slot), value)
		if err != nil {
			span.SetStatus(codes.Error, "failed to fill callback slot")
			return fmt.Errorf("%w: cannot fill callback slot %d: %s", ErrMalformedResponse, slot, err)
		}
	}

	res, err = s.client.Http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept-API-Version", "protocol=1.0,resource=2.0").
		SetBody(filled).
		Post("/sso/json/authenticate")
	if err != nil {
		span.SetStatus(codes.Error, "failed to submit login")
		return fmt.Errorf("%w: %s", ErrVendorUnavailable, err)
	}
	switch {
	case res.StatusCode() == 401 && strings.Contains(res.String(), lockedAccountPhrase):
		span.SetStatus(codes.Error, ErrTooManyAttempts.Error())
		return ErrTooManyAttempts
	case res.StatusCode() == 401:
		span.SetStatus(codes.Error, ErrLoginFailed.Error())
		return ErrLoginFailed
	case res.StatusCode() != 200:
		span.SetStatus(codes.Error, "login submit failed")
		return fmt.Errorf("%w: login returned status %d", ErrVendorUnavailable, res.StatusCode())
	}

	tokenId := gjson.GetBytes(res.Body(), "tokenId").String()
	if tokenId == "" {
		span.SetStatus(codes.Error, "no session token in login response")
		return fmt.Errorf("%w: no session token in login response", ErrMalformedResponse)
	}
	s.client.setCookie(ssoCookieName, tokenId)

	// the login call can nominally succeed while the session is still
	// unusable, so always confirm with the probe
	if !s.Validate(ctx) {
		span.SetStatus(codes.Error, "session did not validate after login")
		return fmt.Errorf("%w: session did not validate after login", ErrVendorUnavailable)
	}
	return nil
}

// activate loads the dashboard, replays the portal's auto-submitting
// "continue" form when one is served instead of an http redirect,
// pings the auth check endpoint and persists cookie state.
func (s *Session) activate(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "session:activate")
	defer span.End()

	res, err := s.client.Http.R().
		SetContext(ctx).
		Get("/espace-client/accueil")
	if err != nil {
		span.SetStatus(codes.Error, "failed to load dashboard")
		return fmt.Errorf("%w: %s", ErrVendorUnavailable, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err == nil && htmlutil.IsAutoSubmit(doc) {
		form, ok := htmlutil.ExtractForm(doc)
		if !ok {
			span.SetStatus(codes.Error, "auto-submit page without a form")
			return fmt.Errorf("%w: auto-submit page without a form", ErrMalformedResponse)
		}
		slog.DebugContext(ctx, "replaying auto-submit continue form", "action", form.Action)
		_, err = s.client.Http.R().
			SetContext(ctx).
			SetFormData(form.Fields).
			Post(form.Action)
		if err != nil {
			span.SetStatus(codes.Error, "failed to replay continue form")
			return fmt.Errorf("%w: %s", ErrVendorUnavailable, err)
		}
	}

	_, err = s.client.Http.R().
		SetContext(ctx).
		Get("/services/rest/openid/checkAuthenticate")
	if err != nil {
		span.SetStatus(codes.Error, "auth check failed")
		return fmt.Errorf("%w: %s", ErrVendorUnavailable, err)
	}

	if s.opts.Store != nil {
		err = s.opts.Store.SaveSession(ctx, sessionName, s.client.Cookies())
		if err != nil {
			slog.WarnContext(ctx, "failed to persist session state", "err", err)
		}
	}
	return nil
}
