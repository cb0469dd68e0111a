package enervia

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"

	"docharvest/lib/restyutil"
	"docharvest/lib/telemetry"
)

var tracer = otel.Tracer("scrapers/enervia")

type ClientOptions struct {
	BaseUrl string
	// transcript dump for debugging the portal's undocumented
	// endpoints; nil disables it
	Debug restyutil.InstrumentOutput
}

// Client is the cookie-bearing portal client every other surface goes
// through. Cookie state is the session: restore it with SetCookies,
// persist it with Cookies.
type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client
}

func NewClient(opts ClientOptions) (*Client, error) {
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	client.SetTimeout(time.Second * 30)

	telemetry.InstrumentResty(client, "scrapers/enervia/http")
	restyutil.InstrumentClient(client, opts.Debug)

	return &Client{
		BaseUrl: baseUrl,
		Http:    client,
	}, nil
}

// Cookies returns the current session cookie set for the portal.
func (c *Client) Cookies() []*http.Cookie {
	return c.Http.GetClient().Jar.Cookies(c.BaseUrl)
}

// SetCookies seeds the jar, used to restore a previous run's session.
func (c *Client) SetCookies(cookies []*http.Cookie) {
	c.Http.GetClient().Jar.SetCookies(c.BaseUrl, cookies)
}

func (c *Client) setCookie(name, value string) {
	c.Http.GetClient().Jar.SetCookies(c.BaseUrl, []*http.Cookie{
		{Name: name, Value: value, Path: "/"},
	})
}
