package nettap

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

// Request is the neutral request model handed to the legacy
// callback-style primitive.
type Request struct {
	Method string
	URL    string

	mu     sync.Mutex
	header map[string]string
}

// SetHeader accumulates repeated values for the same key by joining
// them with ", ", per multi-value header semantics. State is
// per-request-instance.
func (r *Request) SetHeader(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.header == nil {
		r.header = map[string]string{}
	}
	existing, ok := r.header[key]
	if ok {
		r.header[key] = existing + ", " + value
		return
	}
	r.header[key] = value
}

func (r *Request) Headers() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.header))
	for k, v := range r.header {
		out[k] = v
	}
	return out
}

// TextResponse is the legacy response representation: the transfer is
// already complete and the whole body has been decoded to text.
type TextResponse struct {
	Status      int
	Header      http.Header
	ContentType string
	Text        string
}

// Requester is the callback-based network primitive of a host page:
// Do issues the request and invokes done exactly once when the
// transfer reaches its final state.
type Requester interface {
	Do(req *Request, body []byte, done func(*TextResponse, error))
}

// Page is the capability a host exposes so traffic observers can be
// installed without touching process globals: get/set access to its
// two network-issuing primitives. Either primitive may be nil if the
// host doesn't use it.
type Page interface {
	Requester() Requester
	SetRequester(Requester)
	Transport() http.RoundTripper
	SetTransport(http.RoundTripper)
}

// Event is one classified, serialized request/response pair. It is
// handed off to listeners and not retained by the tap.
type Event struct {
	Label           string
	Method          string
	URL             string
	RequestHeaders  map[string]string
	ResponseHeaders http.Header
	Response        any
}

// Tap wraps a page's network primitives so every request/response pair
// is classified against the rule table and, when matched, serialized
// and emitted to subscribers. The wrapping never alters request
// behavior: internal failures are logged and swallowed so a broken tap
// cannot break the page's real networking.
type Tap struct {
	page  Page
	rules []Rule

	origRequester Requester
	origTransport http.RoundTripper
	installed     bool

	mu        sync.Mutex
	listeners []chan Event
}

func New(page Page, rules []Rule) *Tap {
	return &Tap{page: page, rules: rules}
}

// Install swaps in the wrapping primitives. The originals are captured
// here and handed back verbatim by Restore.
func (t *Tap) Install() {
	if t.installed {
		return
	}
	t.installed = true

	t.origRequester = t.page.Requester()
	if t.origRequester != nil {
		t.page.SetRequester(tappingRequester{tap: t, next: t.origRequester})
	}
	t.origTransport = t.page.Transport()
	if t.origTransport != nil {
		t.page.SetTransport(tappingTransport{tap: t, next: t.origTransport})
	}
}

// Restore puts back the exact primitives captured at Install time.
func (t *Tap) Restore() {
	if !t.installed {
		return
	}
	t.installed = false

	if t.origRequester != nil {
		t.page.SetRequester(t.origRequester)
		t.origRequester = nil
	}
	if t.origTransport != nil {
		t.page.SetTransport(t.origTransport)
		t.origTransport = nil
	}
}

// Subscribe registers a listener. Delivery is fire-and-forget: a
// listener that falls behind misses events rather than applying
// backpressure to the page's networking.
func (t *Tap) Subscribe() <-chan Event {
	ch := make(chan Event, 16)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, ch)
	return ch
}

func (t *Tap) emit(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
}

// observe classifies one completed exchange and emits it if a rule
// matches. Any panic or serialization failure ends here.
func (t *Tap) observe(method, url string, reqHeaders map[string]string, resHeaders http.Header, body responseBody) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("traffic tap failure", "url", url, "panic", r)
		}
	}()

	rule, ok := match(t.rules, method, url)
	if !ok {
		return
	}

	payload, err := serialize(rule.Mode, body)
	if err != nil {
		slog.Error("failed to serialize intercepted response",
			"label", rule.Label,
			"mode", string(rule.Mode),
			"err", err,
		)
		return
	}

	t.emit(Event{
		Label:           rule.Label,
		Method:          method,
		URL:             url,
		RequestHeaders:  reqHeaders,
		ResponseHeaders: resHeaders,
		Response:        payload,
	})
}

type tappingRequester struct {
	tap  *Tap
	next Requester
}

func (r tappingRequester) Do(req *Request, body []byte, done func(*TextResponse, error)) {
	r.next.Do(req, body, func(res *TextResponse, err error) {
		if err == nil && res != nil {
			r.tap.observe(req.Method, req.URL, req.Headers(), res.Header, textBody{res: res})
		}
		done(res, err)
	})
}

type tappingTransport struct {
	tap  *Tap
	next http.RoundTripper
}

func (t tappingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	res, err := t.next.RoundTrip(req)
	if err != nil {
		return res, err
	}

	reqHeaders := make(map[string]string, len(req.Header))
	for k, vals := range req.Header {
		reqHeaders[k] = strings.Join(vals, ", ")
	}
	t.tap.observe(req.Method, req.URL.String(), reqHeaders, res.Header, streamBody{res: res})
	return res, err
}

// HTTPClientPage adapts a bare *http.Client into a Page with only the
// round-trip primitive.
func HTTPClientPage(client *http.Client) Page {
	return httpClientPage{client: client}
}

type httpClientPage struct {
	client *http.Client
}

func (p httpClientPage) Requester() Requester     { return nil }
func (p httpClientPage) SetRequester(r Requester) {}

func (p httpClientPage) Transport() http.RoundTripper {
	if p.client.Transport == nil {
		return http.DefaultTransport
	}
	return p.client.Transport
}

func (p httpClientPage) SetTransport(rt http.RoundTripper) {
	p.client.Transport = rt
}
