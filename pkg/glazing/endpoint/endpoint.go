// Package endpoint derives chat endpoint URLs from a widget key and the page
// environment the widget is embedded in.
package endpoint

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

const (
	// DefaultWidgetKey is used when no key is configured.
	DefaultWidgetKey = "demo-widget-key"
	// DefaultLoopbackPort is the port the chat API listens on in development.
	DefaultLoopbackPort = 8000
	// PathPrefix precedes the widget key in every endpoint path.
	PathPrefix = "/ws/"
)

// Form identifies how a candidate URL was derived.
type Form string

const (
	FormLoopback   Form = "loopback"
	FormHostname   Form = "hostname"
	FormSameOrigin Form = "same-origin"
)

// Environment describes the page hosting the widget.
type Environment struct {
	// Protocol is the page scheme, "http" or "https". A trailing colon is tolerated.
	Protocol string
	// Hostname is the page host without port.
	Hostname string
	// Host is the page host including any port.
	Host string
}

// EnvironmentFromURL builds an Environment from a page URL such as
// "https://shop.example.com:8443/products".
func EnvironmentFromURL(pageURL string) (Environment, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return Environment{}, fmt.Errorf("invalid page URL: %w", err)
	}
	if u.Host == "" {
		return Environment{}, fmt.Errorf("invalid page URL %q: missing host", pageURL)
	}
	return Environment{
		Protocol: u.Scheme,
		Hostname: u.Hostname(),
		Host:     u.Host,
	}, nil
}

// Secure reports whether the page was served over TLS.
func (e Environment) Secure() bool {
	return strings.TrimSuffix(strings.ToLower(e.Protocol), ":") == "https"
}

// IsLoopback reports whether the page hostname refers to the local machine.
// An unknown hostname counts as loopback.
func (e Environment) IsLoopback() bool {
	h := strings.Trim(strings.ToLower(e.Hostname), "[]")
	if h == "" || h == "localhost" {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

// Candidate is one possible endpoint URL.
type Candidate struct {
	Form Form
	URL  string
}

// Resolver derives endpoint URLs for a widget key.
type Resolver struct {
	widgetKey    string
	loopbackPort int
	env          Environment
}

// NewResolver creates a resolver. An empty key selects DefaultWidgetKey.
func NewResolver(widgetKey string, env Environment) *Resolver {
	if widgetKey == "" {
		widgetKey = DefaultWidgetKey
	}
	return &Resolver{
		widgetKey:    widgetKey,
		loopbackPort: DefaultLoopbackPort,
		env:          env,
	}
}

// WithLoopbackPort overrides the port used for the loopback and hostname forms.
func (r *Resolver) WithLoopbackPort(port int) *Resolver {
	if port > 0 && port <= 65535 {
		r.loopbackPort = port
	}
	return r
}

func (r *Resolver) WidgetKey() string {
	return r.widgetKey
}

func (r *Resolver) Environment() Environment {
	return r.env
}

func (r *Resolver) LoopbackPort() int {
	return r.loopbackPort
}

// path builds the endpoint path. The key is used verbatim.
func (r *Resolver) path() string {
	return PathPrefix + r.widgetKey
}

func (r *Resolver) loopbackURL() string {
	return fmt.Sprintf("ws://localhost:%d%s", r.loopbackPort, r.path())
}

func (r *Resolver) hostnameURL() string {
	host := r.env.Hostname
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(host, fmt.Sprint(r.loopbackPort)), r.path())
}

func (r *Resolver) sameOriginURL() string {
	scheme := "ws"
	if r.env.Secure() {
		scheme = "wss"
	}
	host := r.env.Host
	if host == "" {
		host = r.env.Hostname
	}
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, r.path())
}

// Candidates returns the three endpoint forms in probing order.
func (r *Resolver) Candidates() []Candidate {
	return []Candidate{
		{Form: FormLoopback, URL: r.loopbackURL()},
		{Form: FormHostname, URL: r.hostnameURL()},
		{Form: FormSameOrigin, URL: r.sameOriginURL()},
	}
}

// Resolve returns the URL the widget connects to: the loopback form on a
// loopback (or unknown) page, the same-origin form everywhere else.
func (r *Resolver) Resolve() string {
	if r.env.IsLoopback() {
		return r.loopbackURL()
	}
	return r.sameOriginURL()
}
