package core

import (
	"context"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"cardsexport/lib/htmlutil"
	"cardsexport/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/cards/core")

// CredentialError means the site rejected the login itself. Callers
// should reprompt for credentials and clear any saved ones.
type CredentialError struct {
	Reason string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("login rejected: %s", e.Reason)
}

// NavigationError covers network failures, off-domain redirects and
// unusable target pages. The credentials themselves are still good; a
// different URL may be retried.
type NavigationError struct {
	Url string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("could not navigate to %s: %v", e.Url, e.Err)
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}

type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client

	mu        sync.Mutex
	lastLogin time.Time
}

type ClientOptions struct {
	BaseUrl string
}

func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
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

	telemetry.InstrumentResty(client, "scrapers/cards/http")

	c := &Client{
		BaseUrl: baseUrl,
		Http:    client,
	}
	return c, nil
}

func (c *Client) DefaultRedirectPolicy() resty.RedirectPolicy {
	return resty.DomainCheckRedirectPolicy(c.BaseUrl.Hostname())
}

// Login posts the credential form and verifies the resulting page
// carries the logged-in marker.
func (c *Client) Login(ctx context.Context, email, password string) error {
	ctx, span := tracer.Start(ctx, "client:Login")
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		Get("/login")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch login page")
		return &NavigationError{Url: c.BaseUrl.JoinPath("/login").String(), Err: err}
	}
	if res.StatusCode() >= 400 {
		span.SetStatus(codes.Error, "login page unreachable")
		return &NavigationError{
			Url: c.BaseUrl.JoinPath("/login").String(),
			Err: fmt.Errorf("login page returned status %d", res.StatusCode()),
		}
	}

	res, err = c.Http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"username": email,
			"password": password,
		}).
		Post("/login")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to make login request")
		return &NavigationError{Url: c.BaseUrl.JoinPath("/login").String(), Err: err}
	}

	if !strings.Contains(string(res.Body()), "Logout") {
		span.SetStatus(codes.Error, "logged-in marker absent")
		return &CredentialError{Reason: "post-login page is missing the logout control"}
	}

	c.MarkLogin()
	return nil
}

// ValidateTarget re-fetches a caller-supplied URL after login and
// rejects anything that is not a usable deck or collection page.
func (c *Client) ValidateTarget(ctx context.Context, target string) error {
	ctx, span := tracer.Start(ctx, "client:ValidateTarget")
	defer span.End()

	link, err := url.Parse(target)
	if err != nil {
		span.SetStatus(codes.Error, "unparseable target url")
		return &NavigationError{Url: target, Err: err}
	}
	if link.Hostname() != c.BaseUrl.Hostname() {
		span.SetStatus(codes.Error, "target leaves the expected domain")
		return &NavigationError{
			Url: target,
			Err: fmt.Errorf("host %q does not match %q", link.Hostname(), c.BaseUrl.Hostname()),
		}
	}
	if !strings.Contains(link.Path, "/details/") && !strings.Contains(link.Path, "/collection/") {
		span.SetStatus(codes.Error, "target is not a deck or collection page")
		return &NavigationError{
			Url: target,
			Err: fmt.Errorf("path %q lacks /details/ or /collection/", link.Path),
		}
	}

	res, err := c.Http.R().
		SetContext(ctx).
		Get(target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch target")
		return &NavigationError{Url: target, Err: err}
	}
	if res.StatusCode() == 403 || res.StatusCode() == 404 || res.StatusCode() >= 500 {
		span.SetStatus(codes.Error, "target returned an error status")
		return &NavigationError{
			Url: target,
			Err: fmt.Errorf("target returned status %d", res.StatusCode()),
		}
	}

	doc, err := htmlutil.ParseDocument(res.Body())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse target html")
		return &NavigationError{Url: target, Err: err}
	}
	title := doc.Find("title").Text()
	body := string(res.Body())
	if strings.Contains(title, "Error 403") || strings.Contains(body, "Access denied") {
		span.SetStatus(codes.Error, "target is an access-denied page")
		return &NavigationError{Url: target, Err: fmt.Errorf("access denied")}
	}
	if strings.TrimSpace(doc.Find("body").Text()) == "" {
		span.SetStatus(codes.Error, "target resolved to a blank page")
		return &NavigationError{Url: target, Err: fmt.Errorf("blank page")}
	}

	return nil
}

// MarkLogin records the moment the session was last authenticated.
func (c *Client) MarkLogin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastLogin = time.Now()
}

// SessionAge returns the time elapsed since the last successful login.
func (c *Client) SessionAge() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastLogin.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return time.Since(c.lastLogin)
}

// WaitFor polls cond every interval until it returns true, the timeout
// elapses, or the context is cancelled. Replaces fixed settle sleeps.
func WaitFor(ctx context.Context, timeout, interval time.Duration, cond func(ctx context.Context) (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := cond(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("condition not met within %s: %w", timeout, ctx.Err())
		case <-ticker.C:
		}
	}
}
