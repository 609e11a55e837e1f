package relay

import (
	"context"
	"net/http"
)

const (
	CredentialsOmit       = "omit"
	CredentialsSameOrigin = "same-origin"
	CredentialsInclude    = "include"
)

// Fetcher performs the single outgoing call for a message.
type Fetcher interface {
	Fetch(ctx context.Context, req *FetchRequest) (*http.Response, error)
}

// HTTPFetcher is the net/http backed Fetcher. Redirects are followed by the
// client. Jar, when set, is only consulted for "include" and "same-origin"
// credentials.
type HTTPFetcher struct {
	Client *http.Client
	Jar    http.CookieJar
}

func NewHTTPFetcher(jar http.CookieJar) *HTTPFetcher {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = http.ProxyFromEnvironment

	return &HTTPFetcher{
		Client: &http.Client{Transport: transport},
		Jar:    jar,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, req *FetchRequest) (*http.Response, error) {
	httpReq, err := req.NewHTTPRequest(ctx)
	if err != nil {
		return nil, err
	}

	credentials := ""
	if req.Credentials != nil {
		credentials = *req.Credentials
	}

	useJar := f.Jar != nil && (credentials == CredentialsInclude || credentials == CredentialsSameOrigin)

	if credentials == CredentialsOmit {
		httpReq.Header.Del("Cookie")
		httpReq.Header.Del("Authorization")
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	// The jar goes on a per-call client so every redirect hop sends and
	// stores cookies, while calls without credentials never touch it.
	if useJar {
		client = &http.Client{
			Transport:     client.Transport,
			CheckRedirect: client.CheckRedirect,
			Jar:           f.Jar,
			Timeout:       client.Timeout,
		}
	}

	return client.Do(httpReq)
}
