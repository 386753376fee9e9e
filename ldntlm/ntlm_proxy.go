// Package ldntlm allows you to configure the SDK to connect to LaunchDarkly through a proxy
// server that uses NTLM authentication. The standard Go HTTP client proxy mechanism does not
// support this. The implementation uses this package:
// https://github.com/launchdarkly/go-ntlm-proxy-auth
//
// See NewNTLMProxyHTTPClientFactory for more details.
package ldntlm

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	ntlm "github.com/launchdarkly/go-ntlm-proxy-auth"

	"gopkg.in/launchdarkly/go-server-sdk.v4/ldhttp"
)

// NewNTLMProxyHTTPClientFactory returns a factory function for creating an HTTP client that
// will connect through an NTLM-authenticated proxy server.
//
// To use this with the SDK, assign the result to Config.HTTPClientFactory via an adapter:
//
//	clientFactory, err := ldntlm.NewNTLMProxyHTTPClientFactory("http://my-proxy.com", "username",
//	    "password", "domain")
//	if err != nil {
//	    // there's some configuration problem such as an invalid proxy URL
//	}
//	config := ld.DefaultConfig
//	config.HTTPClientFactory = func(ld.Config) http.Client { return *clientFactory() }
//
// You can also specify TLS configuration options from the ldhttp package, if you are connecting
// to the proxy securely:
//
//	clientFactory, err := ldntlm.NewNTLMProxyHTTPClientFactory("http://my-proxy.com", "username",
//	    "password", "domain", ldhttp.CACertFileOption("extra-ca-cert.pem"))
func NewNTLMProxyHTTPClientFactory(proxyURL, username, password, domain string,
	options ...ldhttp.TransportOption) (func() *http.Client, error) {
	if proxyURL == "" || username == "" || password == "" {
		return nil, errors.New("ProxyURL, username, and password are required")
	}
	parsedProxyURL, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("Invalid proxy URL %s: %s", proxyURL, err)
	}
	// Try creating a transport with these options just to make sure it's valid before we get any further
	if _, _, err := ldhttp.NewHTTPTransport(options...); err != nil {
		return nil, err
	}
	return func() *http.Client {
		client := http.Client{}
		if transport, dialer, err := ldhttp.NewHTTPTransport(options...); err == nil {
			// This should never fail, because we already tried it above and failed fast if it didn't work
			transport.Proxy = nil
			transport.DialContext = ntlm.NewNTLMProxyDialContext(dialer, *parsedProxyURL,
				username, password, domain, transport.TLSClientConfig)
			client.Transport = transport
		}
		return &client
	}, nil
}
