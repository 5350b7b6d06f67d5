package nlp

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment knobs for the outbound HTTP client. The proxy settings
// exist for deployments where provider traffic must traverse a corporate
// egress proxy.
const (
	envProxyUse      = "PROXY_USE"
	envProxyURL      = "OPENAI_PROXY"
	envProxyUsername = "OPENAI_PROXY_USERNAME"
	envProxyPassword = "OPENAI_PROXY_PASSWORD"
	envNoProxy       = "NO_PROXY"
	envTimeout       = "OPENAI_TIMEOUT"

	defaultRequestTimeout = 300 * time.Second
)

// HTTPClientFromEnv builds the outbound HTTP client for provider calls,
// honoring the proxy and timeout environment variables. The LLM and
// embedder gateways share it so both respect the same egress settings.
func HTTPClientFromEnv(logger *slog.Logger) (*http.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := &http.Client{Timeout: requestTimeoutFromEnv(logger)}

	if !envFlag(envProxyUse) {
		return client, nil
	}

	rawURL := os.Getenv(envProxyURL)
	if rawURL == "" {
		return nil, fmt.Errorf("%s is set but %s is empty", envProxyUse, envProxyURL)
	}
	proxyURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", envProxyURL, err)
	}
	if username := os.Getenv(envProxyUsername); username != "" {
		proxyURL.User = url.UserPassword(username, os.Getenv(envProxyPassword))
	}

	noProxy := splitHostList(os.Getenv(envNoProxy))
	transport := &http.Transport{
		Proxy: func(req *http.Request) (*url.URL, error) {
			if hostMatchesAny(req.URL.Hostname(), noProxy) {
				return nil, nil
			}
			return proxyURL, nil
		},
	}
	client.Transport = transport

	logger.Info("provider traffic routed through proxy",
		"proxy", maskedURL(proxyURL),
		"no_proxy", noProxy)
	return client, nil
}

// requestTimeoutFromEnv reads OPENAI_TIMEOUT in seconds, defaulting to
// five minutes to accommodate slow reasoning models.
func requestTimeoutFromEnv(logger *slog.Logger) time.Duration {
	raw := os.Getenv(envTimeout)
	if raw == "" {
		return defaultRequestTimeout
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		logger.Warn("ignoring invalid request timeout", "value", raw)
		return defaultRequestTimeout
	}
	return time.Duration(seconds) * time.Second
}

func envFlag(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func splitHostList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	hosts := make([]string, 0, len(parts))
	for _, part := range parts {
		if host := strings.TrimSpace(part); host != "" {
			hosts = append(hosts, host)
		}
	}
	return hosts
}

// hostMatchesAny reports whether host equals an entry or is a subdomain
// of one (".internal.example" style suffix rules).
func hostMatchesAny(host string, entries []string) bool {
	for _, entry := range entries {
		entry = strings.TrimPrefix(entry, ".")
		if host == entry || strings.HasSuffix(host, "."+entry) {
			return true
		}
	}
	return false
}

// maskedURL renders a proxy URL with credentials redacted for logs.
func maskedURL(u *url.URL) string {
	if u.User == nil {
		return u.String()
	}
	clone := *u
	clone.User = url.User("***")
	return clone.String()
}
