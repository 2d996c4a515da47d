package client

import (
	"net/url"
	"strings"

	"github.com/cfilipov/wsio"
)

// normalizeNamespace splits p on "/", drops empty segments, and rejoins with
// a single leading "/" (spec §3 "Namespace... path (normalized, leading
// /)" / spec §6).
func normalizeNamespace(p string) string {
	parts := strings.Split(p, "/")
	var kept []string
	for _, s := range parts {
		if s != "" {
			kept = append(kept, s)
		}
	}
	return "/" + strings.Join(kept, "/")
}

// resolveConnectURL implements spec §6's client URL shape: the path
// component of rawURL is captured as the namespace, the URL's path is
// rewritten to requestPath, and a namespace=<normalized> query parameter is
// appended, overriding any existing one. Only ws:// and wss:// schemes are
// accepted; anything else is a ConfigError raised at builder time.
func resolveConnectURL(rawURL, requestPath string) (connectURL, namespace string, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil {
		return "", "", wsio.New(wsio.KindConfig, "resolve_connect_url", parseErr)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return "", "", wsio.New(wsio.KindConfig, "resolve_connect_url", errUnsupportedScheme(u.Scheme))
	}

	ns := normalizeNamespace(u.Path)

	q := u.Query()
	q.Set("namespace", ns)
	u.RawQuery = q.Encode()
	u.Path = requestPath

	return u.String(), ns, nil
}

type errUnsupportedScheme string

func (e errUnsupportedScheme) Error() string {
	return "unsupported URL scheme " + string(e) + " (expected ws or wss)"
}
