package pairing

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const uriScheme = "wc:"

// URI 是解析后的配对 URI：wc:<topic>@<version>?relay-protocol=..&symKey=..
type URI struct {
	Topic         string
	Version       string
	SymKey        []byte
	RelayProtocol string
	RelayData     string
	ExpiresAt     time.Time
	Methods       []string
}

// ParseURI 校验并解析配对 URI。now 用于判断 expiryTimestamp 是否已过期。
func ParseURI(raw string, now time.Time) (URI, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(strings.ToLower(raw), uriScheme) {
		return URI{}, fmt.Errorf("%w: scheme must be %q", ErrInvalidURI, uriScheme)
	}
	rest := strings.TrimPrefix(raw[len(uriScheme):], "//")
	path, rawQuery, _ := strings.Cut(rest, "?")
	topic, version, found := strings.Cut(path, "@")
	if !found {
		return URI{}, fmt.Errorf("%w: missing version", ErrInvalidURI)
	}
	topic = strings.TrimSpace(topic)
	version = strings.TrimSpace(version)
	if topic == "" {
		return URI{}, fmt.Errorf("%w: missing topic", ErrInvalidURI)
	}
	if version == "" {
		return URI{}, fmt.Errorf("%w: missing version", ErrInvalidURI)
	}
	if _, err := strconv.Atoi(version); err != nil {
		return URI{}, fmt.Errorf("%w: version %q is not numeric", ErrInvalidURI, version)
	}

	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return URI{}, fmt.Errorf("%w: query: %v", ErrInvalidURI, err)
	}
	protocol := strings.TrimSpace(query.Get("relay-protocol"))
	if protocol == "" {
		return URI{}, fmt.Errorf("%w: missing relay-protocol", ErrInvalidURI)
	}
	symKeyHex := strings.TrimSpace(query.Get("symKey"))
	if symKeyHex == "" {
		return URI{}, fmt.Errorf("%w: missing symKey", ErrInvalidURI)
	}
	symKey, err := hex.DecodeString(strings.TrimPrefix(symKeyHex, "0x"))
	if err != nil || len(symKey) == 0 {
		return URI{}, fmt.Errorf("%w: symKey is not hex", ErrInvalidURI)
	}

	out := URI{
		Topic:         topic,
		Version:       version,
		SymKey:        symKey,
		RelayProtocol: protocol,
		RelayData:     query.Get("relay-data"),
	}
	if expiry := strings.TrimSpace(query.Get("expiryTimestamp")); expiry != "" {
		secs, err := strconv.ParseInt(expiry, 10, 64)
		if err != nil {
			return URI{}, fmt.Errorf("%w: expiryTimestamp %q", ErrInvalidURI, expiry)
		}
		out.ExpiresAt = time.Unix(secs, 0)
		if !now.IsZero() && !out.ExpiresAt.After(now) {
			return URI{}, fmt.Errorf("%w: pairing expired at %s", ErrInvalidURI, out.ExpiresAt.UTC().Format(time.RFC3339))
		}
	}
	if methods := strings.TrimSpace(query.Get("methods")); methods != "" {
		for _, m := range strings.Split(strings.Trim(methods, "[]"), ",") {
			if m = strings.TrimSpace(m); m != "" {
				out.Methods = append(out.Methods, m)
			}
		}
	}
	return out, nil
}
