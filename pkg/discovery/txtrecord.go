package discovery

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// TXT record keys.
const (
	TXTKeyName     = "name"
	TXTKeyPort     = "ws"
	TXTKeyVersion  = "version"
	TXTKeyFeatures = "features"
)

// TXTRecordMap holds key/value pairs from a TXT record.
type TXTRecordMap map[string]string

// featureLetters maps TXT feature letters to signal type names.
var featureLetters = []struct {
	letter byte
	name   string
}{
	{'p', "param"},
	{'s', "stream"},
	{'e', "event"},
	{'t', "timeline"},
	{'g', "gesture"},
}

// ParseFeatures expands a feature letter string ("psetg"). Unknown
// letters are ignored.
func ParseFeatures(s string) []string {
	var out []string
	for i := 0; i < len(s); i++ {
		for _, f := range featureLetters {
			if s[i] == f.letter {
				out = append(out, f.name)
				break
			}
		}
	}
	return out
}

// EncodeFeatures is the inverse of ParseFeatures.
func EncodeFeatures(features []string) string {
	var b strings.Builder
	for _, name := range features {
		for _, f := range featureLetters {
			if name == f.name {
				b.WriteByte(f.letter)
				break
			}
		}
	}
	return b.String()
}

// DecodeRouterTXT fills the TXT-derived fields of a Router.
func DecodeRouterTXT(txt TXTRecordMap) (*Router, error) {
	r := &Router{
		Name:     txt[TXTKeyName],
		Port:     DefaultPort,
		Version:  txt[TXTKeyVersion],
		Features: ParseFeatures(txt[TXTKeyFeatures]),
	}
	if s, ok := txt[TXTKeyPort]; ok && s != "" {
		port, err := strconv.ParseUint(s, 10, 16)
		if err != nil || port == 0 {
			return nil, fmt.Errorf("%w: %q", ErrBadPort, s)
		}
		r.Port = uint16(port)
	}
	return r, nil
}

// EncodeRouterTXT builds the TXT record a router advertises.
func EncodeRouterTXT(r *Router) TXTRecordMap {
	txt := TXTRecordMap{
		TXTKeyName: r.Name,
		TXTKeyPort: strconv.Itoa(int(r.Port)),
	}
	if r.Version != "" {
		txt[TXTKeyVersion] = r.Version
	}
	if len(r.Features) > 0 {
		txt[TXTKeyFeatures] = EncodeFeatures(r.Features)
	}
	return txt
}

// TXTRecordsToStrings converts a TXTRecordMap to "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	return result
}

// StringsToTXTRecords parses "key=value" strings. A bare key maps to "".
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, found := strings.Cut(s, "=")
		if k == "" {
			continue
		}
		if !found {
			v = ""
		}
		txt[k] = v
	}
	return txt
}

// WebSocketURL builds ws://host:port/clasp, bracketing IPv6 literals.
func WebSocketURL(host string, port uint16) string {
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(int(port))) + WebSocketPath
}
