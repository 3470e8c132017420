package profile

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ssMethods is the allow-list of Shadowsocks ciphers we hand to the engine.
// A decoded userinfo whose method is not listed here is treated as garbage,
// not as a new cipher.
var ssMethods = map[string]bool{
	"aes-128-gcm":             true,
	"aes-192-gcm":             true,
	"aes-256-gcm":             true,
	"chacha20-poly1305":       true,
	"chacha20-ietf-poly1305":  true,
	"xchacha20-poly1305":      true,
	"xchacha20-ietf-poly1305": true,
	"2022-blake3-aes-128-gcm": true,
	"2022-blake3-aes-256-gcm": true,
	"aes-128-cfb":             true,
	"aes-192-cfb":             true,
	"aes-256-cfb":             true,
	"aes-128-ctr":             true,
	"aes-192-ctr":             true,
	"aes-256-ctr":             true,
	"rc4-md5":                 true,
	"chacha20-ietf":           true,
	"none":                    true,
	"plain":                   true,
}

// Parse turns a share link into a canonical Profile. Parsing the same
// string always yields an equal Profile: there is no randomness and no
// environment lookup on this path.
func Parse(raw string) (*Profile, error) {
	raw = sanitizeLink(raw)

	parts := strings.SplitN(raw, "://", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, parseErr(UnsupportedScheme, "not a share link: %q", truncate(raw, 32))
	}

	switch strings.ToLower(parts[0]) {
	case "ss", "shadowsocks":
		return parseShadowsocks(parts[1])
	case "vmess":
		return parseVMess(parts[1])
	case "vless":
		return parseVLESS(raw)
	default:
		return nil, parseErr(UnsupportedScheme, "%s://", strings.ToLower(parts[0]))
	}
}

// --- Shadowsocks ---

// parseShadowsocks handles both SIP002 (method:password@host:port, with the
// userinfo optionally base64) and the legacy fully-base64 body. Plaintext is
// tried first; base64 is the fallback.
func parseShadowsocks(body string) (*Profile, error) {
	body, remark := splitFragment(body)

	// Query string (plugin options) is not consumed, but must not end up in
	// the host:port split below.
	if i := strings.IndexByte(body, '?'); i >= 0 {
		body = body[:i]
	}

	var userInfo, hostPort string
	if at := strings.LastIndexByte(body, '@'); at >= 0 {
		userInfo = body[:at]
		hostPort = body[at+1:]

		if !strings.Contains(userInfo, ":") {
			decoded, err := decodeBase64(userInfo)
			if err != nil {
				return nil, parseErr(MalformedCredentials, "userinfo is neither method:password nor base64")
			}
			userInfo = decoded
		} else if unescaped, err := url.PathUnescape(userInfo); err == nil {
			userInfo = unescaped
		}
	} else {
		// Legacy form: the whole body is base64(method:password@host:port)
		decoded, err := decodeBase64(body)
		if err != nil {
			return nil, parseErr(MalformedCredentials, "legacy body is not base64")
		}
		at := strings.LastIndexByte(decoded, '@')
		if at < 0 {
			return nil, parseErr(MalformedCredentials, "decoded body has no host part")
		}
		userInfo = decoded[:at]
		hostPort = decoded[at+1:]
	}

	method, password, ok := strings.Cut(userInfo, ":")
	if !ok {
		return nil, parseErr(MalformedCredentials, "missing method:password separator")
	}
	method = strings.ToLower(strings.TrimSpace(method))
	if !ssMethods[method] {
		return nil, parseErr(MalformedCredentials, "unsupported cipher %q", method)
	}

	host, port, err := splitEndpoint(hostPort)
	if err != nil {
		return nil, err
	}

	p := &Profile{
		Protocol: Shadowsocks,
		Host:     host,
		Port:     port,
		Remark:   remark,
		SS:       &ShadowsocksFields{Method: method, Password: password},
	}
	p.Remark = defaultRemark(p)
	return p, nil
}

// --- VMess ---

type vmessJSON struct {
	Ps   string      `json:"ps"`
	Add  string      `json:"add"`
	Port interface{} `json:"port"`
	ID   string      `json:"id"`
	Aid  interface{} `json:"aid"`
	Scy  string      `json:"scy"`
	Net  string      `json:"net"`
	Type string      `json:"type"`
	Host string      `json:"host"`
	Path string      `json:"path"`
	TLS  string      `json:"tls"`
	SNI  string      `json:"sni"`
	ALPN string      `json:"alpn"`
	Fp   string      `json:"fp"`
}

func parseVMess(body string) (*Profile, error) {
	body, _ = splitFragment(body)

	jsonStr, err := decodeBase64(body)
	if err != nil {
		return nil, parseErr(MalformedPayload, "payload is not base64")
	}

	var v vmessJSON
	if err := json.Unmarshal([]byte(jsonStr), &v); err != nil {
		return nil, parseErr(MalformedPayload, "payload is not JSON: %v", err)
	}
	if v.ID == "" || v.Add == "" || v.Port == nil {
		return nil, parseErr(MalformedPayload, "missing id, add or port")
	}

	// Port may be a JSON number or string depending on the exporting client.
	port, err := coercePort(fmt.Sprintf("%v", v.Port))
	if err != nil {
		return nil, err
	}

	security := v.Scy
	if security == "" {
		security = "auto"
	}

	p := &Profile{
		Protocol: VMess,
		Host:     strings.TrimSpace(v.Add),
		Port:     port,
		Remark:   v.Ps,
		Transport: Transport{
			Network: defaultNetwork(v.Net),
			Path:    v.Path,
			Host:    v.Host,
		},
		VMess: &VMessFields{
			ID:       v.ID,
			AlterID:  coerceInt(v.Aid),
			Security: security,
		},
	}
	if p.Transport.Network == "grpc" {
		p.Transport.ServiceName = v.Path
		p.Transport.Path = ""
	}
	if v.TLS == "tls" {
		p.TLS = TLSOptions{Enabled: true, SNI: v.SNI, Fingerprint: v.Fp}
		if v.ALPN != "" {
			p.TLS.ALPN = strings.Split(v.ALPN, ",")
		}
	}
	if p.Host == "" {
		return nil, parseErr(MalformedPayload, "empty server address")
	}
	p.Remark = defaultRemark(p)
	return p, nil
}

// --- VLESS ---

func parseVLESS(raw string) (*Profile, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, parseErr(MalformedPayload, "unparseable uri: %v", err)
	}

	if u.User == nil {
		return nil, parseErr(InvalidIdentifier, "missing uuid")
	}
	id := u.User.Username()
	if _, err := uuid.Parse(id); err != nil {
		return nil, parseErr(InvalidIdentifier, "%q is not a uuid", id)
	}

	host := strings.TrimSpace(u.Hostname())
	if host == "" {
		return nil, parseErr(InvalidEndpoint, "missing host")
	}
	port, err := coercePort(u.Port())
	if err != nil {
		return nil, err
	}

	q := u.Query()
	enc := q.Get("encryption")
	if enc == "" {
		enc = "none"
	}

	p := &Profile{
		Protocol: VLESS,
		Host:     host,
		Port:     port,
		Remark:   u.Fragment,
		Transport: Transport{
			Network:     defaultNetwork(q.Get("type")),
			Path:        q.Get("path"),
			Host:        q.Get("host"),
			ServiceName: q.Get("serviceName"),
		},
		VLESS: &VLESSFields{
			ID:         id,
			Encryption: enc,
			Flow:       q.Get("flow"),
		},
	}

	if q.Get("security") == "tls" {
		p.TLS = TLSOptions{
			Enabled:     true,
			SNI:         q.Get("sni"),
			Fingerprint: q.Get("fp"),
		}
		if alpn := q.Get("alpn"); alpn != "" {
			p.TLS.ALPN = strings.Split(alpn, ",")
		}
	}
	p.Remark = defaultRemark(p)
	return p, nil
}

// --- Helpers ---

func splitFragment(s string) (body, fragment string) {
	if i := strings.IndexByte(s, '#'); i >= 0 {
		frag := s[i+1:]
		if unescaped, err := url.QueryUnescape(frag); err == nil {
			frag = unescaped
		}
		return s[:i], strings.TrimSpace(frag)
	}
	return s, ""
}

func splitEndpoint(hostPort string) (string, int, error) {
	// net.SplitHostPort handles bracketed IPv6 literals; a bare
	// strings.Cut on ':' would split inside the address.
	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		return "", 0, parseErr(InvalidEndpoint, "missing host:port in %q", hostPort)
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "", 0, parseErr(InvalidEndpoint, "missing host in %q", hostPort)
	}
	port, err := coercePort(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

func coercePort(s string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, parseErr(InvalidEndpoint, "port %q is not a number", s)
	}
	if port < 1 || port > 65535 {
		return 0, parseErr(InvalidEndpoint, "port %d out of range", port)
	}
	return port, nil
}

func coerceInt(v interface{}) int {
	if v == nil {
		return 0
	}
	n, _ := strconv.Atoi(fmt.Sprintf("%v", v))
	return n
}

func defaultNetwork(net string) string {
	if net == "" {
		return "tcp"
	}
	return strings.ToLower(net)
}

// defaultRemark fills in a deterministic placeholder when the link carried
// no display name.
func defaultRemark(p *Profile) string {
	if r := strings.TrimSpace(p.Remark); r != "" {
		return r
	}
	return fmt.Sprintf("%s-%s:%d", p.Protocol, p.Host, p.Port)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
