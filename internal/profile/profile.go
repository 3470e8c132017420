package profile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Protocol identifies which upstream proxy protocol a profile speaks.
type Protocol string

const (
	Shadowsocks Protocol = "shadowsocks"
	VMess       Protocol = "vmess"
	VLESS       Protocol = "vless"
)

// Profile is the normalized description of one upstream proxy server.
// Exactly one of the protocol-specific field groups is non-nil, matching
// Protocol. A Profile is immutable once parsed.
type Profile struct {
	Protocol Protocol
	Host     string
	Port     int
	Remark   string

	Transport Transport
	TLS       TLSOptions

	SS    *ShadowsocksFields
	VMess *VMessFields
	VLESS *VLESSFields
}

// Transport describes the stream-layer carrier for the outbound connection.
type Transport struct {
	Network     string // tcp, ws, grpc, h2, kcp
	Path        string // ws / h2 path
	Host        string // ws / h2 host header
	ServiceName string // grpc
}

type TLSOptions struct {
	Enabled     bool
	SNI         string
	ALPN        []string
	Fingerprint string
}

type ShadowsocksFields struct {
	Method   string
	Password string
}

type VMessFields struct {
	ID       string
	AlterID  int
	Security string // auto, aes-128-gcm, chacha20-poly1305, none
}

type VLESSFields struct {
	ID         string
	Encryption string // always "none" today, kept explicit
	Flow       string
}

// Identifier returns the credential the engine authenticates with:
// the password for Shadowsocks, the UUID for VMess/VLESS.
func (p *Profile) Identifier() string {
	switch p.Protocol {
	case Shadowsocks:
		return p.SS.Password
	case VMess:
		return p.VMess.ID
	case VLESS:
		return p.VLESS.ID
	}
	return ""
}

// Method returns the protocol-specific encryption method, or "" when the
// protocol has none.
func (p *Profile) Method() string {
	switch p.Protocol {
	case Shadowsocks:
		return p.SS.Method
	case VMess:
		return p.VMess.Security
	case VLESS:
		return p.VLESS.Encryption
	}
	return ""
}

// Fingerprint generates a stable identifier for deduplication. Two links
// that dial the same server with the same credentials and transport hash
// to the same value regardless of remark or parameter order.
func (p *Profile) Fingerprint() string {
	parts := []string{
		string(p.Protocol),
		strings.ToLower(p.Host),
		fmt.Sprintf("%d", p.Port),
		p.Identifier(),
		p.Method(),
	}

	// Empty network implies tcp
	net := p.Transport.Network
	if net == "" {
		net = "tcp"
	}
	parts = append(parts, net, p.Transport.Path, p.Transport.Host, p.Transport.ServiceName)

	if p.TLS.Enabled {
		parts = append(parts, "tls", p.TLS.SNI)
	}
	if p.VLESS != nil {
		parts = append(parts, p.VLESS.Flow)
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
