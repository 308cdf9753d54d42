package security

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// MediaKind はノートに添付できるメディアの種類。
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaAudio MediaKind = "audio"
)

// MaxDataURLBytes はdata URLとして受け付けるメディアの最大サイズ（デコード後）。
const MaxDataURLBytes = 5 * 1024 * 1024

// ErrInvalidReference はメディア参照が受け付けられない形式であることを示す。
var ErrInvalidReference = errors.New("invalid media reference")

// OutboundGuardService は外部への通信と外部参照の安全性を扱う。
type OutboundGuardService interface {
	// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
	// safeurlライブラリにより、プライベートIP、ループバック、リンクローカル、
	// メタデータIPへのリクエストが自動的にブロックされる。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateMediaReference はノートの写真・音声の参照を検証する。
	// kindに一致するdata URLか、公開ホストを指すhttps URLのみ受け付ける。
	ValidateMediaReference(raw string, kind MediaKind) error
}

// blockedNetworks は外部参照として受け付けないネットワーク範囲。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		// プライベートIPアドレス (RFC 1918)
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		// ループバック
		"127.0.0.0/8",
		// リンクローカル（クラウドメタデータIPを含む）
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// outboundGuard はOutboundGuardServiceの実装。
type outboundGuard struct{}

// NewOutboundGuard はOutboundGuardServiceの新しいインスタンスを生成する。
func NewOutboundGuard() *outboundGuard {
	return &outboundGuard{}
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
// OAuthのトークン交換とユーザー情報取得に使うためhttpsの443番ポートのみ許可する。
func (g *outboundGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateMediaReference はノートの写真・音声の参照を検証する。
func (g *outboundGuard) ValidateMediaReference(raw string, kind MediaKind) error {
	if raw == "" {
		return fmt.Errorf("%w: empty", ErrInvalidReference)
	}
	if strings.HasPrefix(strings.ToLower(raw), "data:") {
		return validateDataURL(raw, kind)
	}
	return validatePublicURL(raw)
}

// validateDataURL は "data:<kind>/<subtype>[;base64],<payload>" 形式を検証する。
func validateDataURL(raw string, kind MediaKind) error {
	header, payload, ok := strings.Cut(raw[len("data:"):], ",")
	if !ok {
		return fmt.Errorf("%w: data URL without payload", ErrInvalidReference)
	}

	params := strings.Split(header, ";")
	mediaType := strings.ToLower(params[0])
	if !strings.HasPrefix(mediaType, string(kind)+"/") || len(mediaType) == len(kind)+1 {
		return fmt.Errorf("%w: media type %q is not %s", ErrInvalidReference, mediaType, kind)
	}

	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(p, "base64") {
			isBase64 = true
		}
	}
	if !isBase64 {
		return fmt.Errorf("%w: %s data URL must be base64 encoded", ErrInvalidReference, kind)
	}

	if base64.StdEncoding.DecodedLen(len(payload)) > MaxDataURLBytes {
		return fmt.Errorf("%w: payload exceeds %d bytes", ErrInvalidReference, MaxDataURLBytes)
	}
	if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
		return fmt.Errorf("%w: malformed base64 payload", ErrInvalidReference)
	}
	return nil
}

// validatePublicURL はDNS解決を伴わない静的な検証を行う。
func validatePublicURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}

	if !strings.EqualFold(parsed.Scheme, "https") {
		return fmt.Errorf("%w: disallowed scheme %q", ErrInvalidReference, parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidReference)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("%w: blocked IP address %s", ErrInvalidReference, ip)
		}
		return nil
	}

	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") || strings.HasSuffix(lower, ".internal") {
		return fmt.Errorf("%w: blocked host %s", ErrInvalidReference, host)
	}
	return nil
}

// isBlockedIP はIPアドレスがブロック対象のネットワーク範囲に含まれるかを検証する。
func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
