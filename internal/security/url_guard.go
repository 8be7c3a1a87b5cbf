package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// URLGuard は外部URLの安全性を検証する。
// ピン画像URLの受け入れ時と、画像アップロード先への送信時に使用される。
type URLGuard interface {
	// ValidateURL はDNS解決を伴わない静的な検証を行う。
	ValidateURL(rawURL string) error

	// NewSafeClient はプライベートIP等への接続をDialerレベルで拒否するHTTPクライアントを生成する。
	NewSafeClient(timeout time.Duration) *http.Client
}

// blockedNetworks はパッケージ初期化時に1回だけパースする。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		// クラウドメタデータIP (169.254.169.254) を含む
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

var blockedHostnames = []string{"localhost"}

type urlGuard struct {
	schemes []string
}

// NewImageURLGuard は画像URL用のURLGuardを生成する。
// 画像はブラウザから直接参照されるためhttpsのみ許可する。
func NewImageURLGuard() *urlGuard {
	return &urlGuard{schemes: []string{"https"}}
}

// NewOutboundURLGuard はサーバー間通信用のURLGuardを生成する。
func NewOutboundURLGuard() *urlGuard {
	return &urlGuard{schemes: []string{"http", "https"}}
}

// ValidateURL はスキーム、ホスト、IPアドレスを検証する。
// DNS再バインディングはNewSafeClient側のDialer検証で防ぐ。
func (g *urlGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !g.allowsScheme(scheme) {
		return fmt.Errorf("disallowed scheme: %q (allowed: %v)", scheme, g.schemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, network := range blockedNetworks {
			if network.Contains(ip) {
				return fmt.Errorf("blocked IP address: %s", ip.String())
			}
		}
		return nil
	}

	for _, blocked := range blockedHostnames {
		if strings.EqualFold(host, blocked) {
			return fmt.Errorf("blocked host: %s", host)
		}
	}
	return nil
}

// NewSafeClient はsafeurlでラップしたHTTPクライアントを返す。
func (g *urlGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(g.schemes...).
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

func (g *urlGuard) allowsScheme(scheme string) bool {
	for _, allowed := range g.schemes {
		if scheme == allowed {
			return true
		}
	}
	return false
}

var (
	_ URLGuard      = (*urlGuard)(nil)
	_ TextSanitizer = (*textSanitizer)(nil)
)
