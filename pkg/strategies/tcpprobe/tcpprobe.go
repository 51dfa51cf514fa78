package tcpprobe

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/Sh00ty/cloud-rollout/pkg/probe"
)

type Settings struct {
	Timeout       time.Duration `json:"timeout"`
	UseTLS        bool          `json:"use_tls"`
	TLSServerName string        `json:"tls_server_name"`
	TLSSkipVerify bool          `json:"tls_skip_verify"`
}

// TCPProbe considers an endpoint healthy when a connection can be
// established within the timeout. No payload is exchanged.
type TCPProbe struct {
	endpoint  string
	tlsConfig *tls.Config
	dialer    net.Dialer
}

func New(settings *Settings, endpoint string) (*TCPProbe, error) {
	if settings.Timeout == 0 {
		settings.Timeout = probe.DefaultTimeout
	}
	var tlsConfig *tls.Config
	if settings.UseTLS {
		tlsConfig = new(tls.Config)
		tlsConfig.InsecureSkipVerify = settings.TLSSkipVerify
		tlsConfig.ServerName = settings.TLSServerName
	}
	return &TCPProbe{
		endpoint:  endpoint,
		tlsConfig: tlsConfig,
		dialer: net.Dialer{
			Timeout:   settings.Timeout,
			KeepAlive: -1,
		},
	}, nil
}

func (p *TCPProbe) Check(ctx context.Context) (bool, error) {
	var (
		conn net.Conn
		err  error
	)
	if p.tlsConfig == nil {
		conn, err = p.dialer.DialContext(ctx, "tcp", p.endpoint)
	} else {
		tlsDialer := tls.Dialer{NetDialer: &p.dialer, Config: p.tlsConfig}
		conn, err = tlsDialer.DialContext(ctx, "tcp", p.endpoint)
	}
	if err != nil {
		return false, err
	}
	_ = conn.Close()
	return true, nil
}
