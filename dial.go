package mqttc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"

	"golang.org/x/net/proxy"
	"golang.org/x/net/websocket"
)

var defaultPorts = map[string]string{
	"mqtt": "1883", "tcp": "1883",
	"mqtts": "8883", "tls": "8883", "ssl": "8883",
	"ws": "80", "wss": "443",
	"quic": "14567",
}

// dial opens the transport stream for options.URL.
func dial(ctx context.Context, options *Options) (net.Conn, error) {
	u, err := url.Parse(options.URL)
	if err != nil {
		return nil, err
	}
	addr := u.Host
	if u.Port() == "" {
		port, ok := defaultPorts[u.Scheme]
		if !ok {
			return nil, fmt.Errorf("mqttc: unsupported scheme %q", u.Scheme)
		}
		addr = net.JoinHostPort(u.Hostname(), port)
	}

	// 用户自定义拨号优先
	if options.DialContext != nil {
		conn, err := options.DialContext(ctx, "tcp", addr)
		if conn == nil && err == nil {
			err = errors.New("mqttc: DialContext hook returned (nil, nil)")
		}
		return conn, err
	}

	switch u.Scheme {
	case "mqtt", "tcp":
		return dialTCP(ctx, options, addr)
	case "mqtts", "tls", "ssl":
		conn, err := dialTCP(ctx, options, addr)
		if err != nil {
			return nil, err
		}
		tc := tls.Client(conn, tlsConfig(options.TLSConfig, u.Hostname()))
		if err := tc.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		return tc, nil
	case "ws", "wss":
		return dialWebsocket(ctx, options, u, addr)
	case "quic":
		return (&QUICDialer{TLSConfig: tlsConfig(options.TLSConfig, u.Hostname())}).Dial(ctx, addr)
	default:
		return nil, fmt.Errorf("mqttc: unsupported scheme %q", u.Scheme)
	}
}

// dialTCP dials addr directly or through the SOCKS5 proxy in options.Proxy.
func dialTCP(ctx context.Context, options *Options, addr string) (net.Conn, error) {
	forward := &net.Dialer{}
	if options.Proxy == "" {
		return forward.DialContext(ctx, "tcp", addr)
	}
	pu, err := url.Parse(options.Proxy)
	if err != nil {
		return nil, fmt.Errorf("mqttc: invalid proxy URL: %w", err)
	}
	if pu.Scheme != "socks5" && pu.Scheme != "socks5h" {
		return nil, fmt.Errorf("mqttc: unsupported proxy scheme %q", pu.Scheme)
	}
	proxyAddr := pu.Host
	if pu.Port() == "" {
		proxyAddr = net.JoinHostPort(pu.Hostname(), "1080")
	}
	var auth *proxy.Auth
	if pu.User != nil {
		password, _ := pu.User.Password()
		auth = &proxy.Auth{User: pu.User.Username(), Password: password}
	}
	dialer, err := proxy.SOCKS5("tcp", proxyAddr, auth, forward)
	if err != nil {
		return nil, fmt.Errorf("mqttc: socks5 dialer: %w", err)
	}
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, "tcp", addr)
	}
	return dialer.Dial("tcp", addr)
}

func dialWebsocket(ctx context.Context, options *Options, u *url.URL, addr string) (net.Conn, error) {
	// 构造 WebSocket URL，默认路径 /mqtt
	path := u.Path
	if path == "" {
		path = "/mqtt"
	}
	loc := &url.URL{Scheme: u.Scheme, Host: addr, Path: path, RawQuery: u.RawQuery}
	originScheme := "http"
	if u.Scheme == "wss" {
		originScheme = "https"
	}
	origin := &url.URL{Scheme: originScheme, Host: addr}

	cfg, err := websocket.NewConfig(loc.String(), origin.String())
	if err != nil {
		return nil, err
	}
	// 协商 mqtt 子协议，二进制帧
	cfg.Protocol = []string{"mqtt"}
	if u.Scheme == "wss" {
		cfg.TlsConfig = tlsConfig(options.TLSConfig, u.Hostname())
	}
	if options.Proxy != "" {
		// websocket 握手走自定义的底层连接
		conn, err := dialTCP(ctx, options, addr)
		if err != nil {
			return nil, err
		}
		if u.Scheme == "wss" {
			tc := tls.Client(conn, cfg.TlsConfig)
			if err := tc.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, err
			}
			conn = tc
		}
		ws, err := websocket.NewClient(cfg, conn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		ws.PayloadType = websocket.BinaryFrame
		return ws, nil
	}
	ws, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, err
	}
	ws.PayloadType = websocket.BinaryFrame
	return ws, nil
}

func tlsConfig(cfg *tls.Config, host string) *tls.Config {
	if cfg == nil {
		return &tls.Config{ServerName: host}
	}
	if cfg.ServerName == "" && !cfg.InsecureSkipVerify {
		cfg = cfg.Clone()
		cfg.ServerName = host
	}
	return cfg
}
