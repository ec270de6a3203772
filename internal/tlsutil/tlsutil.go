package tlsutil

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// 出站连接的默认连接池参数
const (
	defaultMaxIdlePerHost = 16
	dialTimeout           = 10 * time.Second
	handshakeTimeout      = 10 * time.Second
)

// DefaultTLSConfig TLS 1.2+，仅 AEAD 密码套件
func DefaultTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	}
}

// RedisTLSConfig 为 Redis 地址生成 TLS 配置，ServerName 取自 host 部分。
// 托管 Redis 通常只暴露 host:port，go-redis 不会自动填充 SNI。
func RedisTLSConfig(addr string) *tls.Config {
	cfg := DefaultTLSConfig()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if net.ParseIP(host) == nil {
		cfg.ServerName = host
	}
	return cfg
}

// Transport 返回出站 HTTP Transport。
// maxIdlePerHost <= 0 时使用默认值；向量库与模型 API 都是单 host 高频调用。
func Transport(maxIdlePerHost int) *http.Transport {
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = defaultMaxIdlePerHost
	}
	return &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: DefaultTLSConfig(),
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          maxIdlePerHost * 4,
		MaxIdleConnsPerHost:   maxIdlePerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   handshakeTimeout,
		ExpectContinueTimeout: time.Second,
	}
}

// SecureHTTPClient 带 TLS 加固与默认连接池的 http.Client
func SecureHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout, Transport: Transport(0)}
}

// PooledHTTPClient 同 SecureHTTPClient，但可以指定每个 host 的空闲连接数
func PooledHTTPClient(timeout time.Duration, maxIdlePerHost int) *http.Client {
	return &http.Client{Timeout: timeout, Transport: Transport(maxIdlePerHost)}
}
