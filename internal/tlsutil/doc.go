// Package tlsutil 为出站连接（模型 API、Qdrant、Redis）提供统一的 TLS 与连接池设置。
package tlsutil
