// Package tor lets the crawler fetch through a SOCKS5 proxy, usually a Tor
// daemon. Client wraps the proxy dialer and hands out an http.Transport for
// crawler.WithTransport; EmbeddedTor starts a private Tor daemon with
// tornago when no proxy is running.
package tor
