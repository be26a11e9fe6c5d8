package analyze

import (
	"context"
	"crypto/tls"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// httpsPortsForDomains and httpPortsForDomains are the port sets probed
// for SSL CN/SAN and HTTP header domains respectively.
var (
	httpsPortsForDomains = []int{443, 8443, 9443, 10443}
	httpPortsForDomains  = []int{80, 8080, 8000, 8008, 8888, 3000, 5000}

	domainHeaderPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Server:\s*([^\r\n]+)`),
		regexp.MustCompile(`(?i)X-Powered-By:\s*([^\r\n]+)`),
		regexp.MustCompile(`(?i)Location:\s*https?://([^/\r\n]+)`),
		regexp.MustCompile(`(?i)Set-Cookie:.*domain=([^;\r\n]+)`),
	}

	domainNamePattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?)*$`)
)

// DomainEnumerator gathers candidate hostnames for an IP from reverse DNS,
// SSL certificates, HTTP response headers, and PTR records.
type DomainEnumerator struct {
	Timeout  time.Duration
	Resolver string // DNS server for PTR lookups, e.g. "8.8.8.8:53"
}

// NewDomainEnumerator builds a DomainEnumerator with the given timeout and
// resolver address.
func NewDomainEnumerator(timeout time.Duration, resolver string) *DomainEnumerator {
	return &DomainEnumerator{Timeout: timeout, Resolver: resolver}
}

// Found is one enumerated domain with the source that surfaced it.
type Found struct {
	Name   string
	Source string // "reverse_dns" | "ssl_cn" | "ssl_san" | "http_header"
}

// Enumerate gathers domains for hostIP from all four sources,
// deduplicated and validated.
func (e *DomainEnumerator) Enumerate(ctx context.Context, hostIP string) []Found {
	seen := map[string]bool{}
	var out []Found
	add := func(name, source string) {
		name = strings.ToLower(strings.TrimSpace(name))
		if !e.isValidDomain(name) || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, Found{Name: name, Source: source})
	}

	if names, err := net.LookupAddr(hostIP); err == nil {
		for _, n := range names {
			add(strings.TrimSuffix(n, "."), "reverse_dns")
		}
	}

	cn, sans := e.sslDomains(hostIP)
	if cn != "" {
		add(cn, "ssl_cn")
	}
	for _, s := range sans {
		add(s, "ssl_san")
	}

	for _, d := range e.httpHeaderDomains(hostIP) {
		add(d, "http_header")
	}

	if e.Resolver != "" {
		if name, err := e.ptrLookup(ctx, hostIP); err == nil && name != "" {
			add(name, "reverse_dns")
		}
	}

	return out
}

// sslDomains connects to each candidate HTTPS port and pulls the leaf
// certificate's CN and DNS SANs.
func (e *DomainEnumerator) sslDomains(hostIP string) (cn string, sans []string) {
	for _, port := range httpsPortsForDomains {
		addr := net.JoinHostPort(hostIP, strconv.Itoa(port))
		rawConn, err := net.DialTimeout("tcp", addr, e.Timeout)
		if err != nil {
			continue
		}
		tlsConn := tls.Client(rawConn, &tls.Config{InsecureSkipVerify: true, ServerName: hostIP})
		tlsConn.SetDeadline(time.Now().Add(e.Timeout))
		if err := tlsConn.Handshake(); err != nil {
			rawConn.Close()
			continue
		}
		state := tlsConn.ConnectionState()
		if len(state.PeerCertificates) > 0 {
			cert := state.PeerCertificates[0]
			if cn == "" {
				cn = cert.Subject.CommonName
			}
			sans = append(sans, cert.DNSNames...)
		}
		tlsConn.Close()
	}
	return cn, sans
}

// httpHeaderDomains connects to each candidate HTTP port, issues a bare
// GET, and regex-scans the response headers for domain-bearing fields.
func (e *DomainEnumerator) httpHeaderDomains(hostIP string) []string {
	var found []string
	for _, port := range httpPortsForDomains {
		addr := net.JoinHostPort(hostIP, strconv.Itoa(port))
		conn, err := net.DialTimeout("tcp", addr, e.Timeout)
		if err != nil {
			continue
		}
		conn.SetDeadline(time.Now().Add(e.Timeout))
		if _, err := conn.Write([]byte("GET / HTTP/1.1\r\nHost: " + hostIP + "\r\n\r\n")); err != nil {
			conn.Close()
			continue
		}
		buf := make([]byte, 4096)
		n, _ := conn.Read(buf)
		conn.Close()
		response := string(buf[:n])

		for _, pat := range domainHeaderPatterns {
			for _, m := range pat.FindAllStringSubmatch(response, -1) {
				if e.isValidDomain(strings.TrimSpace(m[1])) {
					found = append(found, strings.TrimSpace(m[1]))
				}
			}
		}
	}
	return found
}

// ptrLookup queries e.Resolver directly for a PTR record, bypassing the
// system resolver.
func (e *DomainEnumerator) ptrLookup(ctx context.Context, hostIP string) (string, error) {
	reverse, err := dns.ReverseAddr(hostIP)
	if err != nil {
		return "", err
	}
	msg := new(dns.Msg)
	msg.SetQuestion(reverse, dns.TypePTR)

	client := &dns.Client{Timeout: e.Timeout}
	resp, _, err := client.ExchangeContext(ctx, msg, e.Resolver)
	if err != nil {
		return "", err
	}
	for _, ans := range resp.Answer {
		if ptr, ok := ans.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, "."), nil
		}
	}
	return "", nil
}

// isValidDomain accepts names that are regex-shaped, dotted, under the
// 253-byte limit, and not themselves IP literals.
func (e *DomainEnumerator) isValidDomain(domain string) bool {
	if domain == "" || len(domain) > 253 {
		return false
	}
	if !domainNamePattern.MatchString(domain) {
		return false
	}
	if !strings.Contains(domain, ".") {
		return false
	}
	if net.ParseIP(domain) != nil {
		return false
	}
	return true
}
