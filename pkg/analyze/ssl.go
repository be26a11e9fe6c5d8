package analyze

import (
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cuemby/faux-recon/pkg/types"
)

// SSLGrabber connects over TLS without verifying the peer and extracts
// certificate fields from whatever the server presents.
type SSLGrabber struct {
	Timeout time.Duration
}

// NewSSLGrabber builds an SSLGrabber with the given per-connection timeout.
func NewSSLGrabber(timeout time.Duration) *SSLGrabber {
	return &SSLGrabber{Timeout: timeout}
}

// Grab retrieves the leaf certificate presented by hostIP:port, or returns
// (nil, err) if the handshake fails or no certificate is returned.
func (g *SSLGrabber) Grab(ctx context.Context, hostIP string, port int) (*types.SSLCertificate, error) {
	dialer := &net.Dialer{Timeout: g.Timeout}
	addr := net.JoinHostPort(hostIP, fmt.Sprintf("%d", port))
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer rawConn.Close()

	tlsConn := tls.Client(rawConn, &tls.Config{InsecureSkipVerify: true, ServerName: hostIP})
	tlsConn.SetDeadline(time.Now().Add(g.Timeout))
	if err := tlsConn.Handshake(); err != nil {
		return nil, fmt.Errorf("tls handshake %s: %w", addr, err)
	}

	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, fmt.Errorf("no peer certificate from %s", addr)
	}
	return processCertificate(state.PeerCertificates[0], hostIP), nil
}

func processCertificate(cert *x509.Certificate, hostIP string) *types.SSLCertificate {
	sha1Sum := sha1.Sum(cert.Raw)
	sha256Sum := sha256.Sum256(cert.Raw)

	domains := extractDomains(cert)
	extensions := extractExtensions(cert)
	extensions["fingerprintSha1"] = strings.ToUpper(hex.EncodeToString(sha1Sum[:]))

	return &types.SSLCertificate{
		Fingerprint:        strings.ToUpper(hex.EncodeToString(sha256Sum[:])),
		PEMData:            hex.EncodeToString(cert.Raw),
		SubjectCN:          cert.Subject.CommonName,
		IssuerCN:           cert.Issuer.CommonName,
		ValidFrom:          cert.NotBefore.UTC().Format(time.RFC3339),
		ValidUntil:         cert.NotAfter.UTC().Format(time.RFC3339),
		SignatureAlgorithm: cert.SignatureAlgorithm.String(),
		Extensions:         extensions,
		Domains:            domains,
		HostIP:             hostIP,
		CreatedAt:          time.Now(),
		UpdatedAt:          time.Now(),
	}
}

// extractDomains unions the certificate's Common Name and DNS SANs.
func extractDomains(cert *x509.Certificate) []string {
	seen := map[string]bool{}
	var domains []string
	add := func(d string) {
		if d == "" || seen[d] {
			return
		}
		seen[d] = true
		domains = append(domains, d)
	}
	add(cert.Subject.CommonName)
	for _, name := range cert.DNSNames {
		add(name)
	}
	return domains
}

// extractExtensions captures the extension fields worth storing: key
// usage, SANs, basic constraints, AKI/SKI, CRL and AIA URLs.
func extractExtensions(cert *x509.Certificate) map[string]string {
	ext := map[string]string{}
	if cert.KeyUsage != 0 {
		ext["keyUsage"] = fmt.Sprintf("%d", cert.KeyUsage)
	}
	if len(cert.ExtKeyUsage) > 0 {
		ext["extendedKeyUsage"] = fmt.Sprintf("%v", cert.ExtKeyUsage)
	}
	if len(cert.DNSNames) > 0 {
		ext["subjectAltName"] = strings.Join(cert.DNSNames, ",")
	}
	if cert.IsCA {
		ext["basicConstraints"] = "CA:TRUE"
	} else {
		ext["basicConstraints"] = "CA:FALSE"
	}
	if len(cert.AuthorityKeyId) > 0 {
		ext["authorityKeyIdentifier"] = hex.EncodeToString(cert.AuthorityKeyId)
	}
	if len(cert.SubjectKeyId) > 0 {
		ext["subjectKeyIdentifier"] = hex.EncodeToString(cert.SubjectKeyId)
	}
	if len(cert.CRLDistributionPoints) > 0 {
		ext["crlDistributionPoints"] = strings.Join(cert.CRLDistributionPoints, ",")
	}
	if len(cert.IssuingCertificateURL) > 0 {
		ext["authorityInfoAccess"] = strings.Join(cert.IssuingCertificateURL, ",")
	}
	return ext
}
