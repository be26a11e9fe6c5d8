package analyze

import (
	"regexp"
	"sort"
	"strings"
)

// ServiceType is a detected service family.
type ServiceType string

const (
	ServiceHTTP       ServiceType = "http"
	ServiceHTTPS      ServiceType = "https"
	ServiceSSH        ServiceType = "ssh"
	ServiceFTP        ServiceType = "ftp"
	ServiceSMTP       ServiceType = "smtp"
	ServiceDNS        ServiceType = "dns"
	ServiceMySQL      ServiceType = "mysql"
	ServicePostgreSQL ServiceType = "postgresql"
	ServiceRedis      ServiceType = "redis"
	ServiceMongoDB    ServiceType = "mongodb"
	ServiceMSSQL      ServiceType = "mssql"
	ServiceTelnet     ServiceType = "telnet"
	ServiceIMAP       ServiceType = "imap"
	ServicePOP3       ServiceType = "pop3"
	ServiceRDP        ServiceType = "rdp"
	ServiceVNC        ServiceType = "vnc"
	ServiceUnknown    ServiceType = "unknown"
)

// Detection is one service match produced by analyzing a banner.
type Detection struct {
	ServiceType    ServiceType
	Confidence     float64
	Version        string
	AdditionalInfo map[string]string
}

type pattern struct {
	re         *regexp.Regexp
	confidence float64
}

// BannerAnalyzer classifies banners into service detections and decides
// which follow-up jobs they justify.
type BannerAnalyzer struct {
	servicePatterns map[ServiceType][]pattern
	versionPatterns map[ServiceType][]*regexp.Regexp
	sslIndicators   []string
	webIndicators   []string
	portBoosts      map[ServiceType]map[int]float64
}

// NewBannerAnalyzer builds a BannerAnalyzer with the fixed pattern tables.
func NewBannerAnalyzer() *BannerAnalyzer {
	re := func(s string) *regexp.Regexp { return regexp.MustCompile("(?i)" + s) }
	a := &BannerAnalyzer{
		servicePatterns: map[ServiceType][]pattern{
			ServiceHTTP: {
				{re(`apache|httpd`), 0.9},
				{re(`nginx`), 0.9},
				{re(`iis`), 0.9},
				{re(`lighttpd`), 0.8},
				{re(`caddy`), 0.8},
				{re(`http/1\.[01]`), 0.7},
				{re(`server:\s*([^\r\n]+)`), 0.6},
			},
			ServiceHTTPS: {
				{re(`https`), 0.8},
				{re(`ssl`), 0.7},
				{re(`tls`), 0.7},
				{re(`secure`), 0.6},
			},
			ServiceSSH: {
				{re(`ssh-2\.0`), 0.95},
				{re(`openssh`), 0.9},
				{re(`dropbear`), 0.8},
				{re(`libssh`), 0.7},
			},
			ServiceFTP: {
				{re(`vsftpd`), 0.9},
				{re(`proftpd`), 0.8},
				{re(`pure-ftpd`), 0.8},
				{re(`220.*ftp`), 0.7},
			},
			ServiceSMTP: {
				{re(`postfix`), 0.9},
				{re(`sendmail`), 0.8},
				{re(`exim`), 0.8},
				{re(`220.*smtp`), 0.7},
				{re(`esmtp`), 0.7},
			},
			ServiceDNS: {
				{re(`bind`), 0.9},
				{re(`dnsmasq`), 0.8},
				{re(`powerdns`), 0.8},
				{re(`53.*dns`), 0.6},
			},
			ServiceMySQL: {
				{re(`mysql`), 0.9},
				{re(`mariadb`), 0.9},
				{re(`percona`), 0.8},
			},
			ServicePostgreSQL: {
				{re(`postgresql`), 0.9},
				{re(`postgres`), 0.8},
			},
			ServiceRedis: {
				{re(`redis`), 0.9},
			},
			ServiceMongoDB: {
				{re(`mongodb`), 0.9},
				{re(`mongo`), 0.8},
			},
			ServiceMSSQL: {
				{re(`mssql`), 0.9},
				{re(`sql server`), 0.8},
			},
			ServiceTelnet: {
				{re(`telnet`), 0.8},
			},
			ServiceIMAP: {
				{re(`imap`), 0.8},
				{re(`dovecot`), 0.9},
			},
			ServicePOP3: {
				{re(`pop3`), 0.8},
			},
			ServiceRDP: {
				{re(`rdp`), 0.8},
				{re(`terminal services`), 0.7},
			},
			ServiceVNC: {
				{re(`vnc`), 0.8},
				{re(`tightvnc`), 0.9},
				{re(`tigervnc`), 0.9},
			},
		},
		versionPatterns: map[ServiceType][]*regexp.Regexp{
			ServiceHTTP: {
				re(`apache/([0-9.]+)`),
				re(`nginx/([0-9.]+)`),
				re(`iis/([0-9.]+)`),
				re(`server:\s*([^\r\n]+)`),
			},
			ServiceSSH: {
				re(`openssh_([0-9.]+)`),
				re(`ssh-2\.0-([^\s]+)`),
			},
			ServiceFTP: {
				re(`vsftpd\s+([0-9.]+)`),
				re(`proftpd\s+([0-9.]+)`),
			},
			ServiceSMTP: {
				re(`postfix/([0-9.]+)`),
				re(`sendmail\s+([0-9.]+)`),
			},
			ServiceMySQL: {
				re(`mysql\s+([0-9.]+)`),
				re(`mariadb\s+([0-9.]+)`),
			},
		},
		sslIndicators: []string{"ssl", "tls", "https", "starttls", "ssl/tls", "tls/ssl", "secure", "encrypted", "certificate", "x509"},
		webIndicators: []string{"http", "https", "www", "web", "server", "apache", "nginx", "iis", "lighttpd", "caddy", "tomcat", "jetty"},
		portBoosts: map[ServiceType]map[int]float64{
			ServiceHTTP:       {80: 0.1, 8080: 0.1, 8000: 0.1},
			ServiceHTTPS:      {443: 0.1, 8443: 0.1, 9443: 0.1},
			ServiceSSH:        {22: 0.1},
			ServiceFTP:        {21: 0.1},
			ServiceSMTP:       {25: 0.1, 587: 0.1, 465: 0.1},
			ServiceDNS:        {53: 0.1},
			ServiceMySQL:      {3306: 0.1},
			ServicePostgreSQL: {5432: 0.1},
			ServiceRedis:      {6379: 0.1},
			ServiceMongoDB:    {27017: 0.1},
			ServiceMSSQL:      {1433: 0.1},
			ServiceTelnet:     {23: 0.1},
			ServiceIMAP:       {143: 0.1, 993: 0.1},
			ServicePOP3:       {110: 0.1, 995: 0.1},
			ServiceRDP:        {3389: 0.1},
			ServiceVNC:        {5900: 0.1, 5901: 0.1},
		},
	}
	return a
}

var serverHeaderPattern = regexp.MustCompile(`(?i)server:\s*([^\r\n]+)`)
var sshVersionPattern = regexp.MustCompile(`(?i)ssh-([0-9.]+)-([^\s]+)`)

// Analyze classifies banner, returning detections sorted by confidence
// descending. An unrecognized banner falls back to the generic SSL/web
// keyword buckets at 0.5 confidence, else UNKNOWN at 0.
func (a *BannerAnalyzer) Analyze(banner string, port int) []Detection {
	if strings.TrimSpace(banner) == "" {
		return []Detection{{ServiceType: ServiceUnknown, Confidence: 0}}
	}
	lower := strings.ToLower(banner)

	var detections []Detection
	for svc, patterns := range a.servicePatterns {
		for _, p := range patterns {
			if !p.re.MatchString(lower) {
				continue
			}
			confidence := a.calculateConfidence(p.confidence, lower, port, svc)
			detections = append(detections, Detection{
				ServiceType:    svc,
				Confidence:     confidence,
				Version:        a.extractVersion(lower, svc),
				AdditionalInfo: a.extractAdditionalInfo(lower, svc),
			})
		}
	}

	if len(detections) == 0 {
		switch {
		case containsAny(lower, a.sslIndicators):
			detections = append(detections, Detection{ServiceType: ServiceHTTPS, Confidence: 0.5})
		case containsAny(lower, a.webIndicators):
			detections = append(detections, Detection{ServiceType: ServiceHTTP, Confidence: 0.5})
		default:
			detections = append(detections, Detection{ServiceType: ServiceUnknown, Confidence: 0})
		}
	}

	if port == 443 {
		for _, d := range detections {
			if d.ServiceType == ServiceHTTP {
				detections = append(detections, Detection{ServiceType: ServiceHTTPS, Confidence: 0.9})
				break
			}
		}
	}

	sort.SliceStable(detections, func(i, j int) bool { return detections[i].Confidence > detections[j].Confidence })
	return detections
}

func (a *BannerAnalyzer) calculateConfidence(base float64, banner string, port int, svc ServiceType) float64 {
	confidence := base
	if boosts, ok := a.portBoosts[svc]; ok {
		confidence += boosts[port]
	}
	if svc == ServiceHTTP || svc == ServiceHTTPS {
		if countContained(banner, a.webIndicators) > 1 {
			confidence += 0.1
		}
	}
	if svc == ServiceHTTPS {
		if countContained(banner, a.sslIndicators) > 1 {
			confidence += 0.1
		}
	}
	if confidence > 1.0 {
		confidence = 1.0
	}
	return confidence
}

func (a *BannerAnalyzer) extractVersion(banner string, svc ServiceType) string {
	for _, re := range a.versionPatterns[svc] {
		if m := re.FindStringSubmatch(banner); m != nil {
			return m[1]
		}
	}
	return ""
}

func (a *BannerAnalyzer) extractAdditionalInfo(banner string, svc ServiceType) map[string]string {
	info := map[string]string{}
	if svc == ServiceHTTP || svc == ServiceHTTPS {
		if m := serverHeaderPattern.FindStringSubmatch(banner); m != nil {
			info["server"] = strings.TrimSpace(m[1])
		}
	}
	if svc == ServiceSSH {
		if m := sshVersionPattern.FindStringSubmatch(banner); m != nil {
			info["ssh_version"] = m[1]
			info["software"] = m[2]
		}
	}
	return info
}

// ShouldQueueSSLCert reports whether detections justify an ssl_cert
// follow-up: an HTTPS detection, or a mail service whose server banner
// advertises TLS.
func (a *BannerAnalyzer) ShouldQueueSSLCert(detections []Detection) bool {
	for _, d := range detections {
		if d.ServiceType == ServiceHTTPS {
			return true
		}
		if d.ServiceType == ServiceSMTP || d.ServiceType == ServiceIMAP || d.ServiceType == ServicePOP3 {
			if containsAny(strings.ToLower(d.AdditionalInfo["server"]), a.sslIndicators) {
				return true
			}
		}
	}
	return false
}

// ShouldQueueDomainEnum reports whether detections justify a domain_enum
// follow-up: any HTTP or HTTPS detection.
func (a *BannerAnalyzer) ShouldQueueDomainEnum(detections []Detection) bool {
	for _, d := range detections {
		if d.ServiceType == ServiceHTTP || d.ServiceType == ServiceHTTPS {
			return true
		}
	}
	return false
}

// SSLCertPriority returns the priority a new ssl_cert follow-up job should
// carry: max(confidence*10) over the HTTPS detections.
func (a *BannerAnalyzer) SSLCertPriority(detections []Detection) int {
	priority := 0
	for _, d := range detections {
		if d.ServiceType == ServiceHTTPS {
			priority = maxInt(priority, int(d.Confidence*10))
		}
	}
	return priority
}

// DomainEnumPriority returns the priority a new domain_enum follow-up job
// should carry: max(confidence*10) over the HTTP and HTTPS detections.
func (a *BannerAnalyzer) DomainEnumPriority(detections []Detection) int {
	priority := 0
	for _, d := range detections {
		if d.ServiceType == ServiceHTTP || d.ServiceType == ServiceHTTPS {
			priority = maxInt(priority, int(d.Confidence*10))
		}
	}
	return priority
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func containsAny(s string, indicators []string) bool {
	for _, i := range indicators {
		if strings.Contains(s, i) {
			return true
		}
	}
	return false
}

func countContained(s string, indicators []string) int {
	n := 0
	for _, i := range indicators {
		if strings.Contains(s, i) {
			n++
		}
	}
	return n
}
