package analyze

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAnalyzeDetectsOpenSSHWithPortBoost(t *testing.T) {
	a := NewBannerAnalyzer()
	detections := a.Analyze("SSH-2.0-OpenSSH_8.9p1 Ubuntu-3ubuntu0.1", 22)
	require.NotEmpty(t, detections)
	require.Equal(t, ServiceSSH, detections[0].ServiceType)
	require.InDelta(t, 1.0, detections[0].Confidence, 0.05)
	require.Equal(t, "8.9", detections[0].Version)
}

func TestAnalyzeEmptyBannerReturnsUnknown(t *testing.T) {
	a := NewBannerAnalyzer()
	detections := a.Analyze("", 8080)
	require.Len(t, detections, 1)
	require.Equal(t, ServiceUnknown, detections[0].ServiceType)
	require.Zero(t, detections[0].Confidence)
}

func TestAnalyzeNginxOnPort443AlsoYieldsHTTPS(t *testing.T) {
	a := NewBannerAnalyzer()
	detections := a.Analyze("HTTP/1.1 200 OK\r\nServer: nginx/1.18.0", 443)

	var sawHTTP, sawHTTPS bool
	for _, d := range detections {
		if d.ServiceType == ServiceHTTP {
			sawHTTP = true
		}
		if d.ServiceType == ServiceHTTPS {
			sawHTTPS = true
		}
	}
	require.True(t, sawHTTP)
	require.True(t, sawHTTPS)
	for i := 1; i < len(detections); i++ {
		require.GreaterOrEqual(t, detections[i-1].Confidence, detections[i].Confidence, "detections must be sorted by confidence descending")
	}
}

func TestAnalyzeUnrecognizedBannerFallsBackToGenericBuckets(t *testing.T) {
	a := NewBannerAnalyzer()

	sslish := a.Analyze("Encrypted channel, certificate required", 9999)
	require.Equal(t, ServiceHTTPS, sslish[0].ServiceType)
	require.Equal(t, 0.5, sslish[0].Confidence)

	webish := a.Analyze("Welcome to the web server", 9999)
	require.Equal(t, ServiceHTTP, webish[0].ServiceType)
}

func TestShouldQueueSSLCertForHTTPSDetection(t *testing.T) {
	a := NewBannerAnalyzer()
	detections := a.Analyze("HTTP/1.1 200 OK\r\nServer: nginx", 443)
	require.True(t, a.ShouldQueueSSLCert(detections))
}

func TestShouldQueueSSLCertForSMTPWithSSLServerHeader(t *testing.T) {
	a := NewBannerAnalyzer()
	detections := []Detection{
		{ServiceType: ServiceSMTP, Confidence: 0.7, AdditionalInfo: map[string]string{"server": "postfix with starttls"}},
	}
	require.True(t, a.ShouldQueueSSLCert(detections))
}

func TestShouldQueueDomainEnumForWebServices(t *testing.T) {
	a := NewBannerAnalyzer()
	require.True(t, a.ShouldQueueDomainEnum([]Detection{{ServiceType: ServiceHTTP}}))
	require.False(t, a.ShouldQueueDomainEnum([]Detection{{ServiceType: ServiceRedis}}))
}

func TestSSLCertPriorityUsesMaxConfidenceOverHTTPSDetections(t *testing.T) {
	a := NewBannerAnalyzer()
	detections := []Detection{
		{ServiceType: ServiceHTTP, Confidence: 0.99},
		{ServiceType: ServiceHTTPS, Confidence: 0.95},
	}
	require.Equal(t, 9, a.SSLCertPriority(detections))

	noHTTPS := []Detection{{ServiceType: ServiceRedis, Confidence: 0.9}}
	require.Equal(t, 0, a.SSLCertPriority(noHTTPS))
}

func TestDomainEnumPriorityUsesMaxConfidenceOverHTTPOrHTTPS(t *testing.T) {
	a := NewBannerAnalyzer()
	detections := []Detection{
		{ServiceType: ServiceHTTP, Confidence: 0.72},
		{ServiceType: ServiceSSH, Confidence: 0.99},
	}
	require.Equal(t, 7, a.DomainEnumPriority(detections))
}
