package analyze

import (
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCleanBannerTextCollapsesWhitespaceAndTruncates(t *testing.T) {
	require.Equal(t, "SSH-2.0-OpenSSH_8.9", cleanBannerText("SSH-2.0-OpenSSH_8.9\r\n"))
	require.Equal(t, "a b c", cleanBannerText("a\r\nb\n\nc"))

	long := strings.Repeat("x", 600)
	cleaned := cleanBannerText(long)
	require.Len(t, cleaned, 503)
	require.True(t, strings.HasSuffix(cleaned, "..."))
}

func TestGrabViaSocketReadsUnpromptedGreeting(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("220 ESMTP ready\r\n"))
		time.Sleep(50 * time.Millisecond)
	}()

	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	g := NewBannerGrabber("", 2*time.Second)
	banner := g.grabViaSocket("127.0.0.1", port)
	require.Equal(t, "220 ESMTP ready", banner)
}

func TestGrabSkipsUDP(t *testing.T) {
	g := NewBannerGrabber("", time.Second)
	require.Empty(t, g.Grab(context.Background(), "127.0.0.1", 53, "udp"))
}

func TestGrabViaNmapWithoutNmapPathReturnsEmpty(t *testing.T) {
	g := NewBannerGrabber("", time.Second)
	require.Empty(t, g.grabViaNmap(context.Background(), "127.0.0.1", 22))
}
