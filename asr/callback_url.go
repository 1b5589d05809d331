package asr

import (
	"fmt"
	"net"

	"github.com/flowclip/flowclip-api/log"
)

// ResolveCallbackURL builds the callback URL advertised to the ASR backend.
// Preference order: configured public IP, auto-detected outbound address,
// localhost. Localhost only works when both services share a host, but it
// keeps single-machine deployments functional.
func ResolveCallbackURL(publicIP string, port int) string {
	host := publicIP
	if host == "" {
		host = detectOutboundIP()
	}
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d/callback", host, port)
}

// detectOutboundIP learns the local address the OS would route external
// traffic through. The dial is UDP: no packets are sent.
func detectOutboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		log.LogNoTaskID("callback address auto-detection failed", "err", err)
		return ""
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return ""
	}
	return addr.IP.String()
}
