package sh

import (
	"net/url"
	"strings"
)

func isURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return false
	}
	return u.Host != "" || (u.Scheme == "serial" && u.Path != "")
}

func isMQTT(s string) bool {
	return strings.HasPrefix(s, "mqtt://") || strings.HasPrefix(s, "mqtts://")
}
