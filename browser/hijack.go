package browser

import (
	"net/url"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// resourceTypes maps config names to Rod protocol resource types.
var resourceTypes = map[string]proto.NetworkResourceType{
	"image":      proto.NetworkResourceTypeImage,
	"stylesheet": proto.NetworkResourceTypeStylesheet,
	"font":       proto.NetworkResourceTypeFont,
	"media":      proto.NetworkResourceTypeMedia,
	"script":     proto.NetworkResourceTypeScript,
	"ping":       proto.NetworkResourceTypePing,
	"manifest":   proto.NetworkResourceTypeManifest,
}

// hostSet matches a hostname or any of its parent domains.
type hostSet map[string]struct{}

func newHostSet(hosts []string) hostSet {
	set := make(hostSet, len(hosts))
	for _, h := range hosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			set[strings.TrimPrefix(h, ".")] = struct{}{}
		}
	}
	return set
}

func (s hostSet) match(host string) bool {
	host = strings.ToLower(host)
	for host != "" {
		if _, ok := s[host]; ok {
			return true
		}
		idx := strings.IndexByte(host, '.')
		if idx < 0 {
			break
		}
		host = host[idx+1:]
	}
	return false
}

// blockedTypeSet resolves config names case-insensitively; unknown names are
// ignored.
func blockedTypeSet(names []string) map[proto.NetworkResourceType]struct{} {
	set := make(map[proto.NetworkResourceType]struct{}, len(names))
	for _, name := range names {
		if rt, ok := resourceTypes[strings.ToLower(strings.TrimSpace(name))]; ok {
			set[rt] = struct{}{}
		}
	}
	return set
}

// setupHijack installs a request interceptor on the page that fails requests
// of the blocked resource types or to the blocked hosts.
//
// Returns the running HijackRouter so Close can stop it, or nil if there is
// nothing to block.
func setupHijack(page *rod.Page, blockedTypes, blockedHosts []string) *rod.HijackRouter {
	types := blockedTypeSet(blockedTypes)
	hosts := newHostSet(blockedHosts)
	if len(types) == 0 && len(hosts) == 0 {
		return nil
	}

	router := page.HijackRequests()
	_ = router.Add("*", "", func(ctx *rod.Hijack) {
		if _, ok := types[ctx.Request.Type()]; ok {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		if len(hosts) > 0 {
			if u, err := url.Parse(ctx.Request.URL().String()); err == nil && hosts.match(u.Hostname()) {
				ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
				return
			}
		}
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})

	// router.Run blocks until router.Stop.
	go router.Run()

	return router
}
