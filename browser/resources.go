package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockResources drops requests of the listed resource types. Documents and
// scripts always pass so detection signals stay observable.
func blockResources(p *rod.Page, types []string) *rod.HijackRouter {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[strings.ToLower(t)] = true
	}
	router := p.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if blocked(set, string(h.Request.Type())) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}

func blocked(set map[string]bool, resType string) bool {
	switch strings.ToLower(resType) {
	case "document", "script", "xhr", "fetch":
		return false
	case "image":
		return set["images"] || set["image"]
	case "font":
		return set["fonts"] || set["font"]
	case "media":
		return set["media"]
	case "stylesheet":
		return set["stylesheets"] || set["stylesheet"]
	}
	return set[strings.ToLower(resType)]
}
