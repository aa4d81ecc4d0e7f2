package api

import "net/http"

const Prefix = "/api/push"

// RegisterRoutes mounts the push and token handlers under Prefix. wrap is
// applied to every route; pass nil for none.
func RegisterRoutes(mux *http.ServeMux, push *PushAPI, tokens *TokenAPI, wrap func(http.Handler) http.Handler) {
	if wrap == nil {
		wrap = func(h http.Handler) http.Handler { return h }
	}
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, wrap(h))
	}

	handle("GET "+Prefix+"/status", push.Status)
	handle("GET "+Prefix+"/web/public-key", push.PublicKey)
	handle("POST "+Prefix+"/send", push.Send)

	handle("POST "+Prefix+"/tokens", tokens.Register)
	handle("GET "+Prefix+"/tokens", tokens.List)
	handle("GET "+Prefix+"/tokens/stats", tokens.Stats)
	handle("GET "+Prefix+"/tokens/user/{userId}", tokens.ListByUser)
	handle("GET "+Prefix+"/tokens/{id}", tokens.Get)
	handle("DELETE "+Prefix+"/tokens/user/{userId}", tokens.DeleteByUser)
	handle("DELETE "+Prefix+"/tokens/{id}", tokens.Delete)
}
