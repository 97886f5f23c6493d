// Package handler exposes the service's actions as http.HandlerFuncs for
// hosts that route SP endpoints themselves, plus a pass-through middleware
// for hosts that mount the whole surface at once.
package handler

import (
	"net/http"

	"github.com/sitecraft/samlauth"
)

// LoginHandlerFunc initiates login with a redirect to the IdP.
func LoginHandlerFunc(svc *samlauth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc.Dispatch(w, r, samlauth.ActionLogin)
	}
}

// ACSHandlerFunc consumes the IdP's authentication response.
func ACSHandlerFunc(svc *samlauth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc.Dispatch(w, r, samlauth.ActionACS)
	}
}

// SLSHandlerFunc processes single-logout messages.
func SLSHandlerFunc(svc *samlauth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc.Dispatch(w, r, samlauth.ActionSLS)
	}
}

// MetadataHandlerFunc serves the SP metadata document.
func MetadataHandlerFunc(svc *samlauth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc.Dispatch(w, r, samlauth.ActionMetadata)
	}
}

// Middleware dispatches requests for the four SP paths and passes everything
// else to next untouched. A request this layer does not recognize is not an
// error; the rest of the application handles it.
func Middleware(svc *samlauth.Service, next http.Handler) http.Handler {
	actions := map[string]samlauth.Action{
		samlauth.LoginPath:    samlauth.ActionLogin,
		samlauth.ACSPath:      samlauth.ActionACS,
		samlauth.SLSPath:      samlauth.ActionSLS,
		samlauth.MetadataPath: samlauth.ActionMetadata,
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if action, ok := actions[r.URL.Path]; ok {
			if svc.Dispatch(w, r, action) {
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
