package backend

import (
	"net/http"

	"github.com/gorilla/mux"
)

var (
	// Version is the version of the current build. Deployments override it
	// via -ldflags "-X ...backend.Version=v1.2.3".
	Version = "unset"
)

func (b *Backend) handleVersion(router *mux.Router) {
	router.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": Version})
	}).Methods(http.MethodOptions, http.MethodGet)
}
