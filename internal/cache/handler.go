package cache

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fruitsalade/nimbus/internal/logging"
)

// Handler serves GET /{token}/{name} relative to RoutePrefix. Every
// failure is a plain 404.
func (c *LocalCache) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/{token}/{name}", c.serveCached)
	return r
}

func (c *LocalCache) serveCached(w http.ResponseWriter, r *http.Request) {
	location, ok := c.ResolveToken(chi.URLParam(r, "token"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	f, err := os.Open(location)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		logging.Warn("stat cached file", zap.Error(err))
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Cache-Control", "private, no-store")
	http.ServeContent(w, r, chi.URLParam(r, "name"), info.ModTime(), f)
}
