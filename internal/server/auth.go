package server

import (
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/alexjbarnes/ambient-dash/internal/auth"
	apperrors "github.com/alexjbarnes/ambient-dash/internal/errors"
	"github.com/alexjbarnes/ambient-dash/internal/models"
)

// relayPage moves the implicit-grant fragment into the query string so
// the server can read it. Without a fragment it returns home.
var relayPage = template.Must(template.New("relay").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>ambient-dash</title>
</head>
<body>
<p>Completing sign-in&hellip;</p>
<script>
  (function () {
    var fragment = window.location.hash.replace(/^#/, "");
    if (!fragment) {
      window.location.replace({{.Home}});
      return;
    }
    window.location.replace(window.location.pathname + "?" + fragment);
  })();
</script>
</body>
</html>
`))

func (h *handlers) manager(w http.ResponseWriter, r *http.Request) (*auth.Manager, bool) {
	m, err := h.dash.Manager(r.PathValue("provider"))
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
		return nil, false
	}

	return m, true
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	w.Write([]byte(msg))
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	m, ok := h.manager(w, r)
	if !ok {
		return
	}

	target, err := m.BeginAuthorization()
	if errors.Is(err, apperrors.ErrConfiguration) {
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}

	if err != nil {
		h.logger.Error("starting authorization",
			slog.String("provider", m.Name()),
			slog.String("error", err.Error()),
		)
		writeText(w, http.StatusInternalServerError, "could not start sign-in")
		return
	}

	http.Redirect(w, r, target, http.StatusFound)
}

func (h *handlers) callback(w http.ResponseWriter, r *http.Request) {
	m, ok := h.manager(w, r)
	if !ok {
		return
	}

	var (
		tok *models.TokenState
		err error
	)

	switch m.Flow() {
	case auth.FlowImplicit:
		if r.URL.RawQuery == "" {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Header().Set("Cache-Control", "no-store")
			relayPage.Execute(w, struct{ Home string }{Home: "/"})
			return
		}

		tok, err = m.CompleteImplicit(r.Context(), r.URL.Query())
	default:
		tok, err = m.CompleteAuthorization(r.Context(), r.URL.Query())
	}

	if errors.Is(err, apperrors.ErrAuth) {
		h.dash.AuthChanged(m.Name())
		writeText(w, http.StatusUnauthorized, err.Error())
		return
	}

	if err != nil {
		h.logger.Error("completing authorization",
			slog.String("provider", m.Name()),
			slog.String("error", err.Error()),
		)
		writeText(w, http.StatusInternalServerError, "could not complete sign-in")
		return
	}

	if tok != nil {
		h.dash.AuthChanged(m.Name())
	}

	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	m, ok := h.manager(w, r)
	if !ok {
		return
	}

	if err := m.Invalidate(); err != nil {
		h.logger.Error("clearing token",
			slog.String("provider", m.Name()),
			slog.String("error", err.Error()),
		)
		writeText(w, http.StatusInternalServerError, "could not sign out")
		return
	}

	h.logger.Info("signed out", slog.String("provider", m.Name()))
	h.dash.AuthChanged(m.Name())

	w.WriteHeader(http.StatusNoContent)
}
