package handler

import (
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gorilla/schema"

	"github.com/sakif/task-manager/internal/apperror"
	"github.com/sakif/task-manager/internal/model"
)

// maxKeywordLength caps the search box. Longer input is ignored, not
// rejected, so a pasted wall of text still shows the unfiltered list.
const maxKeywordLength = 200

// parseTriState turns a query value into a filter flag. Only "true" and
// "false" (any case) mean something; everything else, including an absent
// parameter, leaves the flag unset.
func parseTriState(v string) model.TriState {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true":
		return model.True
	case "false":
		return model.False
	}
	return model.Unset
}

// parseFilter reads q, is_completed and is_archived from a query string.
// Malformed values are coerced, never reported.
func parseFilter(q url.Values) model.TaskFilter {
	var f model.TaskFilter

	kw := strings.TrimSpace(q.Get("q"))
	if utf8.RuneCountInString(kw) <= maxKeywordLength {
		f.Keyword = kw
	}
	f.Completed = parseTriState(q.Get("is_completed"))
	f.Archived = parseTriState(q.Get("is_archived"))
	return f
}

// pathID reads the {id} route parameter.
func pathID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.NotFound("task", raw)
	}
	return id, nil
}

// formDecoder fills the HTML form structs below. Unknown keys are ignored so
// the CSRF token field and submit buttons pass through.
var formDecoder = func() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}()

// decodeForm parses a urlencoded POST body into dst.
func decodeForm(r *http.Request, dst interface{}) error {
	if err := r.ParseForm(); err != nil {
		return apperror.ValidationFailed("form", "could not read the submitted form")
	}
	if err := formDecoder.Decode(dst, r.PostForm); err != nil {
		return apperror.ValidationFailed("form", "the submitted form is malformed")
	}
	return nil
}

type loginForm struct {
	Email    string `schema:"email"`
	Password string `schema:"password"`
	Next     string `schema:"next"`
}

type signupForm struct {
	Email           string `schema:"email"`
	Password        string `schema:"password"`
	PasswordConfirm string `schema:"password_confirm"`
	Nickname        string `schema:"nickname"`
	FirstName       string `schema:"first_name"`
	LastName        string `schema:"last_name"`
}

type taskForm struct {
	Title            string `schema:"title"`
	Description      string `schema:"description"`
	IsArchived       bool   `schema:"is_archived"`
	CompletedComment string `schema:"completed_comment"`
}

type completeForm struct {
	Comment string `schema:"comment"`
}

// clientIP is the remote address without its port. chi's RealIP middleware
// has already swapped in X-Real-IP or X-Forwarded-For when present.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// safeNext keeps post-login redirects on this site. Anything that is not a
// plain absolute path ("//evil.example", "https://...") falls back to def.
func safeNext(next, def string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return def
	}
	return next
}
