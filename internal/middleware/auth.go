package middleware

import (
	"net/http"

	"github.com/dukerupert/bywater/internal/auth"
	"github.com/dukerupert/bywater/internal/store"
)

const sessionCookieName = "bywater_session"

// RequireAuth validates the session cookie and populates the auth context.
// The member record is loaded fresh on every request: role flags stored in
// the session are never trusted, so a role change takes effect immediately.
func RequireAuth(sessionStore *store.SessionStore, memberStore *store.MemberStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(sessionCookieName)
			if err != nil || cookie.Value == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			sess, err := sessionStore.GetByToken(cookie.Value)
			if err != nil || sess == nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			member, err := memberStore.GetByID(sess.MemberID)
			if err != nil || member == nil || member.FamilyID != sess.FamilyID {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ac := auth.Context{
				MemberID:      member.ID,
				FamilyID:      member.FamilyID,
				IsAdmin:       member.IsAdmin,
				IsResponsible: member.IsResponsible,
				SessionID:     sess.ID,
			}

			ctx := auth.WithMember(r.Context(), ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin checks that the authenticated member has the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.IsAdmin(r.Context()) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
