package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/warp/commission-engine/commission"
)

// Org headers. Authentication is out of scope; whatever sits in front of
// the server is trusted to set these.
const (
	HeaderOrgID    = "X-Org-ID"
	HeaderTenantID = "X-Tenant-ID"
	HeaderActorID  = "X-Actor-ID"
)

type orgKey struct{}

// OrgResolver resolves the org context once per request and stores it in
// the request context. Handlers read it with orgFrom and never re-derive it.
// An as_of query parameter (YYYY-MM-DD or RFC3339) pins the run date.
func OrgResolver(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		org := commission.OrgContext{
			OrgID:    strings.TrimSpace(r.Header.Get(HeaderOrgID)),
			TenantID: strings.TrimSpace(r.Header.Get(HeaderTenantID)),
			ActorID:  strings.TrimSpace(r.Header.Get(HeaderActorID)),
		}
		if org.OrgID == "" {
			org.OrgID = r.URL.Query().Get("org_id")
		}
		if org.TenantID == "" {
			org.TenantID = org.OrgID
		}
		if asOf := r.URL.Query().Get("as_of"); asOf != "" {
			t, err := parseAsOf(asOf)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid as_of (use YYYY-MM-DD)", err)
				return
			}
			org.AsOf = t
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), orgKey{}, org)))
	})
}

// orgFrom returns the resolved org, writing a 400 when none was supplied.
func orgFrom(w http.ResponseWriter, r *http.Request) (commission.OrgContext, bool) {
	org, _ := r.Context().Value(orgKey{}).(commission.OrgContext)
	if org.OrgID == "" {
		writeError(w, http.StatusBadRequest, "Missing "+HeaderOrgID+" header", commission.ErrOrgRequired)
		return org, false
	}
	return org, true
}

func parseAsOf(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
