package ldapserver

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/lor00x/goldap/message"
	"github.com/sapcc/go-bits/logg"
	ldap "github.com/vjeantet/ldapserver"

	"github.com/apricot-ldap/apricot/internal/core"
)

// readOnlyRejectMessage is returned verbatim for every write operation.
const readOnlyRejectMessage = "ReadOnlyLDAPServer will not handle this operation"

func (s *Server) handleBind(w ldap.ResponseWriter, m *ldap.Message) {
	ctx := context.Background()
	req := m.GetBindRequest()
	dn := string(req.Name())

	if !s.cfg.AllowAnonymousBinds && dn == "" {
		logg.Info("ldap: anonymous bind rejected (allow_anonymous_binds is false)")
		w.Write(ldap.NewBindResponse(ldap.LDAPResultInvalidCredentials))
		return
	}
	if dn == "" {
		w.Write(ldap.NewBindResponse(ldap.LDAPResultSuccess))
		return
	}

	if err := s.engine.EnsureFresh(ctx); err != nil {
		logg.Error("ldap: bind %s: %s", dn, err)
		w.Write(ldap.NewBindResponse(ldap.LDAPResultUnavailable))
		return
	}

	entry, err := s.tree.Lookup(dn)
	if err != nil {
		w.Write(ldap.NewBindResponse(ldap.LDAPResultInvalidCredentials))
		return
	}

	username := entry.Attributes.GetOne("oauth_username")
	password := string(req.AuthenticationSimple())
	ok, err := s.client.Verify(ctx, username, password)
	if err != nil {
		logg.Error("ldap: bind %s: verify failed: %s", dn, err)
		w.Write(ldap.NewBindResponse(ldap.LDAPResultOperationsError))
		return
	}
	if !ok {
		w.Write(ldap.NewBindResponse(ldap.LDAPResultInvalidCredentials))
		return
	}
	w.Write(ldap.NewBindResponse(ldap.LDAPResultSuccess))
}

func (s *Server) handleSearch(w ldap.ResponseWriter, m *ldap.Message) {
	ctx := context.Background()
	req := m.GetSearchRequest()
	baseDN := string(req.BaseObject())

	if baseDN == "" {
		s.handleRootDSE(w, m)
		return
	}

	if err := s.engine.EnsureFresh(ctx); err != nil {
		logg.Error("ldap: search %s: %s", baseDN, err)
		w.Write(ldap.NewSearchResultDoneResponse(ldap.LDAPResultUnavailable))
		return
	}

	base, err := s.tree.Lookup(baseDN)
	if err != nil {
		w.Write(ldap.NewSearchResultDoneResponse(ldap.LDAPResultNoSuchObject))
		return
	}

	var matches []*core.Entry
	scope := int(req.Scope())
	base.Walk(func(e *core.Entry) {
		if !scopeMatches(scope, base, e) {
			return
		}
		if !filterMatches(req.Filter(), e) {
			return
		}
		matches = append(matches, e)
	})

	offset, cookie := s.pagingOffset(m, req)
	pageSize := len(matches) - offset
	if cookie.size > 0 && cookie.size < pageSize {
		pageSize = cookie.size
	}
	if pageSize < 0 {
		pageSize = 0
	}
	page := matches[minInt(offset, len(matches)):minInt(offset+pageSize, len(matches))]

	for _, e := range page {
		w.Write(renderEntry(e, req))
	}

	res := ldap.NewSearchResultDoneResponse(ldap.LDAPResultSuccess)
	if cookie.active {
		nextCookie := ""
		if offset+len(page) < len(matches) {
			nextCookie = s.storePagingOffset(offset + len(page))
		}
		control := message.NewSimplePagedResultsControl(int32(len(matches)), false, nextCookie)
		var controls message.Controls = []message.Control{control}
		w.WriteControls(res, &controls)
		return
	}
	w.Write(res)
}

func (s *Server) handleRootDSE(w ldap.ResponseWriter, m *ldap.Message) {
	entry := ldap.NewSearchResultEntry("")
	entry.AddAttribute(message.AttributeDescription("objectClass"), message.AttributeValue("top"))
	entry.AddAttribute(message.AttributeDescription("namingContexts"), message.AttributeValue(s.cfg.RootDN))
	entry.AddAttribute(message.AttributeDescription("supportedLDAPVersion"), message.AttributeValue("3"))
	entry.AddAttribute(message.AttributeDescription("vendorName"), message.AttributeValue("apricot"))
	w.Write(entry)
	w.Write(ldap.NewSearchResultDoneResponse(ldap.LDAPResultSuccess))
}

func (s *Server) handleCompare(w ldap.ResponseWriter, m *ldap.Message) {
	ctx := context.Background()
	req := m.GetCompareRequest()
	if err := s.engine.EnsureFresh(ctx); err != nil {
		w.Write(ldap.NewCompareResponse(ldap.LDAPResultUnavailable))
		return
	}
	entry, err := s.tree.Lookup(string(req.Entry()))
	if err != nil {
		w.Write(ldap.NewCompareResponse(ldap.LDAPResultNoSuchObject))
		return
	}
	ava := req.Ava()
	attrName := string(ava.AttributeDesc())
	want := string(ava.AssertionValue())
	for _, v := range entry.Attributes.Get(attrName) {
		if v == want {
			w.Write(ldap.NewCompareResponse(ldap.LDAPResultCompareTrue))
			return
		}
	}
	w.Write(ldap.NewCompareResponse(ldap.LDAPResultCompareFalse))
}

func (s *Server) handleExtended(w ldap.ResponseWriter, m *ldap.Message) {
	logg.Debug("ldap: unsupported extended operation")
	w.Write(ldap.NewExtendedResponse(ldap.LDAPResultUnavailable))
}

// handleReject rejects any Add/Delete/Modify/ModifyDN request with a
// fixed "unwilling to perform" response. It is also registered as the
// RouteMux's NotFound handler, which additionally covers ModifyDN (for
// which vjeantet/ldapserver has no dedicated route).
func (s *Server) handleReject(w ldap.ResponseWriter, m *ldap.Message) {
	logg.Info("ldap: rejecting write operation %s", m.ProtocolOpName())
	res := ldap.NewResponse(ldap.LDAPResultUnwillingToPerform)
	res.SetDiagnosticMessage(readOnlyRejectMessage)
	w.Write(res)
}

func scopeMatches(scope int, base, candidate *core.Entry) bool {
	switch scope {
	case 0: // baseObject
		return strings.EqualFold(candidate.DN, base.DN)
	case 1: // singleLevel
		if strings.EqualFold(candidate.DN, base.DN) {
			return false
		}
		for _, child := range base.Children() {
			if strings.EqualFold(child.DN, candidate.DN) {
				return true
			}
		}
		return false
	default: // wholeSubtree
		return true
	}
}

func filterMatches(filter message.Filter, e *core.Entry) bool {
	switch f := filter.(type) {
	case message.FilterAnd:
		for _, sub := range f {
			if !filterMatches(sub, e) {
				return false
			}
		}
		return true
	case message.FilterOr:
		for _, sub := range f {
			if filterMatches(sub, e) {
				return true
			}
		}
		return len(f) == 0
	case message.FilterNot:
		return !filterMatches(f.Filter, e)
	case message.FilterEqualityMatch:
		return containsFold(e.Attributes.Get(string(f.AttributeDesc())), string(f.AssertionValue()))
	case message.FilterPresent:
		return e.Attributes.Has(string(f))
	case message.FilterGreaterOrEqual:
		return compareFold(e.Attributes.Get(string(f.AttributeDesc())), string(f.AssertionValue())) >= 0
	case message.FilterLessOrEqual:
		return compareFold(e.Attributes.Get(string(f.AttributeDesc())), string(f.AssertionValue())) <= 0
	case message.FilterSubstrings:
		// Substring filters are not evaluated: every entry matches them.
		return true
	default:
		return true
	}
}

func containsFold(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}

func compareFold(values []string, want string) int {
	for _, v := range values {
		if strings.EqualFold(v, want) {
			return 0
		}
		return strings.Compare(strings.ToLower(v), strings.ToLower(want))
	}
	return -1
}

func renderEntry(e *core.Entry, req message.SearchRequest) *ldap.SearchResultEntry {
	result := ldap.NewSearchResultEntry(e.DN)
	requested := req.Attributes()
	for _, name := range e.Attributes.Names() {
		if len(requested) > 0 && !attributeRequested(requested, name) {
			continue
		}
		values := e.Attributes.Get(name)
		rendered := make([]message.AttributeValue, len(values))
		for i, v := range values {
			rendered[i] = message.AttributeValue(v)
		}
		result.AddAttribute(message.AttributeDescription(name), rendered...)
	}
	return result
}

func attributeRequested(requested []message.AttributeSelector, name string) bool {
	for _, a := range requested {
		s := string(a)
		if s == "*" || strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

type pagingCookie struct {
	active bool
	size   int
}

// pagingOffset resolves the RFC 2696 simple paged-results control, if
// present, into a starting offset and page size, reusing the request's
// opaque cookie to locate the offset recorded by a previous page (spec
// §4.7 supplement: "Simple paged-results control support").
func (s *Server) pagingOffset(m *ldap.Message, req message.SearchRequest) (offset int, cookie pagingCookie) {
	if m.Controls() == nil {
		return 0, pagingCookie{}
	}
	for _, c := range *m.Controls() {
		pc, ok := c.PagedResultsControl()
		if !ok {
			continue
		}
		cookie = pagingCookie{active: true, size: int(pc.Size())}
		if raw := string(pc.Cookie()); raw != "" {
			s.pagingMu.Lock()
			offset = s.pagingOffsets[raw]
			delete(s.pagingOffsets, raw)
			s.pagingMu.Unlock()
		}
		return offset, cookie
	}
	return 0, pagingCookie{}
}

func (s *Server) storePagingOffset(offset int) string {
	cookie := uuid.NewString()
	s.pagingMu.Lock()
	s.pagingOffsets[cookie] = offset
	s.pagingMu.Unlock()
	return cookie
}
