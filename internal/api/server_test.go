package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/passkeep/passkeep/internal/audit"
	"github.com/passkeep/passkeep/internal/capstore"
	"github.com/passkeep/passkeep/internal/emergency"
	"github.com/passkeep/passkeep/internal/ratelimit"
	"github.com/passkeep/passkeep/internal/share"
	"github.com/passkeep/passkeep/internal/storage"
	"github.com/passkeep/passkeep/internal/token"
	"github.com/passkeep/passkeep/internal/vault"
	"github.com/passkeep/passkeep/pkg/models"
)

// --- In-memory store for tests ---

type memStore struct {
	mu       sync.Mutex
	users    map[string]*models.User
	orgs     map[string]*models.Organization
	members  []*models.Member
	invites  map[string]*models.Invitation
	items    map[string]*models.VaultItem
	contacts map[string]*models.EmergencyContact
	requests map[string]*models.EmergencyRequest
	links    map[string]*models.ShareLink
	audit    []*models.AuditEvent
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[string]*models.User{},
		orgs:     map[string]*models.Organization{},
		invites:  map[string]*models.Invitation{},
		items:    map[string]*models.VaultItem{},
		contacts: map[string]*models.EmergencyContact{},
		requests: map[string]*models.EmergencyRequest{},
		links:    map[string]*models.ShareLink{},
	}
}

func (m *memStore) CreateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return storage.ErrConflict
		}
	}
	m.users[user.ID] = user
	return nil
}

func (m *memStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) CreateOrganization(ctx context.Context, org *models.Organization, owner *models.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orgs[org.ID] = org
	m.members = append(m.members, owner)
	return nil
}

func (m *memStore) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orgs[id]; ok {
		return o, nil
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) UpdateOrganizationSettings(ctx context.Context, id string, settings models.OrgSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orgs[id]
	if !ok {
		return storage.ErrNotFound
	}
	o.Settings = settings
	return nil
}

func (m *memStore) DeleteOrganization(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orgs[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.orgs, id)
	var kept []*models.Member
	for _, mem := range m.members {
		if mem.OrgID != id {
			kept = append(kept, mem)
		}
	}
	m.members = kept
	for k, inv := range m.invites {
		if inv.OrgID == id {
			delete(m.invites, k)
		}
	}
	for k, item := range m.items {
		if item.OrgID == id {
			delete(m.items, k)
		}
	}
	for k, c := range m.contacts {
		if c.OrgID == id {
			for rk, r := range m.requests {
				if r.ContactID == c.ID {
					delete(m.requests, rk)
				}
			}
			delete(m.contacts, k)
		}
	}
	for k, l := range m.links {
		if l.OrgID == id {
			delete(m.links, k)
		}
	}
	var keptAudit []*models.AuditEvent
	for _, ev := range m.audit {
		if ev.OrgID != id {
			keptAudit = append(keptAudit, ev)
		}
	}
	m.audit = keptAudit
	return nil
}

func (m *memStore) GetMember(ctx context.Context, orgID, userID string) (*models.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mem := range m.members {
		if mem.OrgID == orgID && mem.UserID == userID {
			return mem, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) AddMember(ctx context.Context, member *models.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mem := range m.members {
		if mem.OrgID == member.OrgID && mem.UserID == member.UserID {
			return storage.ErrConflict
		}
	}
	m.members = append(m.members, member)
	return nil
}

func (m *memStore) ListMembers(ctx context.Context, orgID string) ([]*models.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Member
	for _, mem := range m.members {
		if mem.OrgID == orgID {
			out = append(out, mem)
		}
	}
	return out, nil
}

func (m *memStore) ListMembershipsForUser(ctx context.Context, userID string) ([]*models.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Member
	for _, mem := range m.members {
		if mem.UserID == userID {
			out = append(out, mem)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (m *memStore) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invites[inv.ID] = inv
	return nil
}

func (m *memStore) GetInvitationByTokenHash(ctx context.Context, tokenHash string) (*models.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invites {
		if inv.TokenHash == tokenHash {
			return inv, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) MarkInvitationUsed(ctx context.Context, id string, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invites[id]
	if !ok {
		return storage.ErrNotFound
	}
	inv.UsedAt = &usedAt
	return nil
}

func (m *memStore) ListInvitations(ctx context.Context, orgID string) ([]*models.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Invitation
	for _, inv := range m.invites {
		if inv.OrgID == orgID {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (m *memStore) CreateItem(ctx context.Context, item *models.VaultItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
	return nil
}

func (m *memStore) GetItem(ctx context.Context, id string) (*models.VaultItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.items[id]; ok {
		return item, nil
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) ListItems(ctx context.Context, orgID string) ([]*models.VaultItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.VaultItem
	for _, item := range m.items {
		if item.OrgID == orgID && !item.IsDeleted() {
			out = append(out, item)
		}
	}
	return out, nil
}

func (m *memStore) UpdateItem(ctx context.Context, item *models.VaultItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.ID]; !ok {
		return storage.ErrNotFound
	}
	m.items[item.ID] = item
	return nil
}

func (m *memStore) SoftDeleteItem(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return storage.ErrNotFound
	}
	item.DeletedAt = &at
	return nil
}

func (m *memStore) CreateEmergencyContact(ctx context.Context, contact *models.EmergencyContact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts[contact.ID] = contact
	return nil
}

func (m *memStore) GetEmergencyContact(ctx context.Context, id string) (*models.EmergencyContact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.contacts[id]; ok {
		return c, nil
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) GetActiveContactByEmail(ctx context.Context, orgID, userID, email string) (*models.EmergencyContact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.contacts {
		if c.OrgID == orgID && c.UserID == userID && c.Email == email && c.IsActive() {
			return c, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) ListEmergencyContacts(ctx context.Context, orgID string) ([]*models.EmergencyContact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.EmergencyContact
	for _, c := range m.contacts {
		if c.OrgID == orgID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) RevokeEmergencyContact(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok {
		return storage.ErrNotFound
	}
	c.Status = models.ContactRevoked
	c.RevokedAt = &at
	return nil
}

func (m *memStore) CreateEmergencyRequest(ctx context.Context, req *models.EmergencyRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[req.ID] = req
	return nil
}

func (m *memStore) GetEmergencyRequest(ctx context.Context, id string) (*models.EmergencyRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.requests[id]; ok {
		return r, nil
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) LatestRequestByContact(ctx context.Context, contactID string) (*models.EmergencyRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.EmergencyRequest
	for _, r := range m.requests {
		if r.ContactID != contactID {
			continue
		}
		if latest == nil || r.RequestedAt.After(latest.RequestedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return latest, nil
}

func (m *memStore) ListEmergencyRequests(ctx context.Context, orgID string) ([]*models.EmergencyRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.EmergencyRequest
	for _, r := range m.requests {
		if c, ok := m.contacts[r.ContactID]; ok && c.OrgID == orgID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	return out, nil
}

func (m *memStore) DenyEmergencyRequest(ctx context.Context, id, adminID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return storage.ErrNotFound
	}
	r.DeniedAt = &at
	r.DeniedBy = &adminID
	return nil
}

func (m *memStore) CreateShareLink(ctx context.Context, link *models.ShareLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[link.ID] = link
	return nil
}

func (m *memStore) GetShareLink(ctx context.Context, id string) (*models.ShareLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.links[id]; ok {
		cp := *l
		return &cp, nil
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) ListShareLinks(ctx context.Context, orgID string) ([]*models.ShareLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ShareLink
	for _, l := range m.links {
		if l.OrgID == orgID {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) RevokeShareLink(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[id]
	if !ok {
		return storage.ErrNotFound
	}
	l.Revoked = true
	return nil
}

func (m *memStore) IncrementShareViews(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[id]
	if !ok {
		return storage.ErrNotFound
	}
	l.ViewCount++
	l.LastViewedAt = &at
	return nil
}

func (m *memStore) WriteAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.ID = int64(len(m.audit) + 1)
	m.audit = append(m.audit, event)
	return nil
}

func (m *memStore) QueryAuditLog(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AuditEvent
	for _, ev := range m.audit {
		if filter.OrgID != "" && ev.OrgID != filter.OrgID {
			continue
		}
		if filter.Action != "" && ev.Action != filter.Action {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (m *memStore) CountItems(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, item := range m.items {
		if !item.IsDeleted() {
			n++
		}
	}
	return n, nil
}

func (m *memStore) CountActiveShareLinks(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, l := range m.links {
		if !l.Revoked {
			n++
		}
	}
	return n, nil
}

func (m *memStore) Close() {}

// --- test helpers ---

type syncRecorder struct{ store storage.Store }

func (s *syncRecorder) Record(ctx context.Context, e audit.Event) {
	_ = s.store.WriteAuditEvent(ctx, &models.AuditEvent{
		Action: e.Action, OrgID: e.OrgID, UserID: e.UserID, TargetID: e.TargetID,
		ClientIP: e.ClientIP, Metadata: e.Metadata, CreatedAt: time.Now().UTC(),
	})
}

func newTestServer(t *testing.T) (*Server, *memStore) {
	t.Helper()
	store := newMemStore()
	caps := capstore.NewMemory()
	auditor := audit.NewSink(store, 64)
	t.Cleanup(auditor.Close)
	srv := &Server{
		store:     store,
		tokens:    token.New([]byte("test-secret-0123456789"), caps),
		limiter:   ratelimit.New(caps),
		vault:     vault.New(store, auditor),
		shares:    share.New(store, auditor),
		emergency: emergency.New(store, auditor),
		auditor:   auditor,
		cfg:       Config{},
	}
	return srv, store
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("decoding response: %v (body: %s)", err, w.Body.String())
	}
	return result
}

func registerAndLogin(t *testing.T, handler http.Handler, email, password string) (tok, orgID string) {
	t.Helper()
	w := doJSON(t, handler, "POST", "/v1/auth/register", map[string]any{
		"email": email, "password": password, "name": "Tester",
	}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("register failed: %d %s", w.Code, w.Body.String())
	}
	w = doJSON(t, handler, "POST", "/v1/auth/login", map[string]any{
		"email": email, "password": password,
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	return body["token"].(string), body["org_id"].(string)
}

// --- tests ---

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.BuildRouter()

	w := doJSON(t, handler, "GET", "/v1/sys/health", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "ok" {
		t.Errorf("expected status=ok, got %v", body["status"])
	}
}

func TestRegisterLoginMe(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.BuildRouter()

	tok, orgID := registerAndLogin(t, handler, "alice@example.com", "correct horse")

	w := doJSON(t, handler, "GET", "/v1/auth/me", nil, tok)
	if w.Code != http.StatusOK {
		t.Fatalf("me failed: %d %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["email"] != "alice@example.com" {
		t.Errorf("expected email alice@example.com, got %v", body["email"])
	}
	if body["org_id"] != orgID {
		t.Errorf("expected org %s, got %v", orgID, body["org_id"])
	}
	if body["role"] != models.RoleOwner {
		t.Errorf("expected owner role, got %v", body["role"])
	}
}

func TestLoginWrongPassword(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.BuildRouter()
	registerAndLogin(t, handler, "alice@example.com", "correct horse")

	w := doJSON(t, handler, "POST", "/v1/auth/login", map[string]any{
		"email": "alice@example.com", "password": "wrong",
	}, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["error"] != "unauthorized" {
		t.Errorf("expected error=unauthorized, got %v", body["error"])
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.BuildRouter()
	tok, _ := registerAndLogin(t, handler, "alice@example.com", "correct horse")

	w := doJSON(t, handler, "POST", "/v1/auth/logout", nil, tok)
	if w.Code != http.StatusNoContent {
		t.Fatalf("logout failed: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, handler, "GET", "/v1/auth/me", nil, tok)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["code"] != "revoked" {
		t.Errorf("expected code=revoked, got %v", body["code"])
	}
}

func TestAuthFailureCodes(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.BuildRouter()

	w := doJSON(t, handler, "GET", "/v1/auth/me", nil, "not-a-token")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["error"] != "unauthorized" || body["code"] != "malformed" {
		t.Errorf("expected unauthorized/malformed, got %v/%v", body["error"], body["code"])
	}
}

func TestVaultItemCRUD(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.BuildRouter()
	tok, _ := registerAndLogin(t, handler, "alice@example.com", "correct horse")

	// Empty ciphertext is rejected.
	w := doJSON(t, handler, "POST", "/v1/vault/items", map[string]any{"name": "empty"}, tok)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty ciphertext, got %d", w.Code)
	}

	w = doJSON(t, handler, "POST", "/v1/vault/items", map[string]any{
		"name": "bank", "type": "login", "ciphertext": "czNjcjN0",
	}, tok)
	if w.Code != http.StatusCreated {
		t.Fatalf("create failed: %d %s", w.Code, w.Body.String())
	}
	itemID := decodeBody(t, w)["id"].(string)

	w = doJSON(t, handler, "GET", "/v1/vault/items/"+itemID, nil, tok)
	if w.Code != http.StatusOK {
		t.Fatalf("get failed: %d", w.Code)
	}
	if decodeBody(t, w)["ciphertext"] != "czNjcjN0" {
		t.Error("ciphertext mismatch")
	}

	w = doJSON(t, handler, "GET", "/v1/vault/items", nil, tok)
	body := decodeBody(t, w)
	if items := body["items"].([]any); len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}

	w = doJSON(t, handler, "PUT", "/v1/vault/items/"+itemID, map[string]any{
		"name": "bank2", "ciphertext": "dXBkYXRlZA",
	}, tok)
	if w.Code != http.StatusOK {
		t.Fatalf("update failed: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, handler, "DELETE", "/v1/vault/items/"+itemID, nil, tok)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete failed: %d", w.Code)
	}
	w = doJSON(t, handler, "GET", "/v1/vault/items/"+itemID, nil, tok)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", w.Code)
	}
}

func TestShareFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.BuildRouter()
	tok, _ := registerAndLogin(t, handler, "alice@example.com", "correct horse")

	w := doJSON(t, handler, "POST", "/v1/vault/items", map[string]any{
		"name": "wifi", "type": "note", "ciphertext": "Y2lwaGVy",
	}, tok)
	itemID := decodeBody(t, w)["id"].(string)

	w = doJSON(t, handler, "POST", "/v1/shares", map[string]any{
		"item_id": itemID, "expires_in_hours": 24, "max_views": 1,
	}, tok)
	if w.Code != http.StatusCreated {
		t.Fatalf("share create failed: %d %s", w.Code, w.Body.String())
	}
	linkID := decodeBody(t, w)["id"].(string)
	if len(linkID) != 26 {
		t.Errorf("expected 26-char link id, got %q", linkID)
	}

	// Resolving info does not consume a view.
	w = doJSON(t, handler, "GET", "/v1/share/"+linkID, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("info failed: %d", w.Code)
	}
	info := decodeBody(t, w)
	if info["remaining_views"].(float64) != 1 {
		t.Errorf("expected 1 remaining view, got %v", info["remaining_views"])
	}

	w = doJSON(t, handler, "POST", "/v1/share/"+linkID+"/access", map[string]any{}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("access failed: %d %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	item := body["item"].(map[string]any)
	if item["ciphertext"] != "Y2lwaGVy" {
		t.Errorf("ciphertext mismatch: %v", item["ciphertext"])
	}

	// The single view is spent.
	w = doJSON(t, handler, "POST", "/v1/share/"+linkID+"/access", map[string]any{}, "")
	if w.Code != http.StatusGone {
		t.Fatalf("expected 410, got %d", w.Code)
	}
	if decodeBody(t, w)["error"] != "link_exhausted" {
		t.Error("expected link_exhausted error")
	}
}

func TestSharePasswordGate(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.BuildRouter()
	tok, _ := registerAndLogin(t, handler, "alice@example.com", "correct horse")

	w := doJSON(t, handler, "POST", "/v1/vault/items", map[string]any{
		"name": "secret", "ciphertext": "Y2lwaGVy",
	}, tok)
	itemID := decodeBody(t, w)["id"].(string)

	w = doJSON(t, handler, "POST", "/v1/shares", map[string]any{
		"item_id": itemID, "expires_in_hours": 24, "password": "open sesame",
	}, tok)
	linkID := decodeBody(t, w)["id"].(string)

	w = doJSON(t, handler, "POST", "/v1/share/"+linkID+"/access", map[string]any{}, "")
	if w.Code != http.StatusUnauthorized || decodeBody(t, w)["error"] != "password_required" {
		t.Fatalf("expected password_required, got %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, handler, "POST", "/v1/share/"+linkID+"/access", map[string]any{"password": "nope"}, "")
	if w.Code != http.StatusUnauthorized || decodeBody(t, w)["error"] != "invalid_password" {
		t.Fatalf("expected invalid_password, got %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, handler, "POST", "/v1/share/"+linkID+"/access", map[string]any{"password": "open sesame"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with correct password, got %d %s", w.Code, w.Body.String())
	}
}

func TestShareRevoke(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.BuildRouter()
	tok, _ := registerAndLogin(t, handler, "alice@example.com", "correct horse")

	w := doJSON(t, handler, "POST", "/v1/vault/items", map[string]any{
		"name": "x", "ciphertext": "Y2lwaGVy",
	}, tok)
	itemID := decodeBody(t, w)["id"].(string)
	w = doJSON(t, handler, "POST", "/v1/shares", map[string]any{
		"item_id": itemID, "expires_in_hours": 24,
	}, tok)
	linkID := decodeBody(t, w)["id"].(string)

	w = doJSON(t, handler, "POST", "/v1/shares/"+linkID+"/revoke", nil, tok)
	if w.Code != http.StatusNoContent {
		t.Fatalf("revoke failed: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, handler, "POST", "/v1/share/"+linkID+"/access", map[string]any{}, "")
	if w.Code != http.StatusGone || decodeBody(t, w)["error"] != "link_revoked" {
		t.Fatalf("expected link_revoked, got %d %s", w.Code, w.Body.String())
	}
}

func TestEmergencyFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.BuildRouter()
	tok, _ := registerAndLogin(t, handler, "alice@example.com", "correct horse")

	// Below the 24h default minimum.
	w := doJSON(t, handler, "POST", "/v1/emergency/contacts", map[string]any{
		"email": "bob@example.com", "name": "Bob", "wait_time_hours": 1,
	}, tok)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for short wait, got %d", w.Code)
	}

	w = doJSON(t, handler, "POST", "/v1/emergency/contacts", map[string]any{
		"email": "bob@example.com", "name": "Bob", "wait_time_hours": 48,
	}, tok)
	if w.Code != http.StatusCreated {
		t.Fatalf("contact add failed: %d %s", w.Code, w.Body.String())
	}
	contactID := decodeBody(t, w)["id"].(string)

	// Public request, no session.
	w = doJSON(t, handler, "POST", "/v1/emergency/request/"+contactID, map[string]any{
		"reason": "alice is unreachable",
	}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("request failed: %d %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	requestID := body["id"].(string)
	if body["state"] != models.RequestPending {
		t.Errorf("expected pending, got %v", body["state"])
	}

	// One in flight per contact.
	w = doJSON(t, handler, "POST", "/v1/emergency/request/"+contactID, map[string]any{}, "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate request, got %d", w.Code)
	}

	w = doJSON(t, handler, "POST", "/v1/emergency/requests/"+requestID+"/deny", nil, tok)
	if w.Code != http.StatusNoContent {
		t.Fatalf("deny failed: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, handler, "GET", "/v1/emergency/requests", nil, tok)
	reqs := decodeBody(t, w)["requests"].([]any)
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	if reqs[0].(map[string]any)["state"] != models.RequestDenied {
		t.Errorf("expected denied state, got %v", reqs[0].(map[string]any)["state"])
	}

	// Denying twice conflicts.
	w = doJSON(t, handler, "POST", "/v1/emergency/requests/"+requestID+"/deny", nil, tok)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for second deny, got %d", w.Code)
	}
}

func TestEmergencyDenyScopedToOrg(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.BuildRouter()
	aliceTok, _ := registerAndLogin(t, handler, "alice@example.com", "correct horse")
	malloryTok, _ := registerAndLogin(t, handler, "mallory@example.com", "other pass")

	w := doJSON(t, handler, "POST", "/v1/emergency/contacts", map[string]any{
		"email": "bob@example.com", "wait_time_hours": 48,
	}, aliceTok)
	contactID := decodeBody(t, w)["id"].(string)

	// The public leg hands the request ID to anyone who asked.
	w = doJSON(t, handler, "POST", "/v1/emergency/request/"+contactID, map[string]any{}, "")
	requestID := decodeBody(t, w)["id"].(string)

	// An owner of an unrelated org must not be able to deny it.
	w = doJSON(t, handler, "POST", "/v1/emergency/requests/"+requestID+"/deny", nil, malloryTok)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign-org deny, got %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, handler, "GET", "/v1/emergency/requests", nil, aliceTok)
	reqs := decodeBody(t, w)["requests"].([]any)
	if state := reqs[0].(map[string]any)["state"]; state != models.RequestPending {
		t.Errorf("request should still be pending, got %v", state)
	}

	w = doJSON(t, handler, "POST", "/v1/emergency/requests/"+requestID+"/deny", nil, aliceTok)
	if w.Code != http.StatusNoContent {
		t.Fatalf("own-org deny failed: %d %s", w.Code, w.Body.String())
	}
}

func TestContactRevokeHidesRequests(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.BuildRouter()
	tok, _ := registerAndLogin(t, handler, "alice@example.com", "correct horse")

	w := doJSON(t, handler, "POST", "/v1/emergency/contacts", map[string]any{
		"email": "bob@example.com", "wait_time_hours": 24,
	}, tok)
	contactID := decodeBody(t, w)["id"].(string)

	w = doJSON(t, handler, "POST", "/v1/emergency/contacts/"+contactID+"/revoke", nil, tok)
	if w.Code != http.StatusNoContent {
		t.Fatalf("revoke failed: %d %s", w.Code, w.Body.String())
	}

	// Revoked contacts cannot open requests, and look missing publicly.
	w = doJSON(t, handler, "POST", "/v1/emergency/request/"+contactID, map[string]any{}, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 through revoked contact, got %d", w.Code)
	}
}

func TestRateLimitAuthPolicy(t *testing.T) {
	srv, _ := newTestServer(t)
	// Pin the clock so the test cannot straddle a window boundary.
	fixed := time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)
	srv.limiter = srv.limiter.WithClock(func() time.Time { return fixed })
	handler := srv.BuildRouter()

	var last *httptest.ResponseRecorder
	for i := 0; i < ratelimit.Auth.Limit; i++ {
		last = doJSON(t, handler, "POST", "/v1/auth/login", map[string]any{
			"email": "nobody@example.com", "password": "x",
		}, "")
		if last.Code == http.StatusTooManyRequests {
			t.Fatalf("throttled at attempt %d, before the limit", i+1)
		}
	}
	if last.Header().Get("X-RateLimit-Limit") != fmt.Sprint(ratelimit.Auth.Limit) {
		t.Errorf("expected limit header %d, got %q", ratelimit.Auth.Limit, last.Header().Get("X-RateLimit-Limit"))
	}
	if last.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected 0 remaining, got %q", last.Header().Get("X-RateLimit-Remaining"))
	}

	w := doJSON(t, handler, "POST", "/v1/auth/login", map[string]any{
		"email": "nobody@example.com", "password": "x",
	}, "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 over the limit, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	body := decodeBody(t, w)
	if body["error"] != "rate_limited" {
		t.Errorf("expected rate_limited error, got %v", body["error"])
	}
	if _, ok := body["retryAfter"].(float64); !ok {
		t.Errorf("expected numeric retryAfter, got %v", body["retryAfter"])
	}
}

func TestInviteFlowAndRoleEnforcement(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.BuildRouter()
	ownerTok, orgID := registerAndLogin(t, handler, "alice@example.com", "correct horse")
	bobTok, _ := registerAndLogin(t, handler, "bob@example.com", "hunter2 but longer")

	w := doJSON(t, handler, "POST", "/v1/org/invites", map[string]any{
		"email": "bob@example.com", "role": "member",
	}, ownerTok)
	if w.Code != http.StatusCreated {
		t.Fatalf("invite failed: %d %s", w.Code, w.Body.String())
	}
	inviteToken := decodeBody(t, w)["token"].(string)

	w = doJSON(t, handler, "POST", "/v1/invites/accept", map[string]any{"token": inviteToken}, bobTok)
	if w.Code != http.StatusOK {
		t.Fatalf("accept failed: %d %s", w.Code, w.Body.String())
	}
	if decodeBody(t, w)["org_id"] != orgID {
		t.Error("accepted into wrong org")
	}

	// A used token is dead.
	w = doJSON(t, handler, "POST", "/v1/invites/accept", map[string]any{"token": inviteToken}, bobTok)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 reusing invite, got %d", w.Code)
	}

	// Bob logs into Alice's org as a member.
	w = doJSON(t, handler, "POST", "/v1/auth/login", map[string]any{
		"email": "bob@example.com", "password": "hunter2 but longer", "org_id": orgID,
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("member login failed: %d %s", w.Code, w.Body.String())
	}
	memberTok := decodeBody(t, w)["token"].(string)

	// Members cannot change settings or read the audit log.
	w = doJSON(t, handler, "PUT", "/v1/org/settings", models.DefaultOrgSettings(), memberTok)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for member settings change, got %d", w.Code)
	}
	w = doJSON(t, handler, "GET", "/v1/org/audit", nil, memberTok)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for member audit read, got %d", w.Code)
	}
}

func TestOrgDelete(t *testing.T) {
	srv, store := newTestServer(t)
	handler := srv.BuildRouter()
	tok, orgID := registerAndLogin(t, handler, "alice@example.com", "correct horse")

	w := doJSON(t, handler, "POST", "/v1/vault/items", map[string]any{
		"name": "x", "ciphertext": "Y2lwaGVy",
	}, tok)
	if w.Code != http.StatusCreated {
		t.Fatalf("item create failed: %d", w.Code)
	}

	w = doJSON(t, handler, "DELETE", "/v1/org", nil, tok)
	if w.Code != http.StatusNoContent {
		t.Fatalf("org delete failed: %d %s", w.Code, w.Body.String())
	}

	if _, err := store.GetOrganization(context.Background(), orgID); err == nil {
		t.Error("organization should be gone")
	}
	if n, _ := store.CountItems(context.Background()); n != 0 {
		t.Errorf("expected 0 items after cascade, got %d", n)
	}

	w = doJSON(t, handler, "GET", "/v1/org", nil, tok)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for deleted org, got %d", w.Code)
	}
}

func TestAuditLogQuery(t *testing.T) {
	srv, store := newTestServer(t)
	// Synchronous recorder so events are visible immediately.
	rec := &syncRecorder{store: store}
	srv.vault = vault.New(store, rec)
	handler := srv.BuildRouter()
	tok, _ := registerAndLogin(t, handler, "alice@example.com", "correct horse")

	w := doJSON(t, handler, "POST", "/v1/vault/items", map[string]any{
		"name": "x", "ciphertext": "Y2lwaGVy",
	}, tok)
	if w.Code != http.StatusCreated {
		t.Fatalf("item create failed: %d", w.Code)
	}

	w = doJSON(t, handler, "GET", "/v1/org/audit?action=item.create", nil, tok)
	if w.Code != http.StatusOK {
		t.Fatalf("audit query failed: %d %s", w.Code, w.Body.String())
	}
	events := decodeBody(t, w)["events"].([]any)
	if len(events) != 1 {
		t.Fatalf("expected 1 item.create event, got %d", len(events))
	}
	ev := events[0].(map[string]any)
	if ev["action"] != "item.create" {
		t.Errorf("expected item.create, got %v", ev["action"])
	}
}

func TestCrossOrgItemIsInvisible(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.BuildRouter()
	aliceTok, _ := registerAndLogin(t, handler, "alice@example.com", "correct horse")
	bobTok, _ := registerAndLogin(t, handler, "bob@example.com", "hunter2 but longer")

	w := doJSON(t, handler, "POST", "/v1/vault/items", map[string]any{
		"name": "private", "ciphertext": "Y2lwaGVy",
	}, aliceTok)
	itemID := decodeBody(t, w)["id"].(string)

	w = doJSON(t, handler, "GET", "/v1/vault/items/"+itemID, nil, bobTok)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for cross-org read, got %d", w.Code)
	}
	// Sharing someone else's item fails the same way.
	w = doJSON(t, handler, "POST", "/v1/shares", map[string]any{
		"item_id": itemID, "expires_in_hours": 24,
	}, bobTok)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for cross-org share, got %d", w.Code)
	}
}

func TestMissingBearerToken(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.BuildRouter()

	req := httptest.NewRequest("GET", "/v1/vault/items", strings.NewReader(""))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
}
