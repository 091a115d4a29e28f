package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/medprofile/internal/domain"
	"github.com/ashureev/medprofile/internal/store"
)

// userRepo implements the user half of store.Repository; the embedded
// interface panics if anything else is called.
type userRepo struct {
	store.Repository
	users    map[string]*domain.User
	seen     map[string]time.Time
	getErr   error
	upserted int
}

func newUserRepo() *userRepo {
	return &userRepo{users: map[string]*domain.User{}, seen: map[string]time.Time{}}
}

func (r *userRepo) GetUser(_ context.Context, userID string) (*domain.User, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	return r.users[userID], nil
}

func (r *userRepo) UpsertUser(_ context.Context, u *domain.User) error {
	r.upserted++
	r.users[u.UserID] = u
	return nil
}

func (r *userRepo) UpdateLastSeen(_ context.Context, userID string, at time.Time) error {
	r.seen[userID] = at
	return nil
}

func serve(t *testing.T, repo store.Repository, req *http.Request) (*httptest.ResponseRecorder, string, string) {
	t.Helper()
	var gotUser, gotSession string
	h := Middleware(repo, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotSession = SessionIDFromContext(r.Context())
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w, gotUser, gotSession
}

func TestMiddleware_IssuesCookieOnFirstVisit(t *testing.T) {
	repo := newUserRepo()
	w, userID, sessionID := serve(t, repo, httptest.NewRequest(http.MethodGet, "/", nil))

	if !ValidUserID(userID) {
		t.Fatalf("Unexpected user ID %q", userID)
	}
	if sessionID != DefaultSessionIDValue {
		t.Errorf("Expected default session, got %q", sessionID)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != CookieName || cookies[0].Value != userID {
		t.Fatalf("Unexpected cookies %v", cookies)
	}
	if repo.upserted != 1 {
		t.Errorf("Expected user row to be created, got %d upserts", repo.upserted)
	}
	if u := repo.users[userID]; u == nil || !strings.HasPrefix(u.Username, "user-") {
		t.Errorf("Unexpected user %+v", u)
	}
}

func TestMiddleware_ReusesValidCookie(t *testing.T) {
	repo := newUserRepo()
	id := "u_" + strings.Repeat("ab", 16)
	repo.users[id] = &domain.User{UserID: id, LastSeenAt: time.Now().Add(-time.Hour)}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: id})
	_, userID, _ := serve(t, repo, req)

	if userID != id {
		t.Fatalf("Expected %q, got %q", id, userID)
	}
	if repo.upserted != 0 {
		t.Error("Existing user must not be recreated")
	}
	if _, ok := repo.seen[id]; !ok {
		t.Error("Expected last seen to be refreshed")
	}
}

func TestMiddleware_RejectsForgedCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "../../etc/passwd"})
	_, userID, _ := serve(t, newUserRepo(), req)

	if userID == "../../etc/passwd" || !ValidUserID(userID) {
		t.Fatalf("Forged cookie accepted: %q", userID)
	}
}

func TestMiddleware_HeaderIdentityAndSession(t *testing.T) {
	id := "u_" + strings.Repeat("0f", 16)
	req := httptest.NewRequest(http.MethodGet, "/?session_id=tab-7", nil)
	req.Header.Set(UserHeaderName, id)
	w, userID, sessionID := serve(t, newUserRepo(), req)

	if userID != id {
		t.Fatalf("Expected header identity, got %q", userID)
	}
	if sessionID != "tab-7" {
		t.Errorf("Expected tab-7, got %q", sessionID)
	}
	if len(w.Result().Cookies()) != 0 {
		t.Error("Header identity must not set a cookie")
	}
}

func TestMiddleware_GuessableHeaderIsIgnored(t *testing.T) {
	repo := newUserRepo()
	victim := "u_" + strings.Repeat("cd", 16)
	repo.users[victim] = &domain.User{UserID: victim, LastSeenAt: time.Now()}

	for _, header := range []string{"alice", "cli-user.01", "user-" + victim[len(victim)-8:], strings.ToUpper(victim)} {
		t.Run(header, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(UserHeaderName, header)
			w, userID, _ := serve(t, repo, req)

			if userID == header || userID == victim {
				t.Fatalf("Header %q was trusted as identity %q", header, userID)
			}
			if !ValidUserID(userID) {
				t.Fatalf("Expected a freshly issued identity, got %q", userID)
			}
			if len(w.Result().Cookies()) != 1 {
				t.Error("Expected a new device cookie")
			}
		})
	}
}

func TestMiddleware_MalformedHeaderFallsBack(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(UserHeaderName, "has spaces and ;")
	req.Header.Set(SessionHeaderName, strings.Repeat("x", 200))
	_, userID, sessionID := serve(t, newUserRepo(), req)

	if !ValidUserID(userID) {
		t.Fatalf("Expected generated identity, got %q", userID)
	}
	if sessionID != DefaultSessionIDValue {
		t.Errorf("Expected default session, got %q", sessionID)
	}
}

func TestMiddleware_StoreFailure(t *testing.T) {
	repo := newUserRepo()
	repo.getErr = errors.New("database is locked")
	w, userID, _ := serve(t, repo, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", w.Code)
	}
	if userID != "" {
		t.Error("Handler must not run")
	}
}

func TestContextGettersDefaults(t *testing.T) {
	ctx := context.Background()
	if UserIDFromContext(ctx) != "" || UsernameFromContext(ctx) != "" {
		t.Fatal("Expected empty identity")
	}
	if SessionIDFromContext(ctx) != DefaultSessionIDValue {
		t.Fatal("Expected default session")
	}
	ctx = WithUser(ctx, "alice")
	if UserIDFromContext(ctx) != "alice" || UsernameFromContext(ctx) != "user-alice" {
		t.Fatalf("Unexpected identity %q %q", UserIDFromContext(ctx), UsernameFromContext(ctx))
	}
}
