package dataverse

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	testUserID = uuid.MustParse("5c5b6a3e-1111-4c7a-9d7e-2f1d2c3b4a51")
	testBUID   = uuid.MustParse("7f0c2a9b-2222-4c7a-9d7e-2f1d2c3b4a52")
	testOrgID  = uuid.MustParse("9a8b7c6d-3333-4c7a-9d7e-2f1d2c3b4a53")

	testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
)

func signTestToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

// fakeDataverse serves the WhoAmI function and records what it received.
type fakeDataverse struct {
	srv          *httptest.Server
	wantToken    string
	status       int
	body         string
	gotRequestID atomic.Value
	gotPath      atomic.Value
}

func newFakeDataverse(t *testing.T, wantToken string) *fakeDataverse {
	t.Helper()
	f := &fakeDataverse{wantToken: wantToken, status: http.StatusOK}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.gotPath.Store(r.URL.Path)
		f.gotRequestID.Store(r.Header.Get(clientRequestIDHeader))
		if _, _, err := contenttype.GetAcceptableMediaType(r, []contenttype.MediaType{jsonMediaType}); err != nil {
			w.WriteHeader(http.StatusNotAcceptable)
			return
		}
		if r.Header.Get("OData-Version") != "4.0" || r.Header.Get("OData-MaxVersion") != "4.0" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+f.wantToken {
			w.Header().Set("Content-Type", "application/json; odata.metadata=minimal")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":{"code":"0x80072560","message":"The user is not a member of the organization."}}`)
			return
		}
		if f.status != http.StatusOK {
			w.Header().Set("REQ_ID", "svc-req-1")
			w.WriteHeader(f.status)
			_, _ = io.WriteString(w, f.body)
			return
		}
		w.Header().Set("Content-Type", "application/json; odata.metadata=minimal")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"@odata.context": f.srv.URL + "/api/data/v9.2/$metadata#Microsoft.Dynamics.CRM.WhoAmIResponse",
			"BusinessUnitId": testBUID.String(),
			"UserId":         testUserID.String(),
			"OrganizationId": testOrgID.String(),
		})
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func TestWhoAmI_StaticToken(t *testing.T) {
	token := signTestToken(t, jwt.MapClaims{"upn": "dev@contoso.com", "oid": "oid-1", "tid": "tid-1"})
	fake := newFakeDataverse(t, token)

	c, err := NewClient(fake.srv.URL+"/", StaticToken(token), WithLogger(testLogger))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	res, err := c.WhoAmI(context.Background())
	if err != nil {
		t.Fatalf("WhoAmI: %v", err)
	}
	if res.UserID != testUserID || res.BusinessUnitID != testBUID || res.OrganizationID != testOrgID {
		t.Fatalf("unexpected response %+v", res)
	}
	if res.Principal == nil || res.Principal.Name != "dev@contoso.com" || res.Principal.TenantID != "tid-1" {
		t.Fatalf("unexpected principal %+v", res.Principal)
	}
	if got := fake.gotPath.Load(); got != "/api/data/v9.2/WhoAmI" {
		t.Fatalf("unexpected path %v", got)
	}
	if id, _ := fake.gotRequestID.Load().(string); uuid.Validate(id) != nil {
		t.Fatalf("expected a uuid client request id, got %q", id)
	}
}

func TestWhoAmI_OpaqueTokenHasNoPrincipal(t *testing.T) {
	fake := newFakeDataverse(t, "opaque-token")
	c, err := NewClient(fake.srv.URL, StaticToken("opaque-token"), WithAPIVersion("v9.1"), WithLogger(testLogger))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	res, err := c.WhoAmI(context.Background())
	if err != nil {
		t.Fatalf("WhoAmI: %v", err)
	}
	if res.Principal != nil {
		t.Fatalf("expected no principal for opaque token, got %+v", res.Principal)
	}
	if got := fake.gotPath.Load(); got != "/api/data/v9.1/WhoAmI" {
		t.Fatalf("unexpected path %v", got)
	}
}

func TestWhoAmI_APIError(t *testing.T) {
	fake := newFakeDataverse(t, "right")
	c, err := NewClient(fake.srv.URL, StaticToken("wrong"), WithLogger(testLogger))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = c.WhoAmI(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Code != "0x80072560" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
	if !strings.Contains(apiErr.Error(), "not a member") {
		t.Fatalf("message lost: %v", apiErr)
	}
}

func TestWhoAmI_PlainTextError(t *testing.T) {
	fake := newFakeDataverse(t, "tok")
	fake.status = http.StatusServiceUnavailable
	fake.body = "maintenance\n"
	c, err := NewClient(fake.srv.URL, StaticToken("tok"), WithLogger(testLogger))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = c.WhoAmI(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Message != "maintenance" || apiErr.RequestID != "svc-req-1" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestWhoAmI_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, StaticToken("tok"), WithTimeout(50*time.Millisecond), WithLogger(testLogger))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := c.WhoAmI(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestWhoAmI_TimeoutCoversTokenAcquisition(t *testing.T) {
	release := make(chan struct{})
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(tokenSrv.Close)
	t.Cleanup(func() { close(release) })

	creds, err := NewCredentials(CredentialsConfig{
		ClientID:     "app",
		ClientSecret: "shh",
		TokenURL:     tokenSrv.URL + "/token",
	}, &http.Client{})
	if err != nil {
		t.Fatalf("NewCredentials: %v", err)
	}
	c, err := NewClient("https://org.crm.dynamics.com", creds, WithTimeout(100*time.Millisecond), WithLogger(testLogger))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	start := time.Now()
	_, err = c.WhoAmI(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("token acquisition ignored the call timeout: took %s", elapsed)
	}
}

func TestNewClient_Validation(t *testing.T) {
	for _, raw := range []string{"", "org.crm.dynamics.com", "ftp://org", "https://"} {
		if _, err := NewClient(raw, StaticToken("x")); !errors.Is(err, ErrInvalidEnvironmentURL) {
			t.Fatalf("NewClient(%q): expected ErrInvalidEnvironmentURL, got %v", raw, err)
		}
	}
	if _, err := NewClient("https://org.crm.dynamics.com", nil); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
	c, err := NewClient("https://org.crm.dynamics.com/", StaticToken("x"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.Scope() != "https://org.crm.dynamics.com/.default" {
		t.Fatalf("unexpected scope %q", c.Scope())
	}
	if c.EnvironmentURL() != "https://org.crm.dynamics.com" {
		t.Fatalf("unexpected environment url %q", c.EnvironmentURL())
	}
}
