package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xuri/excelize/v2"
	"golang.org/x/oauth2"

	"crewcal/internal/calsync"
	"crewcal/internal/config"
	"crewcal/internal/model"
	"crewcal/internal/store"
)

type harness struct {
	srv  *httptest.Server
	ctrl *calsync.Controller
	mem  *store.Memory
	web  *Server
}

func newHarness(t *testing.T, cfg *config.Config, auth Authenticator, wrap func(*store.Memory) store.Store) *harness {
	t.Helper()
	mem := store.NewMemory(time.UTC)
	var st store.Store = mem
	if wrap != nil {
		st = wrap(mem)
	}
	ctrl := calsync.New(calsync.ConnectorFunc(func(context.Context, *oauth2.Token) (store.Store, error) {
		return st, nil
	}), time.UTC)
	if auth == nil {
		if err := ctrl.SignIn(context.Background(), nil); err != nil {
			t.Fatalf("SignIn: %v", err)
		}
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	s := NewServer(cfg, ctrl, auth)
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &harness{srv: srv, ctrl: ctrl, mem: mem, web: s}
}

func (h *harness) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func expectStatus(t *testing.T, resp *http.Response, body []byte, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("%s %s = %d, want %d (%s)", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, body)
	}
}

func TestHealthAndBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "crew", Password: "secret"}
	h := newHarness(t, cfg, nil, nil)

	resp, body := h.do(t, http.MethodGet, "/health", "")
	expectStatus(t, resp, body, http.StatusOK)

	resp, body = h.do(t, http.MethodGet, "/api/status", "")
	expectStatus(t, resp, body, http.StatusUnauthorized)
	if !strings.Contains(resp.Header.Get("WWW-Authenticate"), "Basic") {
		t.Errorf("missing challenge header")
	}

	req, _ := http.NewRequest(http.MethodGet, h.srv.URL+"/api/status", nil)
	req.SetBasicAuth("crew", "secret")
	ok, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	ok.Body.Close()
	if ok.StatusCode != http.StatusOK {
		t.Errorf("authorized status = %d", ok.StatusCode)
	}
}

func TestStatus(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	resp, body := h.do(t, http.MethodGet, "/api/status", "")
	expectStatus(t, resp, body, http.StatusOK)

	var got struct {
		Session struct {
			State string `json:"state"`
		} `json:"session"`
		Backend      string           `json:"backend"`
		SignInNeeded bool             `json:"sign_in_needed"`
		Vocabulary   model.Vocabulary `json:"vocabulary"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got.Session.State != "signed_in" || got.Backend != config.BackendMemory || got.SignInNeeded || len(got.Vocabulary.Roles) != 4 {
		t.Errorf("status = %+v", got)
	}
}

func TestAssignmentAPI(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	resp, body := h.do(t, http.MethodPost, "/api/assignments", `{"person":"Alice","project":"Dune","role":"Foreman","start":"2025-06-02","end":"2025-06-04"}`)
	expectStatus(t, resp, body, http.StatusCreated)
	var a model.Assignment
	if err := json.Unmarshal(body, &a); err != nil {
		t.Fatal(err)
	}
	if a.ID == "" || a.End != model.MustDate("2025-06-04") {
		t.Fatalf("created = %+v", a)
	}

	for _, bad := range []string{
		`{"person":"Alice","project":"Dune","start":"2025-06-02","end":"2025-06-04"}`,
		`{"person":"Alice","project":"Dune","role":"Foreman","start":"2025-06-04","end":"2025-06-02"}`,
		`{"person":"Alice","project":"Dune","role":"Foreman","start":"06/02/2025","end":"2025-06-04"}`,
		`{"person":"Alice","unknown":1}`,
		`not json`,
	} {
		resp, body := h.do(t, http.MethodPost, "/api/assignments", bad)
		expectStatus(t, resp, body, http.StatusBadRequest)
	}

	resp, body = h.do(t, http.MethodGet, "/api/events", "")
	expectStatus(t, resp, body, http.StatusOK)
	var events []calsync.CalendarEvent
	if err := json.Unmarshal(body, &events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].End != model.MustDate("2025-06-05") || events[0].Title != "Alice - Dune - Foreman" {
		t.Errorf("events = %+v", events)
	}
	_, body = h.do(t, http.MethodGet, "/api/events?person=Bob", "")
	if strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("filtered events = %s", body)
	}

	resp, body = h.do(t, http.MethodPatch, "/api/assignments/"+a.ID, `{"start":"2025-06-09","end":"2025-06-09"}`)
	expectStatus(t, resp, body, http.StatusOK)
	resp, body = h.do(t, http.MethodPatch, "/api/assignments/missing", `{"start":"2025-06-09","end":"2025-06-09"}`)
	expectStatus(t, resp, body, http.StatusNotFound)

	resp, body = h.do(t, http.MethodDelete, "/api/assignments/"+a.ID, "")
	expectStatus(t, resp, body, http.StatusNoContent)
	resp, body = h.do(t, http.MethodDelete, "/api/assignments/"+a.ID, "")
	expectStatus(t, resp, body, http.StatusNotFound)

	resp, body = h.do(t, http.MethodPost, "/api/refresh", "")
	expectStatus(t, resp, body, http.StatusOK)
}

func TestVocabularyAPI(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	resp, body := h.do(t, http.MethodPost, "/api/personnel", `{"name":"Alice"}`)
	expectStatus(t, resp, body, http.StatusCreated)
	var v model.Vocabulary
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatal(err)
	}
	if len(v.Personnel) != 1 || v.Personnel[0] != "Alice" {
		t.Errorf("personnel = %v", v.Personnel)
	}

	cases := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodPost, "/api/personnel", `{"name":"Alice"}`, http.StatusConflict},
		{http.MethodPost, "/api/personnel", `{"name":"Jean-Luc"}`, http.StatusBadRequest},
		{http.MethodPost, "/api/personnel", `{"name":"  "}`, http.StatusBadRequest},
		{http.MethodDelete, "/api/personnel/Nobody", "", http.StatusNotFound},
		{http.MethodPost, "/api/projects", `{"name":"Dune"}`, http.StatusCreated},
		{http.MethodDelete, "/api/projects/Dune", "", http.StatusOK},
		{http.MethodPost, "/api/roles", `{"name":"Surveyor","color":"#123456"}`, http.StatusCreated},
		{http.MethodPatch, "/api/roles/Surveyor", `{"color":"red"}`, http.StatusBadRequest},
		{http.MethodPatch, "/api/roles/Surveyor", `{"color":"#654321"}`, http.StatusOK},
		{http.MethodDelete, "/api/roles/Surveyor", "", http.StatusOK},
		{http.MethodDelete, "/api/personnel/Alice", "", http.StatusOK},
	}
	for _, c := range cases {
		resp, body := h.do(t, c.method, c.path, c.body)
		if resp.StatusCode != c.want {
			t.Errorf("%s %s = %d, want %d (%s)", c.method, c.path, resp.StatusCode, c.want, body)
		}
	}
	if got := h.ctrl.Vocabulary(); len(got.Personnel) != 0 || len(got.Roles) != 4 {
		t.Errorf("final vocabulary = %+v", got)
	}
}

func TestSessionErrorsAskForReauth(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	h.ctrl.SignOut()

	resp, body := h.do(t, http.MethodPost, "/api/assignments", `{"person":"A","project":"B","role":"C","start":"2025-06-02","end":"2025-06-02"}`)
	expectStatus(t, resp, body, http.StatusUnauthorized)
	var e struct {
		Error  string `json:"error"`
		Reauth string `json:"reauth"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatal(err)
	}
	if e.Reauth != "/auth/login" || e.Error == "" {
		t.Errorf("body = %s", body)
	}
}

type readOnly struct {
	*store.Memory
}

func (readOnly) Insert(context.Context, store.Event) (store.Event, error) {
	return store.Event{}, store.ErrReadOnly
}

type broken struct {
	*store.Memory
}

func (broken) Insert(context.Context, store.Event) (store.Event, error) {
	return store.Event{}, errors.New("upstream timeout")
}

func TestStoreErrorMapping(t *testing.T) {
	body := `{"person":"A","project":"B","role":"C","start":"2025-06-02","end":"2025-06-02"}`

	ro := newHarness(t, nil, nil, func(m *store.Memory) store.Store { return readOnly{m} })
	resp, data := ro.do(t, http.MethodPost, "/api/assignments", body)
	expectStatus(t, resp, data, http.StatusMethodNotAllowed)

	br := newHarness(t, nil, nil, func(m *store.Memory) store.Store { return broken{m} })
	resp, data = br.do(t, http.MethodPost, "/api/assignments", body)
	expectStatus(t, resp, data, http.StatusBadGateway)
}

func TestOverviewEndpoints(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	resp, body := h.do(t, http.MethodPost, "/api/assignments", `{"person":"Alice","project":"Dune","role":"Foreman","start":"2025-06-02","end":"2025-06-04"}`)
	expectStatus(t, resp, body, http.StatusCreated)
	resp, body = h.do(t, http.MethodPost, "/api/assignments", `{"person":"Alice","project":"Ridge","role":"Shaper","start":"2025-06-04","end":"2025-06-05"}`)
	expectStatus(t, resp, body, http.StatusCreated)

	resp, body = h.do(t, http.MethodGet, "/overview?year=2025", "")
	expectStatus(t, resp, body, http.StatusOK)
	page := string(body)
	for _, want := range []string{`data-ready="true"`, "Dune", "Ridge", "Alice", "KW23", "Jun 2025", "2025-06-04", `class="conflict"`} {
		if !strings.Contains(page, want) {
			t.Errorf("overview page lacks %q", want)
		}
	}

	resp, body = h.do(t, http.MethodGet, "/api/overview?year=2025&project=Dune", "")
	expectStatus(t, resp, body, http.StatusOK)
	var g struct {
		FirstYear int `json:"firstYear"`
		Days      []struct {
			Date model.Date `json:"date"`
		} `json:"days"`
		Projects []struct {
			Name string `json:"name"`
		} `json:"projects"`
	}
	if err := json.Unmarshal(body, &g); err != nil {
		t.Fatal(err)
	}
	if g.FirstYear != 2025 || len(g.Days) != 730 || len(g.Projects) != 1 || g.Projects[0].Name != "Dune" {
		t.Errorf("grid = year %d, %d days, %+v", g.FirstYear, len(g.Days), g.Projects)
	}

	resp, body = h.do(t, http.MethodGet, "/api/overview.xlsx?year=2025", "")
	expectStatus(t, resp, body, http.StatusOK)
	if !strings.Contains(resp.Header.Get("Content-Disposition"), "overview-2025-2026.xlsx") {
		t.Errorf("disposition = %q", resp.Header.Get("Content-Disposition"))
	}
	f, err := excelize.OpenReader(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("xlsx: %v", err)
	}
	defer f.Close()
	if v, _ := f.GetCellValue("Overview", "A4"); v != "Dune" {
		t.Errorf("A4 = %q", v)
	}
}

func TestStaticAndUnknownAPI(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	resp, body := h.do(t, http.MethodGet, "/", "")
	expectStatus(t, resp, body, http.StatusOK)
	if !strings.Contains(string(body), "<title>crewcal</title>") {
		t.Errorf("index page not served")
	}

	resp, body = h.do(t, http.MethodGet, "/api/nope", "")
	expectStatus(t, resp, body, http.StatusNotFound)
	if !strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		t.Errorf("unknown API answered with %q", resp.Header.Get("Content-Type"))
	}

	resp, body = h.do(t, http.MethodGet, "/preview.png", "")
	expectStatus(t, resp, body, http.StatusNotFound)
}

type fakeAuth struct {
	exchangeErr error
	stored      *oauth2.Token
	discarded   int
}

func (f *fakeAuth) AuthCodeURL() (string, string) {
	return "https://accounts.example.com/o/oauth2/auth?state=s1", "s1"
}

func (f *fakeAuth) Exchange(_ context.Context, state, code string) (*oauth2.Token, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &oauth2.Token{AccessToken: state + ":" + code}, nil
}

func (f *fakeAuth) Store(tok *oauth2.Token) error {
	f.stored = tok
	return nil
}

func (f *fakeAuth) Discard() error {
	f.discarded++
	return nil
}

func TestLoginFlow(t *testing.T) {
	auth := &fakeAuth{}
	h := newHarness(t, nil, auth, nil)

	if st := h.ctrl.Status(); st.State != calsync.SignedOut {
		t.Fatalf("initial state = %v", st.State)
	}
	_, body := h.do(t, http.MethodGet, "/api/status", "")
	if !strings.Contains(string(body), `"sign_in_needed":true`) {
		t.Errorf("status = %s", body)
	}

	resp, body := h.do(t, http.MethodGet, "/auth/login", "")
	expectStatus(t, resp, body, http.StatusFound)
	if loc := resp.Header.Get("Location"); !strings.HasPrefix(loc, "https://accounts.example.com/") {
		t.Errorf("login redirect = %q", loc)
	}

	resp, body = h.do(t, http.MethodGet, "/auth/callback?error=access_denied", "")
	expectStatus(t, resp, body, http.StatusUnauthorized)

	resp, body = h.do(t, http.MethodGet, "/auth/callback?state=s1&code=abc", "")
	expectStatus(t, resp, body, http.StatusSeeOther)
	if auth.stored == nil || auth.stored.AccessToken != "s1:abc" {
		t.Errorf("stored token = %+v", auth.stored)
	}
	if st := h.ctrl.Status(); st.State != calsync.SignedIn {
		t.Errorf("state after callback = %v", st.State)
	}

	resp, body = h.do(t, http.MethodPost, "/auth/logout", "")
	expectStatus(t, resp, body, http.StatusNoContent)
	if auth.discarded != 1 || h.ctrl.Status().State != calsync.SignedOut {
		t.Errorf("logout: discarded %d, state %v", auth.discarded, h.ctrl.Status().State)
	}

	auth.exchangeErr = errors.New("invalid_grant")
	resp, body = h.do(t, http.MethodGet, "/auth/callback?state=s1&code=abc", "")
	expectStatus(t, resp, body, http.StatusBadRequest)
}

type rejecting struct {
	*store.Memory
}

func (rejecting) Probe(context.Context) error { return store.ErrUnauthorized }

func TestCallbackWithRejectedToken(t *testing.T) {
	auth := &fakeAuth{}
	h := newHarness(t, nil, auth, func(m *store.Memory) store.Store { return rejecting{m} })

	resp, body := h.do(t, http.MethodGet, "/auth/callback?state=s1&code=abc", "")
	expectStatus(t, resp, body, http.StatusUnauthorized)
	if auth.discarded != 1 {
		t.Errorf("rejected token not discarded")
	}
}

func TestLoginWithoutProvider(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	h.ctrl.SignOut()

	resp, body := h.do(t, http.MethodGet, "/auth/login", "")
	expectStatus(t, resp, body, http.StatusSeeOther)
	if h.ctrl.Status().State != calsync.SignedIn {
		t.Errorf("state = %v", h.ctrl.Status().State)
	}
	resp, body = h.do(t, http.MethodGet, "/auth/callback", "")
	expectStatus(t, resp, body, http.StatusNotFound)
}

func TestWebsocketNotifies(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Registration races the first change; keep changing until one arrives.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_, _ = h.ctrl.CreateAssignment(context.Background(), calsync.CreateRequest{
					Person: "A", Project: "B", Role: "C",
					Start: model.MustDate("2025-06-02"), End: model.MustDate("2025-06-02"),
				})
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ch calsync.Change
	if err := json.Unmarshal(msg, &ch); err != nil {
		t.Fatal(err)
	}
	if ch.Kind != calsync.ChangeEvents {
		t.Errorf("kind = %q", ch.Kind)
	}
}
