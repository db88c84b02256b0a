package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"cardauction/internal/api"
	"cardauction/internal/apiclient"
	"cardauction/internal/store"
	"cardauction/web"
)

// upstream is a fake marketplace API.
type upstream struct {
	mu         sync.Mutex
	calls      map[string]int
	bids       []float64
	deleted    []string
	rejectAll  bool // every authenticated call answers 401
	expiredOld bool // "access-1" is expired, refresh issues "access-2"
	socketMsgs chan string
	lastAuth   string
	markedRead bool
	ratings    map[string]string
	noAuctions bool // the collection reports total_pages 0
}

func (u *upstream) hit(name string) {
	u.mu.Lock()
	u.calls[name]++
	u.mu.Unlock()
}

func (u *upstream) count(name string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls[name]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// authorized checks the bearer token the way the real API would.
func (u *upstream) authorized(w http.ResponseWriter, r *http.Request) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	auth := r.Header.Get("Authorization")
	u.lastAuth = auth
	ok := auth == "Bearer access-1" || auth == "Bearer access-2"
	if u.expiredOld && auth == "Bearer access-1" {
		ok = false
	}
	if u.rejectAll {
		ok = false
	}
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid or expired token"})
	}
	return ok
}

func endIn(d time.Duration) int64 {
	return time.Now().Add(d).Unix()
}

func (u *upstream) router() http.Handler {
	r := chi.NewRouter()

	r.Post("/login", func(w http.ResponseWriter, r *http.Request) {
		u.hit("login")
		if r.URL.Query().Get("password") != "pikachu" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Incorrect username or password"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "Login successful",
			"tokens": map[string]string{
				"id_token": "id-1", "access_token": "access-1", "refresh_token": "refresh-1",
			},
		})
	})
	r.Post("/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		u.hit("refresh")
		u.mu.Lock()
		reject := u.rejectAll
		u.mu.Unlock()
		if reject {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Refresh token expired"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"tokens": map[string]string{"id_token": "id-2", "access_token": "access-2"},
		})
	})

	r.Get("/bidding/auction-collection", func(w http.ResponseWriter, r *http.Request) {
		u.hit("collection")
		page := r.URL.Query().Get("page")
		u.mu.Lock()
		empty := u.noAuctions
		u.mu.Unlock()
		if empty {
			writeJSON(w, http.StatusOK, map[string]any{"auctions": []any{}, "total_pages": 0})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"auctions": []map[string]any{
				{"AuctionID": 1, "CardName": "Charizard page " + page, "CardQuality": "Mint", "HighestBid": 120.5, "EndTime": endIn(2 * time.Hour), "ImageURL": "/images/charizard.png"},
				{"AuctionID": 2, "CardName": "Bulbasaur", "CardQuality": "Played", "HighestBid": 3, "EndTime": endIn(-time.Hour)},
			},
			"total_pages": 3,
		})
	})
	r.Get("/bidding/auction-details/{id}", func(w http.ResponseWriter, r *http.Request) {
		u.hit("details")
		if chi.URLParam(r, "id") == "404" {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Auction not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"AuctionID": 7, "CardName": "Mewtwo", "CardQuality": "Near Mint", "Status": "In Progress",
			"HighestBid": 50, "EndTime": endIn(90 * time.Minute),
		})
	})
	r.Post("/bidding/place-bid/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !u.authorized(w, r) {
			return
		}
		var body struct {
			BidValue float64 `json:"bid_value"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		u.mu.Lock()
		u.bids = append(u.bids, body.BidValue)
		u.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"message": "Bid placed successfully", "new_highest_bid": body.BidValue})
	})
	r.Get("/search/all", func(w http.ResponseWriter, r *http.Request) {
		u.hit("search")
		if r.URL.Query().Get("query") == "zzz" {
			writeJSON(w, http.StatusOK, map[string]any{"total": 0, "results": []any{}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"total": 2,
			"results": []map[string]any{
				{"result_type": "Profile", "Username": "misty", "Email": "misty@example.com"},
				{"result_type": "CardAuction", "card": map[string]any{"CardName": "Starmie"}, "auction": map[string]any{"AuctionID": 11, "Status": "In Progress"}},
			},
		})
	})

	r.Get("/entry/my-cards", func(w http.ResponseWriter, r *http.Request) {
		u.hit("my-cards")
		if !u.authorized(w, r) {
			return
		}
		if r.URL.Query().Get("page") == "2" {
			writeJSON(w, http.StatusOK, map[string]any{
				"cards": []map[string]any{{"card_id": 8, "card_name": "Raichu", "card_quality": "Played"}},
				"pagination": map[string]any{
					"current_page": 2, "total_pages": 2, "total_cards": 11, "has_next": false, "has_previous": true,
				},
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"cards": []map[string]any{{"card_id": 4, "card_name": "Pikachu", "card_quality": "Mint", "is_validated": true}},
			"pagination": map[string]any{
				"current_page": 1, "total_pages": 2, "total_cards": 11, "has_next": true, "has_previous": false,
			},
		})
	})
	r.Post("/entry/card-entry/create", func(w http.ResponseWriter, r *http.Request) {
		u.hit("create-card")
		if !u.authorized(w, r) {
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "created"})
	})

	r.Get("/entry/card-entry/unvalidated", func(w http.ResponseWriter, r *http.Request) {
		if !u.authorized(w, r) {
			return
		}
		writeJSON(w, http.StatusOK, []map[string]any{
			{"CardID": 4, "CardName": "Pikachu", "CardQuality": "Mint", "IsValidated": false},
		})
	})
	r.Post("/verification/verify-card/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !u.authorized(w, r) {
			return
		}
		switch chi.URLParam(r, "id") {
		case "4":
			writeJSON(w, http.StatusOK, map[string]any{"message": "Card verified successfully", "card_id": 4, "is_validated": true})
		case "5":
			writeJSON(w, http.StatusOK, map[string]any{"card_id": 5, "is_validated": false})
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Card has no TCG id"})
		}
	})

	r.Get("/winning-auctions", func(w http.ResponseWriter, r *http.Request) {
		if !u.authorized(w, r) {
			return
		}
		writeJSON(w, http.StatusOK, []map[string]any{
			{"AuctionID": 21, "CardName": "Onix", "HighestBid": 12, "EndTime": endIn(-time.Hour), "SellerUsername": "brock"},
		})
	})
	r.Put("/rate-seller", func(w http.ResponseWriter, r *http.Request) {
		if !u.authorized(w, r) {
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "bad form"})
			return
		}
		u.mu.Lock()
		u.ratings[r.FormValue("auction_id")] = r.FormValue("rating")
		u.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"message":        "Seller rated successfully",
			"seller_profile": map[string]any{"Username": "brock", "CurrentRating": 4},
		})
	})

	ash := map[string]any{"UserID": 33, "Username": "ash", "Email": "ash@example.com", "NumberOfRating": 4, "CurrentRating": 4.5}
	r.Get("/profile/info", func(w http.ResponseWriter, r *http.Request) {
		if !u.authorized(w, r) {
			return
		}
		writeJSON(w, http.StatusOK, ash)
	})
	r.Get("/profile/{username}", func(w http.ResponseWriter, r *http.Request) {
		switch chi.URLParam(r, "username") {
		case "ash":
			writeJSON(w, http.StatusOK, ash)
		case "misty":
			writeJSON(w, http.StatusOK, map[string]any{"UserID": 44, "Username": "misty", "Email": "misty@example.com", "NumberOfRating": 1, "CurrentRating": 3})
		default:
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "User not found"})
		}
	})
	r.Get("/auction/seller/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch chi.URLParam(r, "id") {
		case "33":
			writeJSON(w, http.StatusOK, []map[string]any{{"AuctionID": 31, "CardName": "Snorlax", "Status": "In Progress", "EndTime": endIn(time.Hour)}})
		case "44":
			writeJSON(w, http.StatusOK, []map[string]any{{"AuctionID": 41, "CardName": "Starmie", "Status": "In Progress", "EndTime": endIn(time.Hour)}})
		default:
			writeJSON(w, http.StatusOK, []any{})
		}
	})

	r.Get("/auction/auction-details/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !u.authorized(w, r) {
			return
		}
		a := map[string]any{
			"AuctionID": 9, "CardName": "Gengar", "Status": "In Progress", "HighestBid": 10,
			"StartingBid": 5, "MinimumIncrement": 1, "EndTime": endIn(time.Hour),
		}
		if chi.URLParam(r, "id") == "9" {
			a["HighestBidderID"] = 33
		}
		writeJSON(w, http.StatusOK, a)
	})
	r.Delete("/auction/delete-auction/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !u.authorized(w, r) {
			return
		}
		u.mu.Lock()
		u.deleted = append(u.deleted, chi.URLParam(r, "id"))
		u.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
	})

	r.Get("/notifications/my-notifications", func(w http.ResponseWriter, r *http.Request) {
		if !u.authorized(w, r) {
			return
		}
		u.mu.Lock()
		read := u.markedRead
		u.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"Notifications": []map[string]any{
				{"notification_id": 1, "auction_id": 7, "message": "You have been outbid", "is_read": read},
				{"notification_id": 2, "auction_id": 8, "message": "Auction won", "is_read": true},
			},
			"Total": 2,
		})
	})
	r.Put("/notifications/mark-read", func(w http.ResponseWriter, r *http.Request) {
		if !u.authorized(w, r) {
			return
		}
		u.hit("mark-read")
		u.mu.Lock()
		u.markedRead = true
		u.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
	})

	r.Post("/rag/fetch", func(w http.ResponseWriter, r *http.Request) {
		if !u.authorized(w, r) {
			return
		}
		var body struct {
			Name string `json:"pokemon_name"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Name == "Missingno" {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Pokemon not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"name": body.Name, "hp": "60", "types": []string{"Lightning"}})
	})

	upgrader := websocket.Upgrader{}
	r.Get("/ws/{email}", func(w http.ResponseWriter, r *http.Request) {
		u.hit("socket " + chi.URLParam(r, "email"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for msg := range u.socketMsgs {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
	})

	return r
}

// testEnv holds all the components needed for e2e testing
type testEnv struct {
	server   *httptest.Server
	upstream *upstream
	api      *httptest.Server
	srv      *api.Server
	store    *store.Store
	jar      *cookiejar.Jar
	http     *http.Client
}

func setupTestEnv(t *testing.T, configure ...func(*api.Options)) *testEnv {
	t.Helper()

	up := &upstream{calls: map[string]int{}, ratings: map[string]string{}, socketMsgs: make(chan string, 8)}
	apiServer := httptest.NewServer(up.router())

	st, err := store.New(":memory:", "test-secret")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	templates, err := web.Templates()
	if err != nil {
		t.Fatalf("Failed to load templates: %v", err)
	}
	static, err := web.Static()
	if err != nil {
		t.Fatalf("Failed to load static files: %v", err)
	}

	opts := api.Options{
		Client:          apiclient.New(apiServer.URL, 5*time.Second, nil),
		Store:           st,
		Templates:       templates,
		Static:          static,
		SocketBaseURL:   "ws" + strings.TrimPrefix(apiServer.URL, "http"),
		ReconnectDelay:  50 * time.Millisecond,
		PollInterval:    time.Hour,
		AssistantLimit:  3,
		AssistantWindow: time.Minute,
	}
	for _, fn := range configure {
		fn(&opts)
	}
	srv, err := api.NewServer(opts)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())

	jar, _ := cookiejar.New(nil)
	env := &testEnv{
		server:   ts,
		upstream: up,
		api:      apiServer,
		srv:      srv,
		store:    st,
		jar:      jar,
		http: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	t.Cleanup(env.cleanup)
	return env
}

func (e *testEnv) cleanup() {
	e.server.Close()
	close(e.upstream.socketMsgs)
	e.srv.Shutdown()
	e.api.Close()
	e.store.Close()
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := e.http.Get(e.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func (e *testEnv) postForm(t *testing.T, path string, form url.Values) (*http.Response, string) {
	t.Helper()
	resp, err := e.http.PostForm(e.server.URL+path, form)
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func (e *testEnv) postJSON(t *testing.T, path string, v any) (*http.Response, string) {
	t.Helper()
	data, _ := json.Marshal(v)
	resp, err := e.http.Post(e.server.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func (e *testEnv) login(t *testing.T) {
	t.Helper()
	resp, _ := e.postForm(t, "/login", url.Values{"email": {"ash@example.com"}, "password": {"pikachu"}})
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("expected login redirect, got %d", resp.StatusCode)
	}
}

// dialNotifications opens the notification socket with the session cookie.
func (e *testEnv) dialNotifications(t *testing.T) *websocket.Conn {
	t.Helper()
	u, _ := url.Parse(e.server.URL)
	var cookies []string
	for _, c := range e.jar.Cookies(u) {
		cookies = append(cookies, c.Name+"="+c.Value)
	}
	header := http.Header{"Cookie": {strings.Join(cookies, "; ")}}

	wsURL := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws/notifications"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("WebSocket dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("expected status %d, got %d", want, resp.StatusCode)
	}
}

func expectContains(t *testing.T, body, want string) {
	t.Helper()
	if !strings.Contains(body, want) {
		t.Fatalf("expected body to contain %q", want)
	}
}

// ==================== PUBLIC PAGES ====================

func TestHealthz(t *testing.T) {
	env := setupTestEnv(t)
	resp, body := env.get(t, "/healthz")
	expectStatus(t, resp, http.StatusOK)
	expectContains(t, body, `"ok"`)
}

func TestHomeListsAuctions(t *testing.T) {
	env := setupTestEnv(t)

	resp, body := env.get(t, "/?page=2")
	expectStatus(t, resp, http.StatusOK)
	expectContains(t, body, "Charizard page 2")
	expectContains(t, body, "Page 2 of 3")
	expectContains(t, body, `href="/?page=1"`)
	expectContains(t, body, `href="/?page=3"`)
	expectContains(t, body, env.api.URL+"/images/charizard.png")
	expectContains(t, body, "Expired")
}

func TestHomeInvalidPage(t *testing.T) {
	env := setupTestEnv(t)

	resp, body := env.get(t, "/?page=9")
	expectStatus(t, resp, http.StatusOK)
	expectContains(t, body, "Invalid page number")
	expectContains(t, body, "Page 1 of 3")
}

func TestHomeWithoutAuctions(t *testing.T) {
	env := setupTestEnv(t)
	env.upstream.mu.Lock()
	env.upstream.noAuctions = true
	env.upstream.mu.Unlock()

	for _, path := range []string{"/", "/?page=1"} {
		resp, body := env.get(t, path)
		expectStatus(t, resp, http.StatusOK)
		if strings.Contains(body, "Invalid page number") {
			t.Fatalf("%s: an empty market is not an invalid page", path)
		}
		expectContains(t, body, "No auctions right now.")
		expectContains(t, body, "Page 1 of 1")
	}
	if n := env.upstream.count("collection"); n != 2 {
		t.Fatalf("expected one collection fetch per request, got %d", n)
	}
}

func TestCORSCredentials(t *testing.T) {
	get := func(env *testEnv, origin string) *http.Response {
		req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/healthz", nil)
		req.Header.Set("Origin", origin)
		resp, err := env.http.Do(req)
		if err != nil {
			t.Fatalf("GET /healthz failed: %v", err)
		}
		resp.Body.Close()
		return resp
	}

	open := setupTestEnv(t)
	resp := get(open, "https://evil.example.com")
	if v := resp.Header.Get("Access-Control-Allow-Credentials"); v != "" {
		t.Fatalf("open CORS must not allow credentials, got %q", v)
	}
	if v := resp.Header.Get("Access-Control-Allow-Origin"); v == "" {
		t.Fatal("open CORS should still answer cross-origin reads")
	}

	listed := setupTestEnv(t, func(o *api.Options) {
		o.CORSOrigins = []string{"https://shop.example.com"}
	})
	resp = get(listed, "https://shop.example.com")
	if v := resp.Header.Get("Access-Control-Allow-Origin"); v != "https://shop.example.com" {
		t.Fatalf("expected listed origin, got %q", v)
	}
	if v := resp.Header.Get("Access-Control-Allow-Credentials"); v != "true" {
		t.Fatalf("listed origins allow credentials, got %q", v)
	}
	resp = get(listed, "https://evil.example.com")
	if v := resp.Header.Get("Access-Control-Allow-Origin"); v != "" {
		t.Fatalf("unlisted origin must be refused, got %q", v)
	}
}

func TestSearchBlankQuerySkipsAPI(t *testing.T) {
	env := setupTestEnv(t)

	resp, _ := env.get(t, "/search?query=+")
	expectStatus(t, resp, http.StatusOK)
	if n := env.upstream.count("search"); n != 0 {
		t.Fatalf("expected no upstream search, got %d", n)
	}

	resp, body := env.get(t, "/search?query=star")
	expectStatus(t, resp, http.StatusOK)
	expectContains(t, body, "Profiles")
	expectContains(t, body, "In Progress")
	expectContains(t, body, "/bidding/11")
	expectContains(t, body, "/profiles/misty")
}

func TestSearchNoResults(t *testing.T) {
	env := setupTestEnv(t)

	resp, body := env.get(t, "/search?query=zzz")
	expectStatus(t, resp, http.StatusOK)
	expectContains(t, body, "No results found for")
	expectContains(t, body, "zzz")
	if strings.Contains(body, "result-group") {
		t.Fatal("an empty search renders no result groups")
	}
}

func TestBiddingNotFound(t *testing.T) {
	env := setupTestEnv(t)
	resp, body := env.get(t, "/bidding/404")
	expectStatus(t, resp, http.StatusNotFound)
	expectContains(t, body, "Auction not found")
}

func TestCountdownEndpoint(t *testing.T) {
	env := setupTestEnv(t)

	resp, body := env.get(t, "/api/auctions/7/countdown")
	expectStatus(t, resp, http.StatusOK)

	var got struct {
		AuctionID int64  `json:"auction_id"`
		EndTime   int64  `json:"end_time"`
		Expired   bool   `json:"expired"`
		TimeLeft  string `json:"time_left"`
	}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.AuctionID != 7 || got.Expired || !strings.HasPrefix(got.TimeLeft, "0d 1h") {
		t.Fatalf("unexpected countdown: %+v", got)
	}
}

// ==================== AUTH GATE ====================

func TestProtectedPageRedirectsToLogin(t *testing.T) {
	env := setupTestEnv(t)

	resp, _ := env.get(t, "/my-cards?page=2")
	expectStatus(t, resp, http.StatusSeeOther)
	if loc := resp.Header.Get("Location"); loc != "/login?next="+url.QueryEscape("/my-cards?page=2") {
		t.Fatalf("unexpected redirect %q", loc)
	}

	resp, _ = env.get(t, "/api/notifications")
	expectStatus(t, resp, http.StatusUnauthorized)
}

func TestLoginFlow(t *testing.T) {
	env := setupTestEnv(t)

	resp, body := env.postForm(t, "/login", url.Values{"email": {"ash@example.com"}, "password": {"wrong"}})
	expectStatus(t, resp, http.StatusUnauthorized)
	expectContains(t, body, "Login failed")

	resp, _ = env.postForm(t, "/login", url.Values{
		"email": {"ash@example.com"}, "password": {"pikachu"}, "next": {"/my-cards"},
	})
	expectStatus(t, resp, http.StatusSeeOther)
	if loc := resp.Header.Get("Location"); loc != "/my-cards" {
		t.Fatalf("expected redirect to /my-cards, got %q", loc)
	}

	resp, body = env.get(t, "/my-cards")
	expectStatus(t, resp, http.StatusOK)
	expectContains(t, body, "Pikachu")
	expectContains(t, body, "Page 1 of 2")
	expectContains(t, body, `href="/my-cards?page=2"`)
}

func TestLoginRejectsOffsiteNext(t *testing.T) {
	env := setupTestEnv(t)

	resp, _ := env.postForm(t, "/login", url.Values{
		"email": {"ash@example.com"}, "password": {"pikachu"}, "next": {"//evil.example.com"},
	})
	expectStatus(t, resp, http.StatusSeeOther)
	if loc := resp.Header.Get("Location"); loc != "/" {
		t.Fatalf("expected redirect to /, got %q", loc)
	}
}

func TestLogout(t *testing.T) {
	env := setupTestEnv(t)
	env.login(t)

	resp, _ := env.postForm(t, "/logout", nil)
	expectStatus(t, resp, http.StatusSeeOther)

	resp, _ = env.get(t, "/my-cards")
	expectStatus(t, resp, http.StatusSeeOther)
}

func TestRefreshOnExpiredToken(t *testing.T) {
	env := setupTestEnv(t)
	env.login(t)
	env.upstream.mu.Lock()
	env.upstream.expiredOld = true
	env.upstream.mu.Unlock()

	resp, _ := env.get(t, "/my-cards")
	expectStatus(t, resp, http.StatusOK)
	if n := env.upstream.count("refresh"); n != 1 {
		t.Fatalf("expected one refresh, got %d", n)
	}

	// The refreshed token is kept for later requests.
	resp, _ = env.get(t, "/my-cards")
	expectStatus(t, resp, http.StatusOK)
	if n := env.upstream.count("refresh"); n != 1 {
		t.Fatalf("expected refreshed token to be reused, got %d refreshes", n)
	}
	env.upstream.mu.Lock()
	last := env.upstream.lastAuth
	env.upstream.mu.Unlock()
	if last != "Bearer access-2" {
		t.Fatalf("expected refreshed token, got %q", last)
	}
}

func TestUnauthorizedEndsSession(t *testing.T) {
	env := setupTestEnv(t)
	env.login(t)
	env.upstream.mu.Lock()
	env.upstream.rejectAll = true
	env.upstream.mu.Unlock()

	resp, _ := env.get(t, "/my-cards")
	expectStatus(t, resp, http.StatusSeeOther)
	if loc := resp.Header.Get("Location"); !strings.HasPrefix(loc, "/login") {
		t.Fatalf("expected login redirect, got %q", loc)
	}

	env.upstream.mu.Lock()
	env.upstream.rejectAll = false
	env.upstream.mu.Unlock()

	// The session is gone even though the API would accept the token again.
	resp, _ = env.get(t, "/my-cards")
	expectStatus(t, resp, http.StatusSeeOther)
}

// ==================== BIDDING AND LISTINGS ====================

func TestPlaceBidTooLow(t *testing.T) {
	env := setupTestEnv(t)
	env.login(t)

	resp, body := env.postForm(t, "/bidding/7", url.Values{"amount": {"50"}})
	expectStatus(t, resp, http.StatusBadRequest)
	expectContains(t, body, "Bid must be higher than the current bid")

	resp, body = env.postForm(t, "/bidding/7", url.Values{"amount": {"abc"}})
	expectStatus(t, resp, http.StatusBadRequest)
	expectContains(t, body, "Please enter a valid bid amount")

	env.upstream.mu.Lock()
	n := len(env.upstream.bids)
	env.upstream.mu.Unlock()
	if n != 0 {
		t.Fatalf("rejected bids must not reach the API, got %d", n)
	}
}

func TestPlaceBid(t *testing.T) {
	env := setupTestEnv(t)
	env.login(t)

	resp, _ := env.postForm(t, "/bidding/7", url.Values{"amount": {"55.5"}})
	expectStatus(t, resp, http.StatusSeeOther)
	if loc := resp.Header.Get("Location"); loc != "/bidding/7" {
		t.Fatalf("unexpected redirect %q", loc)
	}

	env.upstream.mu.Lock()
	bids := append([]float64(nil), env.upstream.bids...)
	env.upstream.mu.Unlock()
	if len(bids) != 1 || bids[0] != 55.5 {
		t.Fatalf("unexpected bids %v", bids)
	}

	// The flash message shows once.
	_, body := env.get(t, "/bidding/7")
	expectContains(t, body, "Bid placed successfully")
	_, body = env.get(t, "/bidding/7")
	if strings.Contains(body, "Bid placed successfully") {
		t.Fatal("flash message should be shown only once")
	}
}

func TestDeleteAuctionWithBids(t *testing.T) {
	env := setupTestEnv(t)
	env.login(t)

	resp, body := env.postForm(t, "/auction/9/delete", nil)
	expectStatus(t, resp, http.StatusConflict)
	expectContains(t, body, "Cannot delete auction that has active bids")

	resp, _ = env.postForm(t, "/auction/10/delete", nil)
	expectStatus(t, resp, http.StatusSeeOther)

	env.upstream.mu.Lock()
	deleted := append([]string(nil), env.upstream.deleted...)
	env.upstream.mu.Unlock()
	if len(deleted) != 1 || deleted[0] != "10" {
		t.Fatalf("unexpected deletions %v", deleted)
	}
}

func TestUpdateAuctionInProgress(t *testing.T) {
	env := setupTestEnv(t)
	env.login(t)

	resp, body := env.postForm(t, "/auction/9", url.Values{
		"starting_bid": {"5"}, "minimum_increment": {"1"},
	})
	expectStatus(t, resp, http.StatusConflict)
	expectContains(t, body, "already in progress")
}

func TestCardEntryRejectsNonImage(t *testing.T) {
	env := setupTestEnv(t)
	env.login(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("card_name", "Pikachu")
	mw.WriteField("card_quality", "Mint")
	fw, _ := mw.CreateFormFile("image", "notes.txt")
	fw.Write([]byte("definitely not an image"))
	mw.Close()

	resp, err := env.http.Post(env.server.URL+"/card-entry", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	expectStatus(t, resp, http.StatusBadRequest)
	expectContains(t, string(body), "Please upload a valid image file.")
	if n := env.upstream.count("create-card"); n != 0 {
		t.Fatalf("invalid upload must not reach the API, got %d", n)
	}
}

func TestCardEntryRejectsNonMultipart(t *testing.T) {
	env := setupTestEnv(t)
	env.login(t)

	resp, body := env.postForm(t, "/card-entry", url.Values{"card_name": {"Pikachu"}, "card_quality": {"Mint"}})
	expectStatus(t, resp, http.StatusBadRequest)
	expectContains(t, body, "invalid form")
	if strings.Contains(body, "too large") {
		t.Fatal("a malformed form is not an oversized upload")
	}
	if n := env.upstream.count("create-card"); n != 0 {
		t.Fatalf("invalid form must not reach the API, got %d", n)
	}
}

func TestMyCardsPaging(t *testing.T) {
	env := setupTestEnv(t)
	env.login(t)

	resp, body := env.get(t, "/my-cards?page=2")
	expectStatus(t, resp, http.StatusOK)
	expectContains(t, body, "Raichu")
	expectContains(t, body, "Page 2 of 2")
	expectContains(t, body, `href="/my-cards?page=1"`)
	if strings.Contains(body, `href="/my-cards?page=3"`) {
		t.Fatal("last page must not link further")
	}

	_, body = env.get(t, "/my-cards")
	if strings.Contains(body, `href="/my-cards?page=0"`) {
		t.Fatal("first page must not link back")
	}
}

func TestVerifyCard(t *testing.T) {
	env := setupTestEnv(t)
	env.login(t)

	resp, body := env.get(t, "/unvalidated-cards")
	expectStatus(t, resp, http.StatusOK)
	expectContains(t, body, "Pikachu")
	expectContains(t, body, `action="/unvalidated-cards/4/verify"`)

	cases := []struct {
		id    string
		flash string
	}{
		{"4", "Card verified successfully"},
		{"5", "Card 5 could not be verified."},
		{"6", "Card has no TCG id"},
	}
	for _, c := range cases {
		resp, _ := env.postForm(t, "/unvalidated-cards/"+c.id+"/verify", nil)
		expectStatus(t, resp, http.StatusSeeOther)
		if loc := resp.Header.Get("Location"); loc != "/unvalidated-cards" {
			t.Fatalf("card %s: unexpected redirect %q", c.id, loc)
		}
		_, body := env.get(t, "/unvalidated-cards")
		expectContains(t, body, c.flash)
	}
}

func TestRateSeller(t *testing.T) {
	env := setupTestEnv(t)
	env.login(t)

	resp, body := env.get(t, "/winning-auctions")
	expectStatus(t, resp, http.StatusOK)
	expectContains(t, body, "Onix")
	expectContains(t, body, "/profiles/brock")
	expectContains(t, body, `action="/winning-auctions/21/rate"`)

	for _, bad := range []string{"0", "6", "abc", ""} {
		resp, _ := env.postForm(t, "/winning-auctions/21/rate", url.Values{"rating": {bad}})
		expectStatus(t, resp, http.StatusSeeOther)
		_, body := env.get(t, "/winning-auctions")
		expectContains(t, body, "Rating must be between 1 and 5")
	}
	env.upstream.mu.Lock()
	n := len(env.upstream.ratings)
	env.upstream.mu.Unlock()
	if n != 0 {
		t.Fatalf("out of range ratings must not reach the API, got %d", n)
	}

	resp, _ = env.postForm(t, "/winning-auctions/21/rate", url.Values{"rating": {"4"}})
	expectStatus(t, resp, http.StatusSeeOther)
	if loc := resp.Header.Get("Location"); loc != "/winning-auctions" {
		t.Fatalf("unexpected redirect %q", loc)
	}
	env.upstream.mu.Lock()
	got := env.upstream.ratings["21"]
	env.upstream.mu.Unlock()
	if got != "4" {
		t.Fatalf("expected rating 4 for auction 21, got %q", got)
	}
	_, body = env.get(t, "/winning-auctions")
	expectContains(t, body, "Seller rated successfully")
}

// ==================== PROFILES ====================

func TestOwnProfile(t *testing.T) {
	env := setupTestEnv(t)
	env.login(t)

	resp, body := env.get(t, "/profile")
	expectStatus(t, resp, http.StatusOK)
	expectContains(t, body, "ash@example.com")
	expectContains(t, body, "4 ratings")
	expectContains(t, body, "Snorlax")
	// Own listings open the seller view.
	expectContains(t, body, `href="/auction/31"`)
	expectContains(t, body, `href="/profiles/ash"`)
}

func TestPublicProfile(t *testing.T) {
	env := setupTestEnv(t)

	resp, body := env.get(t, "/profiles/misty")
	expectStatus(t, resp, http.StatusOK)
	expectContains(t, body, "Auctions by misty")
	expectContains(t, body, `href="/bidding/41"`)
	if strings.Contains(body, "This is you") {
		t.Fatal("anonymous visitors do not own a profile")
	}

	resp, body = env.get(t, "/profiles/nobody")
	expectStatus(t, resp, http.StatusNotFound)
	expectContains(t, body, "User not found")

	env.login(t)
	_, body = env.get(t, "/profiles/ash")
	expectContains(t, body, "This is you")
	expectContains(t, body, `href="/bidding/31"`)

	_, body = env.get(t, "/profiles/misty")
	if strings.Contains(body, "This is you") {
		t.Fatal("another seller's profile is not ours")
	}
}

// ==================== ASSISTANT ====================

func TestAssistantAskAndHistory(t *testing.T) {
	env := setupTestEnv(t)
	env.login(t)

	resp, body := env.postJSON(t, "/api/assistant", map[string]string{"message": "Pikachu"})
	expectStatus(t, resp, http.StatusOK)
	var reply struct {
		Role    string `json:"role"`
		Content string `json:"content"`
		IsHTML  bool   `json:"is_html"`
	}
	if err := json.Unmarshal([]byte(body), &reply); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reply.Role != "bot" || !strings.Contains(reply.Content, "Pikachu") {
		t.Fatalf("unexpected reply %+v", reply)
	}

	resp, body = env.postJSON(t, "/api/assistant", map[string]string{"message": "Missingno"})
	expectStatus(t, resp, http.StatusOK)
	expectContains(t, body, "No information found")

	resp, body = env.get(t, "/api/assistant")
	expectStatus(t, resp, http.StatusOK)
	var history []map[string]any
	if err := json.Unmarshal([]byte(body), &history); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("expected 4 messages in history, got %d", len(history))
	}
	if history[0]["content"] != "Pikachu" || history[0]["role"] != "user" {
		t.Fatalf("unexpected first message %v", history[0])
	}
}

func TestAssistantRejectsEmpty(t *testing.T) {
	env := setupTestEnv(t)
	env.login(t)

	resp, _ := env.postJSON(t, "/api/assistant", map[string]string{"message": "   "})
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestAssistantRateLimited(t *testing.T) {
	env := setupTestEnv(t)
	env.login(t)

	for i := 0; i < 3; i++ {
		resp, _ := env.postJSON(t, "/api/assistant", map[string]string{"message": fmt.Sprintf("Eevee %d", i)})
		expectStatus(t, resp, http.StatusOK)
	}
	resp, _ := env.postJSON(t, "/api/assistant", map[string]string{"message": "Eevee"})
	expectStatus(t, resp, http.StatusTooManyRequests)
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

// ==================== NOTIFICATIONS ====================

func TestNotificationsAndMarkRead(t *testing.T) {
	env := setupTestEnv(t)
	env.login(t)

	resp, body := env.get(t, "/api/notifications")
	expectStatus(t, resp, http.StatusOK)
	var got struct {
		Unread        int `json:"unread"`
		Total         int `json:"total"`
		Notifications []struct {
			Message string `json:"message"`
		} `json:"notifications"`
	}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Unread != 1 || got.Total != 2 || len(got.Notifications) != 2 {
		t.Fatalf("unexpected notifications %+v", got)
	}

	resp, _ = env.postJSON(t, "/api/notifications/read", nil)
	expectStatus(t, resp, http.StatusOK)
	if n := env.upstream.count("mark-read"); n != 1 {
		t.Fatalf("expected mark-read upstream, got %d", n)
	}
}

func TestNotificationSocketRelay(t *testing.T) {
	env := setupTestEnv(t)
	env.login(t)

	conn := env.dialNotifications(t)

	type event struct {
		Type         string `json:"type"`
		Live         bool   `json:"live"`
		Notification *struct {
			Message   string `json:"message"`
			AuctionID int64  `json:"auction_id"`
		} `json:"notification"`
	}
	read := func() event {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var ev event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read failed: %v", err)
		}
		return ev
	}

	// Wait until the upstream socket for this user is up.
	for {
		ev := read()
		if ev.Type == "status" && ev.Live {
			break
		}
	}
	if n := env.upstream.count("socket ash@example.com"); n != 1 {
		t.Fatalf("expected one upstream socket, got %d", n)
	}

	env.upstream.socketMsgs <- `{"notification_id": 5, "auction_id": 7, "message": "You have been outbid", "is_read": false}`
	ev := read()
	for ev.Type != "notification" {
		ev = read()
	}
	if ev.Notification == nil || ev.Notification.Message != "You have been outbid" || ev.Notification.AuctionID != 7 {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestMarkReadRefreshesOpenTabs(t *testing.T) {
	env := setupTestEnv(t)
	env.login(t)
	conn := env.dialNotifications(t)
	// The hello status arrives once the tab is registered.
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read failed: %v", err)
	}

	resp, body := env.postJSON(t, "/api/notifications/read", nil)
	expectStatus(t, resp, http.StatusOK)
	var got struct {
		Unread        int `json:"unread"`
		Notifications []struct {
			Message string `json:"message"`
			IsRead  bool   `json:"is_read"`
		} `json:"notifications"`
	}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Unread != 0 || len(got.Notifications) != 2 {
		t.Fatalf("mark read should return the refreshed list, got %+v", got)
	}

	// Other tabs keep the list and only lose the unread marks.
	for {
		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var ev struct {
			Type          string `json:"type"`
			Unread        int    `json:"unread"`
			Notifications []struct {
				IsRead bool `json:"is_read"`
			} `json:"notifications"`
		}
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if ev.Type != "snapshot" {
			continue
		}
		if ev.Unread != 0 || len(ev.Notifications) != 2 {
			t.Fatalf("unexpected snapshot %+v", ev)
		}
		for _, n := range ev.Notifications {
			if !n.IsRead {
				t.Fatalf("expected all read, got %+v", ev)
			}
		}
		break
	}
}

func TestSocketRequiresSession(t *testing.T) {
	env := setupTestEnv(t)
	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/notifications"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial to fail without a session")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}
}
