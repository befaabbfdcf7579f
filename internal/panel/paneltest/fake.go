// Package paneltest runs an in-memory x-ui family panel over httptest.
package paneltest

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"kurut-provisioner/internal/panel"
)

type Panel struct {
	Variant  panel.Variant
	Username string
	Password string
	KeyPair  panel.KeyPair
	// ListDelay is slept after the inbound list is copied and before it is
	// written out, widening read-modify-write windows in race tests.
	ListDelay time.Duration
	// RejectAddClient, when set, fails the n-th addClient call (1-based).
	RejectAddClient func(n int) bool

	mu       sync.Mutex
	inbounds []panel.Inbound
	nextID   int
	token    string
	logins   int
	calls    map[string]int
	resets   []string
	ipClears []string

	srv *httptest.Server
}

func New(v panel.Variant) *Panel {
	p := &Panel{
		Variant:  v,
		Username: "admin",
		Password: "s3cret-pass",
		KeyPair:  panel.KeyPair{PrivateKey: "priv-key-fake", PublicKey: "pub-key-fake"},
		nextID:   1,
		calls:    make(map[string]int),
	}
	p.srv = httptest.NewServer(p.routes())
	return p
}

func (p *Panel) Close() { p.srv.Close() }

func (p *Panel) URL() string { return p.srv.URL }

// Server returns a panel.Server pointing at the fake.
func (p *Panel) Server(id int64) panel.Server {
	return panel.Server{
		ID:             id,
		Name:           "fake-" + string(p.Variant),
		BaseURL:        p.srv.URL,
		PublicHost:     "edge.example.com",
		Username:       p.Username,
		Password:       p.Password,
		Variant:        p.Variant,
		RealityCapable: p.Variant == panel.VariantSanaei || p.Variant == panel.VariantAlireza,
	}
}

func (p *Panel) base() string {
	if p.Variant == panel.VariantClassic {
		return "/xui"
	}
	return "/panel"
}

func (p *Panel) cookieName() string {
	if p.Variant == panel.VariantSanaei {
		return "3x-ui"
	}
	return "session"
}

// Seed stores an inbound and returns it with its assigned id.
func (p *Panel) Seed(in panel.Inbound) panel.Inbound {
	p.mu.Lock()
	defer p.mu.Unlock()
	in.ID = p.nextID
	p.nextID++
	p.inbounds = append(p.inbounds, in)
	return in
}

func (p *Panel) Inbound(id int) (panel.Inbound, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, in := range p.inbounds {
		if in.ID == id {
			return in, true
		}
	}
	return panel.Inbound{}, false
}

// SetStat overwrites the traffic counters for email.
func (p *Panel) SetStat(inboundID int, st panel.ClientStat) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.inbounds {
		if p.inbounds[i].ID != inboundID {
			continue
		}
		st.InboundID = inboundID
		for j := range p.inbounds[i].ClientStats {
			if p.inbounds[i].ClientStats[j].Email == st.Email {
				p.inbounds[i].ClientStats[j] = st
				return
			}
		}
		p.inbounds[i].ClientStats = append(p.inbounds[i].ClientStats, st)
	}
}

// SetPassword changes the accepted password, as an operator rotating it
// would.
func (p *Panel) SetPassword(password string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Password = password
}

// ExpireSessions invalidates every issued cookie.
func (p *Panel) ExpireSessions() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = ""
}

func (p *Panel) Logins() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logins
}

func (p *Panel) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

func (p *Panel) Resets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.resets...)
}

func (p *Panel) IPClears() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ipClears...)
}

func (p *Panel) routes() http.Handler {
	mux := http.NewServeMux()
	b := p.base()
	mux.HandleFunc("POST /login", p.login)
	mux.HandleFunc("POST "+b+"/inbound/list", p.authed("list", p.list))
	mux.HandleFunc("POST "+b+"/inbound/add", p.authed("add", p.add))
	mux.HandleFunc("POST "+b+"/inbound/update/{id}", p.authed("update", p.update))
	if p.Variant != panel.VariantClassic {
		mux.HandleFunc("POST "+b+"/inbound/{id}/resetClientTraffic/{email}", p.authed("reset", p.reset))
		mux.HandleFunc("POST "+b+"/inbound/addClient", p.authed("addClient", p.addClient))
		mux.HandleFunc("POST "+b+"/inbound/updateClient/{cred}", p.authed("updateClient", p.updateClient))
		mux.HandleFunc("POST "+b+"/inbound/{id}/delClient/{cred}", p.authed("delClient", p.delClient))
		mux.HandleFunc("POST "+b+"/inbound/clearClientIps/{email}", p.authed("clearIps", p.clearIPs))
		mux.HandleFunc("POST /server/getNewX25519Cert", p.authed("cert", p.cert))
	}
	return mux
}

func writeJSON(w http.ResponseWriter, success bool, msg string, obj any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"success": success, "msg": msg, "obj": obj})
}

func (p *Panel) login(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["login"]++
	if r.PostForm.Get("username") != p.Username || r.PostForm.Get("password") != p.Password {
		writeJSON(w, false, "wrong username or password", nil)
		return
	}
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	p.token = hex.EncodeToString(buf)
	p.logins++
	http.SetCookie(w, &http.Cookie{Name: p.cookieName(), Value: p.token, Path: "/"})
	writeJSON(w, true, "login success", nil)
}

func (p *Panel) authed(op string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(p.cookieName())
		p.mu.Lock()
		ok := err == nil && p.token != "" && c.Value == p.token
		p.calls[op]++
		p.mu.Unlock()
		if !ok {
			http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
			return
		}
		next(w, r)
	}
}

func (p *Panel) list(w http.ResponseWriter, _ *http.Request) {
	p.mu.Lock()
	out := make([]panel.Inbound, len(p.inbounds))
	copy(out, p.inbounds)
	p.mu.Unlock()
	if p.ListDelay > 0 {
		time.Sleep(p.ListDelay)
	}
	writeJSON(w, true, "", out)
}

func formInbound(r *http.Request) panel.Inbound {
	_ = r.ParseForm()
	f := r.PostForm
	atoi := func(k string) int64 {
		n, _ := strconv.ParseInt(f.Get(k), 10, 64)
		return n
	}
	return panel.Inbound{
		Up:             atoi("up"),
		Down:           atoi("down"),
		Total:          atoi("total"),
		Remark:         f.Get("remark"),
		Enable:         f.Get("enable") == "true",
		ExpiryTime:     atoi("expiryTime"),
		Listen:         f.Get("listen"),
		Port:           int(atoi("port")),
		Protocol:       panel.Protocol(f.Get("protocol")),
		Settings:       f.Get("settings"),
		StreamSettings: f.Get("streamSettings"),
		Sniffing:       f.Get("sniffing"),
	}
}

func (p *Panel) add(w http.ResponseWriter, r *http.Request) {
	in := formInbound(r)
	p.mu.Lock()
	for _, existing := range p.inbounds {
		if existing.Port == in.Port {
			p.mu.Unlock()
			writeJSON(w, false, "port already exists", nil)
			return
		}
	}
	in.ID = p.nextID
	in.Tag = "inbound-" + strconv.Itoa(in.Port)
	p.nextID++
	p.inbounds = append(p.inbounds, in)
	p.mu.Unlock()
	writeJSON(w, true, "", in)
}

func (p *Panel) update(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(r.PathValue("id"))
	in := formInbound(r)
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.inbounds {
		if p.inbounds[i].ID == id {
			in.ID = id
			in.Tag = p.inbounds[i].Tag
			in.ClientStats = p.inbounds[i].ClientStats
			p.inbounds[i] = in
			writeJSON(w, true, "", nil)
			return
		}
	}
	writeJSON(w, false, "inbound not found", nil)
}

type clientsBody struct {
	ID       int    `json:"id"`
	Settings string `json:"settings"`
}

// mutate decodes the body, applies fn to the target inbound's settings and
// stores the result.
func (p *Panel) mutate(w http.ResponseWriter, id int, fn func(in *panel.Inbound, s *panel.Settings) string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.inbounds {
		if p.inbounds[i].ID != id {
			continue
		}
		s, err := panel.ParseSettings(p.inbounds[i].Settings)
		if err != nil {
			writeJSON(w, false, err.Error(), nil)
			return
		}
		if msg := fn(&p.inbounds[i], s); msg != "" {
			writeJSON(w, false, msg, nil)
			return
		}
		enc, _ := s.Encode()
		p.inbounds[i].Settings = enc
		writeJSON(w, true, "", nil)
		return
	}
	writeJSON(w, false, "inbound not found", nil)
}

func decodeBody(r *http.Request) (clientsBody, *panel.Settings, error) {
	var body clientsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return body, nil, err
	}
	s, err := panel.ParseSettings(body.Settings)
	return body, s, err
}

func (p *Panel) addClient(w http.ResponseWriter, r *http.Request) {
	body, incoming, err := decodeBody(r)
	if err != nil {
		writeJSON(w, false, err.Error(), nil)
		return
	}
	p.mutate(w, body.ID, func(in *panel.Inbound, s *panel.Settings) string {
		if p.RejectAddClient != nil && p.RejectAddClient(p.calls["addClient"]) {
			return "add client rejected"
		}
		for _, c := range incoming.Clients {
			email := c.String("email")
			for _, existing := range s.Clients {
				if existing.String("email") == email {
					return "Duplicate email: " + email
				}
			}
		}
		for _, c := range incoming.Clients {
			s.Clients = append(s.Clients, c)
			in.ClientStats = append(in.ClientStats, panel.ClientStat{InboundID: in.ID, Enable: true, Email: c.String("email"), Total: c.Int64("totalGB"), ExpiryTime: c.Int64("expiryTime")})
		}
		return ""
	})
}

func (p *Panel) updateClient(w http.ResponseWriter, r *http.Request) {
	cred := r.PathValue("cred")
	body, incoming, err := decodeBody(r)
	if err != nil || len(incoming.Clients) != 1 {
		writeJSON(w, false, "bad request", nil)
		return
	}
	p.mutate(w, body.ID, func(in *panel.Inbound, s *panel.Settings) string {
		i, _ := s.Find(in.Protocol, cred)
		if i < 0 {
			return "client not found"
		}
		s.Clients[i] = incoming.Clients[0]
		return ""
	})
}

func (p *Panel) delClient(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(r.PathValue("id"))
	cred := r.PathValue("cred")
	p.mutate(w, id, func(in *panel.Inbound, s *panel.Settings) string {
		i, _ := s.Find(in.Protocol, cred)
		if i < 0 {
			return "client not found"
		}
		s.Remove(i)
		return ""
	})
}

func (p *Panel) reset(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(r.PathValue("id"))
	email := r.PathValue("email")
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets = append(p.resets, email)
	for i := range p.inbounds {
		if p.inbounds[i].ID != id {
			continue
		}
		for j := range p.inbounds[i].ClientStats {
			if p.inbounds[i].ClientStats[j].Email == email {
				p.inbounds[i].ClientStats[j].Up = 0
				p.inbounds[i].ClientStats[j].Down = 0
			}
		}
	}
	writeJSON(w, true, "", nil)
}

func (p *Panel) clearIPs(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.ipClears = append(p.ipClears, r.PathValue("email"))
	p.mu.Unlock()
	writeJSON(w, true, "", nil)
}

func (p *Panel) cert(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, true, "", p.KeyPair)
}
