package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
)

// Seeded accounts of the target application fixture.
const (
	AdminEmail    = "admin@example.com"
	AdminPassword = "adminpassword"
	UserEmail     = "validuser@example.com"
	UserPassword  = "ValidPassword123!"
)

// TargetApp is an in-process stand-in for the application under test. It
// serves the authentication, admin and NFe endpoints plus a minimal login
// UI, with the same response shapes as the real backend.
//
// Thread-safety: all handlers lock the app state; TargetApp is safe to
// share between concurrently running scenarios.
type TargetApp struct {
	Server *httptest.Server

	mu       sync.Mutex
	users    map[string]*targetUser
	certs    map[string]bool
	nfes     map[string][]map[string]any
	requests map[string]int
	nextID   int

	secret  []byte
	started time.Time
}

type targetUser struct {
	ID    int    `json:"id"`
	Nome  string `json:"nome"`
	Email string `json:"email"`
	Tipo  string `json:"tipo"`
	senha string
}

// NewTargetApp starts the fixture on a random port. The server is closed
// when the test ends.
func NewTargetApp(t testing.TB) *TargetApp {
	t.Helper()
	a := &TargetApp{
		users:    make(map[string]*targetUser),
		certs:    make(map[string]bool),
		nfes:     make(map[string][]map[string]any),
		requests: make(map[string]int),
		secret:   []byte("fixture-secret"),
		started:  time.Now(),
	}
	a.addUser("Administrador", AdminEmail, AdminPassword, "admin")
	a.addUser("Usuário Válido", UserEmail, UserPassword, "usuario")

	a.Server = httptest.NewServer(a.routes())
	t.Cleanup(a.Server.Close)
	return a
}

// URL returns the base URL of the fixture.
func (a *TargetApp) URL() string { return a.Server.URL }

// Requests returns how many requests hit path.
func (a *TargetApp) Requests(path string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requests[path]
}

// Token issues a valid token for email, as a successful login would.
func (a *TargetApp) Token(email string) string {
	a.mu.Lock()
	u := a.users[email]
	a.mu.Unlock()
	if u == nil {
		panic(fmt.Sprintf("testutil: unknown fixture user %q", email))
	}
	tok, err := a.sign(u)
	if err != nil {
		panic(err)
	}
	return tok
}

func (a *TargetApp) addUser(nome, email, senha, tipo string) *targetUser {
	a.nextID++
	u := &targetUser{ID: a.nextID, Nome: nome, Email: email, Tipo: tipo, senha: senha}
	a.users[email] = u
	return u
}

func (a *TargetApp) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(a.count)

	r.Get("/", a.loginPage)
	r.Get("/login", a.loginPage)
	r.Get("/dashboard", a.dashboardPage)

	r.Get("/health", a.health)
	r.Get("/slow", a.slow)
	r.Get("/status/{code}", a.status)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", a.login)
		r.Post("/register", a.register)
		r.With(a.authenticated).Get("/validate", a.validate)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(a.authenticated, a.adminOnly)
		r.Get("/health", a.adminHealth)
		r.Get("/usuarios", a.adminUsers)
	})

	r.Group(func(r chi.Router) {
		r.Use(a.authenticated)
		r.Post("/me/certificado", a.uploadCertificate)
		r.Get("/nfe/historico", a.history)
		r.Post("/nfe/emitir", a.emit)
	})
	return r
}

func (a *TargetApp) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.requests[r.URL.Path]++
		a.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"sucesso": false, "erro": msg})
}

// --- auth ---

type userKey struct{}

func contextWithUser(r *http.Request, u *targetUser) context.Context {
	return context.WithValue(r.Context(), userKey{}, u)
}

func userFrom(r *http.Request) *targetUser {
	u, _ := r.Context().Value(userKey{}).(*targetUser)
	if u == nil {
		return &targetUser{}
	}
	return u
}

func (a *TargetApp) sign(u *targetUser) (string, error) {
	claims := jwt.MapClaims{
		"sub":   strconv.Itoa(u.ID),
		"email": u.Email,
		"tipo":  u.Tipo,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *TargetApp) authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			fail(w, http.StatusUnauthorized, "Token não fornecido")
			return
		}
		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return a.secret, nil },
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			fail(w, http.StatusUnauthorized, "Token inválido")
			return
		}
		email, _ := claims["email"].(string)
		a.mu.Lock()
		u := a.users[email]
		a.mu.Unlock()
		if u == nil {
			fail(w, http.StatusUnauthorized, "Usuário não encontrado")
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithUser(r, u)))
	})
}

func (a *TargetApp) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userFrom(r).Tipo != "admin" {
			fail(w, http.StatusForbidden, "Acesso negado")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type credentials struct {
	Nome     string `json:"nome"`
	Email    string `json:"email"`
	Senha    string `json:"senha"`
	Password string `json:"password"`
}

func (c credentials) secret() string {
	if c.Senha != "" {
		return c.Senha
	}
	return c.Password
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return errors.New("empty body")
	}
	return json.Unmarshal(body, v)
}

func (a *TargetApp) login(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if err := decodeBody(r, &c); err != nil {
		fail(w, http.StatusBadRequest, "JSON inválido")
		return
	}
	if c.Email == "" || c.secret() == "" {
		fail(w, http.StatusBadRequest, "Email e senha são obrigatórios")
		return
	}

	a.mu.Lock()
	u := a.users[strings.ToLower(c.Email)]
	a.mu.Unlock()
	if u == nil || u.senha != c.secret() {
		fail(w, http.StatusUnauthorized, "Credenciais inválidas")
		return
	}

	tok, err := a.sign(u)
	if err != nil {
		fail(w, http.StatusInternalServerError, "Erro ao gerar token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sucesso": true, "token": tok, "usuario": u})
}

func (a *TargetApp) register(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if err := decodeBody(r, &c); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"sucesso": false, "message": "JSON inválido"})
		return
	}

	var errs []string
	if strings.TrimSpace(c.Nome) == "" {
		errs = append(errs, "nome é obrigatório")
	}
	if at := strings.Index(c.Email, "@"); at < 1 || !strings.Contains(c.Email[at:], ".") {
		errs = append(errs, "email inválido")
	}
	if len(c.secret()) < 8 {
		errs = append(errs, "senha deve ter no mínimo 8 caracteres")
	}
	if len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"sucesso": false, "errors": errs})
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	email := strings.ToLower(c.Email)
	if _, exists := a.users[email]; exists {
		writeJSON(w, http.StatusConflict, map[string]any{"sucesso": false, "message": "Email já cadastrado"})
		return
	}
	u := a.addUser(c.Nome, email, c.secret(), "usuario")
	writeJSON(w, http.StatusCreated, map[string]any{"sucesso": true, "usuario": u})
}

func (a *TargetApp) validate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"valido": true, "usuario": userFrom(r)})
}

// --- monitoring ---

func (a *TargetApp) uptime() float64 {
	return math.Round(time.Since(a.started).Seconds()*1000) / 1000
}

func (a *TargetApp) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    a.uptime(),
		"version":   "1.0.0",
	})
}

func (a *TargetApp) adminHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sucesso": true,
		"health": map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"uptime":    a.uptime(),
			"versao":    "1.0.0",
			"memoria":   map[string]any{"usada": 52428800, "total": 268435456},
		},
	})
}

func (a *TargetApp) adminUsers(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	users := make([]*targetUser, 0, len(a.users))
	for _, u := range a.users {
		users = append(users, u)
	}
	a.mu.Unlock()
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	writeJSON(w, http.StatusOK, map[string]any{"sucesso": true, "usuarios": users, "total": len(users)})
}

// slow answers after ?ms= milliseconds, or when the client gives up.
func (a *TargetApp) slow(w http.ResponseWriter, r *http.Request) {
	ms, _ := strconv.Atoi(r.URL.Query().Get("ms"))
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	case <-r.Context().Done():
	}
}

func (a *TargetApp) status(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(chi.URLParam(r, "code"))
	if err != nil || code < 100 || code > 599 {
		code = http.StatusBadRequest
	}
	writeJSON(w, code, map[string]any{"status": code})
}

// --- NFe ---

func (a *TargetApp) uploadCertificate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		fail(w, http.StatusBadRequest, "Arquivo do certificado é obrigatório")
		return
	}
	file, header, err := r.FormFile("certificado")
	if err != nil {
		fail(w, http.StatusBadRequest, "Arquivo do certificado é obrigatório")
		return
	}
	defer file.Close()
	if !strings.HasSuffix(strings.ToLower(header.Filename), ".pfx") && !strings.HasSuffix(strings.ToLower(header.Filename), ".p12") {
		fail(w, http.StatusBadRequest, "Formato de certificado inválido")
		return
	}

	a.mu.Lock()
	a.certs[userFrom(r).Email] = true
	a.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"sucesso": true, "mensagem": "Certificado carregado com sucesso"})
}

func (a *TargetApp) history(w http.ResponseWriter, r *http.Request) {
	pagina, _ := strconv.Atoi(r.URL.Query().Get("pagina"))
	if pagina < 1 {
		pagina = 1
	}
	limite, _ := strconv.Atoi(r.URL.Query().Get("limite"))
	if limite < 1 {
		limite = 10
	}

	a.mu.Lock()
	all := a.nfes[userFrom(r).Email]
	a.mu.Unlock()

	start := min((pagina-1)*limite, len(all))
	end := min(start+limite, len(all))
	itens := append([]map[string]any{}, all[start:end]...)
	writeJSON(w, http.StatusOK, map[string]any{
		"sucesso":      true,
		"itens":        itens,
		"total":        len(all),
		"pagina":       pagina,
		"totalPaginas": (len(all) + limite - 1) / limite,
	})
}

type emitRequest struct {
	Destinatario map[string]any   `json:"destinatario"`
	Itens        []map[string]any `json:"itens"`
}

func (a *TargetApp) emit(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r)
	a.mu.Lock()
	hasCert := a.certs[u.Email]
	a.mu.Unlock()
	if !hasCert {
		fail(w, http.StatusBadRequest, "Certificado digital não configurado")
		return
	}

	var req emitRequest
	if err := decodeBody(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "JSON inválido")
		return
	}
	var errs []string
	if len(req.Destinatario) == 0 {
		errs = append(errs, "destinatario é obrigatório")
	}
	if len(req.Itens) == 0 {
		errs = append(errs, "itens deve conter ao menos um item")
	}
	if len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"sucesso": false, "erro": "Dados inválidos", "erros": errs})
		return
	}

	a.mu.Lock()
	numero := len(a.nfes[u.Email]) + 1
	nfe := map[string]any{
		"numero":    numero,
		"chave":     fmt.Sprintf("3525%040d", numero),
		"protocolo": fmt.Sprintf("1352500%08d", numero),
		"situacao":  "autorizada",
	}
	a.nfes[u.Email] = append(a.nfes[u.Email], nfe)
	a.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"sucesso": true, "nfe": nfe})
}
