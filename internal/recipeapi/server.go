// Package recipeapi is an in-memory implementation of the recipe
// service REST contract.
//
// It backs the remote client tests and `recetario serve`, so the sync
// engine can be exercised end-to-end without the production backend.
// Failures can be injected per recipe name to drive the retry path.
package recipeapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/roach88/recetario/internal/identity"
	"github.com/roach88/recetario/internal/recipe"
)

// DefaultFeaturedLimit is used when GET /recipes has no limit.
const DefaultFeaturedLimit = 10

// Server holds recipes in memory and serves them over HTTP.
//
// Thread-safety: All methods are safe for concurrent use.
type Server struct {
	mu      sync.RWMutex
	recipes []recipe.Recipe
	reject  map[string]int
	calls   map[string]int

	secret []byte
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithSecret requires an HS256 bearer token signed with secret on every
// request.
func WithSecret(secret []byte) Option {
	return func(s *Server) { s.secret = secret }
}

// WithClock overrides the time source for createdAt.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates an empty server.
func New(opts ...Option) *Server {
	s := &Server{
		reject: make(map[string]int),
		calls:  make(map[string]int),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RejectNames makes create and update of these names fail with status.
// A zero status clears the rejection.
func (s *Server) RejectNames(status int, names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range names {
		if status == 0 {
			delete(s.reject, n)
			continue
		}
		s.reject[n] = status
	}
}

// Seed stores r as if it had been created, assigning an id if missing.
func (s *Server) Seed(r recipe.Recipe) recipe.Recipe {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = primitive.NewObjectID().Hex()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	if r.Status == "" {
		r.Status = recipe.StatusApproved
	}
	s.recipes = append(s.recipes, r)
	return r
}

// Recipes returns every stored recipe in creation order.
func (s *Server) Recipes() []recipe.Recipe {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]recipe.Recipe(nil), s.recipes...)
}

// Calls returns how many requests an operation has served. Operations
// are "create", "update", "list", "get", "featured", "filter", "delete".
func (s *Server) Calls(op string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

// Handler returns the HTTP handler with routing and CORS.
func (s *Server) Handler() http.Handler {
	router := httprouter.New()

	// httprouter cannot mix static and wildcard segments at one depth,
	// so /recipes/filter and /recipes/user/:id dispatch inside the
	// :id handlers.
	router.GET("/recipes", s.auth(s.featured))
	router.POST("/recipes", s.auth(s.create))
	router.GET("/recipes/:id", s.auth(s.getOrFilter))
	router.PUT("/recipes/:id", s.auth(s.update))
	router.DELETE("/recipes/:id", s.auth(s.delete))
	router.GET("/recipes/:id/:sub", s.auth(s.listByUser))

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(router)
}

type ctxKey struct{}

// auth enforces the bearer token when a secret is configured.
func (s *Server) auth(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if s.secret == nil {
			next(w, r, ps)
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims := &identity.Claims{}
		_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
			return s.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
		if err != nil {
			s.logger.Debug("token rejected", "error", err)
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		user := claims.UserID
		if user == "" {
			user = claims.Subject
		}
		next(w, r.WithContext(contextWithUser(r.Context(), user)), ps)
	}
}

func (s *Server) count(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
}

func (s *Server) create(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.count("create")

	var p recipe.Payload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if strings.TrimSpace(p.Name) == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if p.UserID == "" {
		p.UserID = userFromContext(r.Context())
	}

	s.mu.Lock()
	if code, ok := s.reject[p.Name]; ok {
		s.mu.Unlock()
		respondError(w, code, "rejected")
		return
	}
	rec := recipe.Recipe{
		ID:        primitive.NewObjectID().Hex(),
		Payload:   p,
		Status:    recipe.StatusPendingToApprove,
		CreatedAt: s.now().UTC(),
	}
	s.recipes = append(s.recipes, rec)
	s.mu.Unlock()

	s.logger.Info("recipe created", "id", rec.ID, "name", p.Name)
	respondJSON(w, http.StatusCreated, rec)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.count("update")
	id := ps.ByName("id")

	var p recipe.Payload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.mu.Lock()
	if code, ok := s.reject[p.Name]; ok {
		s.mu.Unlock()
		respondError(w, code, "rejected")
		return
	}
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		respondError(w, http.StatusNotFound, "recipe not found")
		return
	}
	if p.UserID == "" {
		p.UserID = s.recipes[idx].UserID
	}
	s.recipes[idx].Payload = p
	s.recipes[idx].Version++
	rec := s.recipes[idx]
	s.mu.Unlock()

	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) getOrFilter(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if ps.ByName("id") == "filter" {
		s.filter(w, r)
		return
	}
	s.count("get")

	s.mu.RLock()
	idx := s.indexLocked(ps.ByName("id"))
	var rec recipe.Recipe
	if idx >= 0 {
		rec = s.recipes[idx]
	}
	s.mu.RUnlock()

	if idx < 0 {
		respondError(w, http.StatusNotFound, "recipe not found")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) listByUser(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	if ps.ByName("id") != "user" {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	s.count("list")
	user := ps.ByName("sub")

	s.mu.RLock()
	out := []recipe.Recipe{}
	for _, rec := range s.recipes {
		if rec.UserID == user {
			out = append(out, rec)
		}
	}
	s.mu.RUnlock()

	respondJSON(w, http.StatusOK, out)
}

func (s *Server) featured(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.count("featured")

	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = DefaultFeaturedLimit
	}

	out := s.Recipes()
	switch r.URL.Query().Get("sort") {
	case "oldest":
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	case "name":
		sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	default:
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	}
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []recipe.Recipe{}
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) filter(w http.ResponseWriter, r *http.Request) {
	s.count("filter")
	category := r.URL.Query().Get("category")
	if category == "" {
		respondError(w, http.StatusBadRequest, "category is required")
		return
	}

	out := []recipe.Recipe{}
	for _, rec := range s.Recipes() {
		for _, c := range rec.Category {
			if strings.EqualFold(c, category) {
				out = append(out, rec)
				break
			}
		}
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) delete(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	s.count("delete")

	s.mu.Lock()
	idx := s.indexLocked(ps.ByName("id"))
	if idx >= 0 {
		s.recipes = append(s.recipes[:idx], s.recipes[idx+1:]...)
	}
	s.mu.Unlock()

	if idx < 0 {
		respondError(w, http.StatusNotFound, "recipe not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) indexLocked(id string) int {
	for i := range s.recipes {
		if s.recipes[i].ID == id {
			return i
		}
	}
	return -1
}
