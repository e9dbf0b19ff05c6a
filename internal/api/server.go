// Package api is the thin application surface over the chat core: it
// renders query results and issues writes, nothing more. Fan-out,
// durability and ordering all live behind the store boundary.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"chatapp/internal/auth"
	"chatapp/internal/blob"
	"chatapp/internal/contacts"
	"chatapp/internal/conversation"
	"chatapp/internal/identity"
	"chatapp/internal/message"
	"chatapp/internal/notify"
	"chatapp/internal/presence"
	"chatapp/internal/rtdb"
)

type Server struct {
	router *mux.Router
	log    zerolog.Logger

	store     *rtdb.MemoryStore
	auth      *auth.Service
	directory *identity.Directory
	resolver  *conversation.Resolver
	messages  *message.Store
	matcher   func(source contacts.Source) *contacts.Matcher
	uploader  *blob.Uploader
	notify    *notify.Service
}

type Deps struct {
	Store     *rtdb.MemoryStore
	Auth      *auth.Service
	Directory *identity.Directory
	Resolver  *conversation.Resolver
	Messages  *message.Store
	Uploader  *blob.Uploader
	Notify    *notify.Service
	Log       zerolog.Logger
}

func NewServer(deps Deps) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		log:       deps.Log.With().Str("component", "api").Logger(),
		store:     deps.Store,
		auth:      deps.Auth,
		directory: deps.Directory,
		resolver:  deps.Resolver,
		messages:  deps.Messages,
		uploader:  deps.Uploader,
		notify:    deps.Notify,
	}
	s.matcher = func(source contacts.Source) *contacts.Matcher {
		return contacts.NewMatcher(deps.Store, source, deps.Log)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestLogger)

	s.router.HandleFunc("/health", s.healthCheck).Methods(http.MethodGet)
	s.router.HandleFunc("/auth/register", s.beginRegistration).Methods(http.MethodPost)
	s.router.HandleFunc("/auth/login", s.beginLogin).Methods(http.MethodPost)
	s.router.HandleFunc("/auth/verify", s.confirmVerification).Methods(http.MethodPost)

	authed := s.router.NewRoute().Subrouter()
	authed.Use(s.requireSession)
	authed.HandleFunc("/users", s.listUsers).Methods(http.MethodGet)
	authed.HandleFunc("/chats", s.listChats).Methods(http.MethodGet)
	authed.HandleFunc("/chats/resolve", s.resolveChat).Methods(http.MethodPost)
	authed.HandleFunc("/chats/{chatID}/messages", s.listMessages).Methods(http.MethodGet)
	authed.HandleFunc("/chats/{chatID}/read", s.markRead).Methods(http.MethodPost)
	authed.HandleFunc("/chats/{chatID}", s.deleteChat).Methods(http.MethodDelete)
	authed.HandleFunc("/messages", s.sendMessage).Methods(http.MethodPost)
	authed.HandleFunc("/contacts/matches", s.matchContacts).Methods(http.MethodPost)
	authed.HandleFunc("/profile", s.updateProfile).Methods(http.MethodPut)
	authed.HandleFunc("/profile/settings", s.saveSettings).Methods(http.MethodPut)
	authed.HandleFunc("/devices/token", s.updatePushToken).Methods(http.MethodPut)
	authed.HandleFunc("/uploads/{dir}", s.upload).Methods(http.MethodPost)
	authed.HandleFunc("/presence/stream", s.presenceStream).Methods(http.MethodGet)
	authed.HandleFunc("/account", s.deleteAccount).Methods(http.MethodDelete)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// presenceStream pins the user Online for as long as the request stays
// open. When the client goes away, cleanly or not, the store's
// disconnect hooks flip them Offline and stamp lastSeen.
func (s *Server) presenceStream(w http.ResponseWriter, r *http.Request) {
	uid := currentUserID(r)
	session := s.store.OpenSession()
	defer session.Close()

	tracker := presence.NewTracker(s.store, s.log)
	tracker.Start(r.Context(), uid, session, session)
	defer tracker.Stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
