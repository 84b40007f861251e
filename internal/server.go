package internal

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"pulsechat/internal/storage"
)

var errUnauthorized = errors.New("unauthorized")

// Server carries the shared state behind the HTTP and websocket
// handlers: the persistent store, the room hub, the per-user
// connection tracker, and the status broker feeding /watch clients.
type Server struct {
	store       *storage.Store
	hub         *Hub
	tracker     *ConnTracker
	broker      *StatusBroker
	metrics     *Metrics
	authLimiter *RateLimiter
	tokenTTL    time.Duration
	notifier    Notifier
	log         *logrus.Entry
}

type ServerOptions struct {
	TokenTTL   time.Duration
	AuthLimit  int
	AuthWindow time.Duration
	Notifier   Notifier
	Log        *logrus.Entry
}

func NewServer(store *storage.Store, opts ServerOptions) *Server {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.AuthLimit <= 0 {
		opts.AuthLimit = 10
	}
	if opts.AuthWindow <= 0 {
		opts.AuthWindow = time.Minute
	}
	if opts.Notifier == nil {
		opts.Notifier = NopNotifier{}
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		store:       store,
		hub:         NewHub(),
		tracker:     NewConnTracker(),
		broker:      NewStatusBroker(),
		metrics:     NewMetrics(),
		authLimiter: NewRateLimiter(opts.AuthLimit, opts.AuthWindow),
		tokenTTL:    opts.TokenTTL,
		notifier:    opts.Notifier,
		log:         opts.Log,
	}
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics
}

type authContext struct {
	UserID      int64
	Username    string
	DisplayName string
	Token       string
}

// authenticateRequest resolves the bearer token (header or ?token=)
// into a live session. Expired sessions are removed on sight.
func (s *Server) authenticateRequest(r *http.Request) (*authContext, error) {
	token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		return nil, errUnauthorized
	}
	session, err := s.store.GetSession(r.Context(), token)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, errUnauthorized
	}
	if time.Now().After(session.ExpiresAt) {
		_ = s.store.DeleteSession(r.Context(), token)
		return nil, errUnauthorized
	}
	user, err := s.store.GetUserByID(r.Context(), session.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errUnauthorized
	}
	return &authContext{
		UserID:      user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		Token:       token,
	}, nil
}

func (s *Server) clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// markOnline flips the stored flag and fans the change out to watchers.
// Called on a user's first concurrent connection only.
func (s *Server) markOnline(ctx context.Context, user *storage.User) {
	now := time.Now()
	if err := s.store.SetUserOnline(ctx, user.ID, true, now); err != nil {
		s.log.WithError(err).WithField("user", user.Username).Error("mark online")
		return
	}
	s.metrics.IncStatusUpdate()
	s.broker.Publish(StatusUpdate{
		UserID:      strconv.FormatInt(user.ID, 10),
		Online:      true,
		LastSeen:    now.Unix(),
		DisplayName: user.DisplayName,
	})
}

// markOffline is the counterpart for the last connection dropping.
func (s *Server) markOffline(user *storage.User) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	now := time.Now()
	if err := s.store.SetUserOnline(ctx, user.ID, false, now); err != nil {
		s.log.WithError(err).WithField("user", user.Username).Error("mark offline")
		return
	}
	s.metrics.IncStatusUpdate()
	s.broker.Publish(StatusUpdate{
		UserID:      strconv.FormatInt(user.ID, 10),
		Online:      false,
		LastSeen:    now.Unix(),
		DisplayName: user.DisplayName,
	})
}
