package tmrequest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// Middleware provides HTTP middleware for training manager checks.
type Middleware struct {
	reconciler   *Reconciler
	getUserID    func(*http.Request) string
	errorHandler func(http.ResponseWriter, *http.Request, error)
}

// MiddlewareOption configures the Middleware.
type MiddlewareOption func(*Middleware)

// NewMiddleware creates a new Middleware instance.
//
// Example:
//
//	mw := tmrequest.NewMiddleware(reconciler,
//	    tmrequest.WithUserIDExtractor(func(r *http.Request) string {
//	        return r.Header.Get("X-User-ID")
//	    }),
//	)
func NewMiddleware(reconciler *Reconciler, opts ...MiddlewareOption) *Middleware {
	m := &Middleware{
		reconciler:   reconciler,
		getUserID:    defaultGetUserID,
		errorHandler: defaultErrorHandler,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// WithUserIDExtractor sets a custom function to extract user ID from request.
func WithUserIDExtractor(fn func(*http.Request) string) MiddlewareOption {
	return func(m *Middleware) {
		m.getUserID = fn
	}
}

// WithErrorHandler sets a custom error handler for middleware.
func WithErrorHandler(fn func(http.ResponseWriter, *http.Request, error)) MiddlewareOption {
	return func(m *Middleware) {
		m.errorHandler = fn
	}
}

func defaultGetUserID(r *http.Request) string {
	return GetUserID(r.Context())
}

func defaultErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case IsNotTrainingManager(err):
		http.Error(w, "Forbidden", http.StatusForbidden)
	case errors.Is(err, ErrNoUserID):
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	case IsLocked(err):
		http.Error(w, "Conflict", http.StatusConflict)
	default:
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// RequireTrainingManager creates middleware that only lets training managers through.
//
// Example:
//
//	mux.Handle("/reports", mw.RequireTrainingManager()(reportsHandler))
func (m *Middleware) RequireTrainingManager() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := m.getUserID(r)
			if userID == "" {
				m.errorHandler(w, r, ErrNoUserID)
				return
			}

			ok, err := m.reconciler.HasRole(r.Context(), userID)
			if err != nil {
				m.errorHandler(w, r, err)
				return
			}
			if !ok {
				m.errorHandler(w, r, NewError(ErrNotTrainingManager, "missing training manager role").
					WithUser(userID))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequestResponse is the JSON body written by HandleRequest.
type RequestResponse struct {
	UserID         string         `json:"user_id"`
	Classification Classification `json:"classification"`
	Assigned       bool           `json:"assigned"`
}

// HandleRequest returns a handler that runs the self-service request flow
// for the current user and reports the outcome as JSON.
//
// Example:
//
//	mux.Handle("POST /training-manager/request", mw.InjectAuditContext()(mw.HandleRequest()))
func (m *Middleware) HandleRequest() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := m.getUserID(r)
		if userID == "" {
			m.errorHandler(w, r, ErrNoUserID)
			return
		}

		c, err := m.reconciler.Request(r.Context(), userID)
		if err != nil {
			m.errorHandler(w, r, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		err = json.NewEncoder(w).Encode(RequestResponse{
			UserID:         userID,
			Classification: c,
			Assigned:       c.IsValid(),
		})
		if err != nil {
			m.reconciler.logger.DebugContext(r.Context(), "failed to write request response",
				slog.String("user_id", userID),
				slog.Any("error", err),
			)
		}
	})
}

// InjectAuditContext creates middleware that extracts audit information from the request
// and adds it to the context for use in role assignment operations.
//
// Example:
//
//	handler = mw.InjectAuditContext()(handler)
func (m *Middleware) InjectAuditContext() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.Header.Get("X-Forwarded-For")
			if ip == "" {
				ip = r.Header.Get("X-Real-IP")
			}
			if ip == "" {
				ip = r.RemoteAddr
			}

			userID := m.getUserID(r)
			ctx := WithAuditContext(r.Context(), AuditContext{
				ActorID:   userID,
				IPAddress: ip,
				UserAgent: r.UserAgent(),
				RequestID: r.Header.Get("X-Request-ID"),
			})
			if userID != "" {
				ctx = WithUserID(ctx, userID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
