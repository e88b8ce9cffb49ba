package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xela07ax/guild-gatekeeper/internal/console/handler"
	"github.com/xela07ax/guild-gatekeeper/internal/domain"
	"github.com/xela07ax/guild-gatekeeper/internal/infra/auth"
)

// HealthFunc сообщает, готов ли бот обрабатывать события.
type HealthFunc func() (ready bool, details map[string]string)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Интерфейс для проверки токенов (RS256)
	authValidator auth.TokenValidator
	gatherer      prometheus.Gatherer
	health        HealthFunc

	authHandler     *handler.AuthHandler     // /auth/token, nil — выдача токенов выключена
	approvalHandler *handler.ApprovalHandler // /v1/approvals
	auditHandler    *handler.AuditHandler    // /v1/audit, nil — архив не настроен
}

// NewConsoleServer инициализирует сервер админки со всеми зависимостями
func NewConsoleServer(
	logger *zap.Logger,
	validator auth.TokenValidator,
	gatherer prometheus.Gatherer,
	health HealthFunc,
	authH *handler.AuthHandler,
	approvalH *handler.ApprovalHandler,
	auditH *handler.AuditHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:          chi.NewRouter(),
		logger:          logger.Named("console-api"),
		authValidator:   validator,
		gatherer:        gatherer,
		health:          health,
		authHandler:     authH,
		approvalHandler: approvalH,
		auditHandler:    auditH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		if s.authHandler != nil {
			r.Post("/auth/token", s.authHandler.Login)
		}

		r.Get("/health", s.handleHealth)
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	if s.authValidator == nil {
		s.logger.Warn("public key is not configured, /v1/approvals is disabled")
		return
	}
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		r.Route("/v1/approvals", func(r chi.Router) {
			r.Use(auth.RequireScope(domain.ScopeApprovalsRead))
			r.Get("/", s.approvalHandler.List) // Очередь заявок
			r.Get("/{id}", s.approvalHandler.GetDetails)
		})

		if s.auditHandler != nil {
			r.With(auth.RequireScope(domain.ScopeAuditRead)).Get("/v1/audit", s.auditHandler.GetLogs)
		}
	})
}

func (s *ConsoleServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	ready, details := true, map[string]string{}
	if s.health != nil {
		ready, details = s.health()
	}
	if details == nil {
		details = map[string]string{}
	}
	status := http.StatusOK
	details["status"] = "ok"
	if !ready {
		status = http.StatusServiceUnavailable
		details["status"] = "starting"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(details)
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
