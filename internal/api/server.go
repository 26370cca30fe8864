package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "DappBridge/internal/errors"
	"DappBridge/internal/observability/metrics"
	"DappBridge/internal/wallet"
	"DappBridge/internal/web3"
	"DappBridge/pkg/logger"
)

const (
	defaultListLimit = 20
	maxBodyBytes     = 1 << 20
)

// Session 是 API 依赖的钱包会话能力。
type Session interface {
	ID() string
	Snapshot() wallet.Snapshot
	Connect(ctx context.Context) (wallet.Snapshot, error)
	Disconnect(ctx context.Context) wallet.Snapshot
	CurrentAccount(ctx context.Context) (common.Address, bool, error)
	Pending() []wallet.PendingCall
	InvokeRead(ctx context.Context, operation string, args ...any) ([]any, error)
	InvokeWritePayable(ctx context.Context, value *big.Int, operation string, args ...any) (*web3.WriteResult, error)
}

// CallHistory 提供调用日志查询。
type CallHistory interface {
	ListLatest(ctx context.Context, limit int) ([]wallet.CallRecord, error)
}

// Roles 提供角色查询、切换与注册。
type Roles interface {
	Current(ctx context.Context) (string, bool, error)
	Switch(ctx context.Context, role string) error
	Register(ctx context.Context, role string) (*web3.WriteResult, error)
}

// Option 用于定制 Server。
type Option func(*Server)

// WithCallHistory 启用 /api/v1/calls。
func WithCallHistory(h CallHistory) Option {
	return func(s *Server) { s.calls = h }
}

// WithRoles 启用 /api/v1/roles/*。
func WithRoles(r Roles) Option {
	return func(s *Server) { s.roles = r }
}

// WithMetrics 指定指标采集器，并在同一端口暴露 /metrics。
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) {
		if c != nil {
			s.metrics = c
		}
	}
}

// WithAPIToken 要求请求携带 Bearer Token，空字符串表示关闭认证。
func WithAPIToken(token string) Option {
	return func(s *Server) { s.token = strings.TrimSpace(token) }
}

// WithLogger 指定日志实例。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Server 负责暴露 REST 接口，供外部驱动钱包会话。
type Server struct {
	addr    string
	session Session
	calls   CallHistory
	roles   Roles
	metrics *metrics.Collector
	token   string
	logger  *slog.Logger
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, session Session, opts ...Option) *Server {
	s := &Server{addr: addr, session: session, metrics: metrics.Default}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.logger == nil {
		s.logger = logger.Named("api")
	}
	return s
}

// Handler 构建完整的路由。
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/v1/session", s.handleSession)
	api.HandleFunc("POST /api/v1/session/connect", s.handleConnect)
	api.HandleFunc("POST /api/v1/session/disconnect", s.handleDisconnect)
	api.HandleFunc("GET /api/v1/session/account", s.handleAccount)
	api.HandleFunc("GET /api/v1/session/pending", s.handlePending)
	api.HandleFunc("POST /api/v1/contract/read", s.handleRead)
	api.HandleFunc("POST /api/v1/contract/write", s.handleWrite)
	api.HandleFunc("GET /api/v1/calls", s.handleCalls)
	api.HandleFunc("GET /api/v1/roles/current", s.handleRoleCurrent)
	api.HandleFunc("POST /api/v1/roles/switch", s.handleRoleSwitch)
	api.HandleFunc("POST /api/v1/roles/register", s.handleRoleRegister)

	root := http.NewServeMux()
	root.Handle("/api/", s.authenticate(api))
	root.Handle("GET /metrics", s.metrics.Handler())
	root.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return s.instrument(root)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("address", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	snap, err := s.session.Connect(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Disconnect(r.Context()))
}

// AccountResponse 是 /api/v1/session/account 的响应体。
type AccountResponse struct {
	Account string `json:"account,omitempty"`
	Found   bool   `json:"found"`
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok, err := s.session.CurrentAccount(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := AccountResponse{Found: ok}
	if ok {
		resp.Account = addr.Hex()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePending(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Pending())
}

// CallRequest 描述一次合约读写请求。Value 仅用于写操作，十进制字符串，单位 wei。
type CallRequest struct {
	Operation string `json:"operation"`
	Args      []any  `json:"args,omitempty"`
	Value     string `json:"value,omitempty"`
}

// ReadResponse 是读操作的响应体。
type ReadResponse struct {
	Operation string `json:"operation"`
	Outputs   []any  `json:"outputs"`
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCall(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.session.InvokeRead(r.Context(), req.Operation, req.Args...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ReadResponse{Operation: req.Operation, Outputs: renderOutputs(out)})
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCall(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var value *big.Int
	if strings.TrimSpace(req.Value) != "" {
		v, ok := new(big.Int).SetString(strings.TrimSpace(req.Value), 10)
		if !ok || v.Sign() < 0 {
			s.writeError(w, r, xerrors.New(xerrors.CodeInvalidArgument, "value 必须是非负十进制整数"))
			return
		}
		value = v
	}
	result, err := s.session.InvokeWritePayable(r.Context(), value, req.Operation, req.Args...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	if s.calls == nil {
		s.writeError(w, r, xerrors.New(xerrors.CodeNotFound, "未启用调用日志"))
		return
	}
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	records, err := s.calls.ListLatest(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []wallet.CallRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// RoleRequest 是角色切换与注册的请求体。
type RoleRequest struct {
	Role string `json:"role"`
}

// RoleResponse 描述当前角色。
type RoleResponse struct {
	Role  string `json:"role,omitempty"`
	Found bool   `json:"found"`
}

func (s *Server) handleRoleCurrent(w http.ResponseWriter, r *http.Request) {
	if !s.requireRoles(w, r) {
		return
	}
	role, ok, err := s.roles.Current(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RoleResponse{Role: role, Found: ok})
}

func (s *Server) handleRoleSwitch(w http.ResponseWriter, r *http.Request) {
	if !s.requireRoles(w, r) {
		return
	}
	var req RoleRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.roles.Switch(r.Context(), req.Role); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RoleResponse{Role: req.Role, Found: true})
}

func (s *Server) handleRoleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.requireRoles(w, r) {
		return
	}
	var req RoleRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.roles.Register(r.Context(), req.Role)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) requireRoles(w http.ResponseWriter, r *http.Request) bool {
	if s.roles == nil {
		s.writeError(w, r, xerrors.New(xerrors.CodeNotFound, "未启用角色服务"))
		return false
	}
	return true
}

func decodeCall(r *http.Request) (CallRequest, error) {
	var req CallRequest
	if err := decodeBody(r, &req); err != nil {
		return CallRequest{}, err
	}
	req.Operation = strings.TrimSpace(req.Operation)
	if req.Operation == "" {
		return CallRequest{}, xerrors.New(xerrors.CodeInvalidArgument, "operation 不能为空")
	}
	return req, nil
}

// decodeBody 解析 JSON 请求体，数字保留为 json.Number 以免丢失精度。
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
