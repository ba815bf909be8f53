package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"AgentPay-Chain/internal/admin"
	"AgentPay-Chain/internal/bank"
	xerrors "AgentPay-Chain/internal/errors"
	"AgentPay-Chain/internal/escrow"
	"AgentPay-Chain/internal/identity"
	"AgentPay-Chain/internal/ledger"
	"AgentPay-Chain/internal/observability/metrics"
	"AgentPay-Chain/internal/reputation"
	"AgentPay-Chain/internal/split"
	"AgentPay-Chain/internal/trust"
	"AgentPay-Chain/pkg/logger"
)

// callerHeader 携带调用方的结算地址。生产部署中由网关完成签名校验
// 后注入，本服务只消费结果。
const callerHeader = "X-Caller-Address"

// Server 暴露结算引擎的 REST 接口。
type Server struct {
	addr     string
	escrow   *escrow.Service
	split    *split.Service
	gate     *trust.Gate
	settings *admin.Settings
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, escrowSvc *escrow.Service, splitSvc *split.Service,
	gate *trust.Gate, settings *admin.Settings) *Server {
	return &Server{
		addr:     addr,
		escrow:   escrowSvc,
		split:    splitSvc,
		gate:     gate,
		settings: settings,
	}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	logger.Named("api").Info("API 服务启动", "addr", s.addr)

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

// Routes 组装全部路由，带指标采集中间件。
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/payments", instrument("payments", s.handleCreatePayment))
	mux.HandleFunc("GET /api/v1/payments/{id}", instrument("payment_detail", s.handleGetPayment))
	mux.HandleFunc("POST /api/v1/payments/{id}/release", instrument("payment_release", s.handleReleasePayment))
	mux.HandleFunc("POST /api/v1/payments/{id}/refund", instrument("payment_refund", s.handleRefundPayment))
	mux.HandleFunc("POST /api/v1/payments/{id}/cancel", instrument("payment_cancel", s.handleCancelPayment))

	mux.HandleFunc("POST /api/v1/splits", instrument("splits", s.handleCreateSplit))
	mux.HandleFunc("GET /api/v1/splits/{id}", instrument("split_detail", s.handleGetSplit))
	mux.HandleFunc("GET /api/v1/splits/{id}/participants", instrument("split_participants", s.handleSplitParticipants))
	mux.HandleFunc("GET /api/v1/splits/{id}/deposits", instrument("split_deposits", s.handleSplitDeposits))
	mux.HandleFunc("POST /api/v1/splits/{id}/deactivate", instrument("split_deactivate", s.handleDeactivateSplit))
	mux.HandleFunc("POST /api/v1/splits/{id}/deposits", instrument("split_pay", s.handlePayToSplit))
	mux.HandleFunc("GET /api/v1/deposits/{id}", instrument("deposit_detail", s.handleGetDeposit))
	mux.HandleFunc("POST /api/v1/deposits/{id}/distribute", instrument("deposit_distribute", s.handleDistribute))

	mux.HandleFunc("GET /api/v1/agents/{id}/payments", instrument("agent_payments", s.handleAgentPayments))
	mux.HandleFunc("GET /api/v1/agents/{id}/earnings", instrument("agent_earnings", s.handleAgentEarnings))
	mux.HandleFunc("GET /api/v1/agents/{id}/splits", instrument("agent_splits", s.handleAgentSplits))
	mux.HandleFunc("GET /api/v1/agents/{id}/trust", instrument("agent_trust", s.handleAgentTrust))
	mux.HandleFunc("POST /api/v1/trust/check", instrument("trust_check", s.handleTrustCheck))

	mux.HandleFunc("POST /api/v1/admin/fee", instrument("admin_fee", s.handleSetFee))
	mux.HandleFunc("POST /api/v1/admin/treasury", instrument("admin_treasury", s.handleSetTreasury))
	mux.HandleFunc("POST /api/v1/admin/pause", instrument("admin_pause", s.handlePause))
	mux.HandleFunc("POST /api/v1/admin/unpause", instrument("admin_unpause", s.handleUnpause))
	mux.HandleFunc("POST /api/v1/admin/operators", instrument("admin_operators", s.handleOperators))

	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return mux
}

func caller(r *http.Request) identity.Address {
	return identity.Normalize(identity.Address(r.Header.Get(callerHeader)))
}

// statusFor 将结算错误码映射为 HTTP 状态码。
func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeUnauthorized, xerrors.CodeInsufficientTrust:
		return http.StatusForbidden
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeInvalidState, xerrors.CodeAlreadyDistributed, xerrors.CodeTooEarly:
		return http.StatusConflict
	case xerrors.CodePaused:
		return http.StatusServiceUnavailable
	case xerrors.CodeTransferFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	appErr, ok := xerrors.From(err)
	if !ok {
		appErr = xerrors.Wrap(xerrors.CodeUnknown, err, "")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(appErr.Code()))
	_ = json.NewEncoder(w).Encode(errorBody{
		Code:     string(appErr.Code()),
		Message:  appErr.Message(),
		Metadata: appErr.Metadata(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return false
	}
	return true
}

func parseAgentID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := r.PathValue("id")
	agentID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "非法的智能体编号"))
		return 0, false
	}
	return agentID, true
}

func parseTarget(w http.ResponseWriter, raw string) (bank.TransferTarget, bool) {
	target, err := bank.ParseTarget(raw)
	if err != nil {
		writeError(w, err)
		return bank.TransferTarget{}, false
	}
	return target, true
}

type createPaymentRequest struct {
	FromAgent          uint64 `json:"from_agent"`
	ToAgent            uint64 `json:"to_agent"`
	Amount             uint64 `json:"amount"`
	Value              uint64 `json:"value"`
	Target             string `json:"target"`
	TaskRef            string `json:"task_ref"`
	RequiresValidation bool   `json:"requires_validation"`
}

func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	target, ok := parseTarget(w, req.Target)
	if !ok {
		return
	}
	payment, err := s.escrow.CreatePayment(r.Context(), caller(r), escrow.CreateRequest{
		FromAgent:          req.FromAgent,
		ToAgent:            req.ToAgent,
		Amount:             req.Amount,
		SuppliedValue:      req.Value,
		Target:             target,
		TaskRef:            req.TaskRef,
		RequiresValidation: req.RequiresValidation,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := s.escrow.GetPayment(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (s *Server) handleReleasePayment(w http.ResponseWriter, r *http.Request) {
	payment, err := s.escrow.ReleasePayment(r.Context(), caller(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (s *Server) handleRefundPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := s.escrow.RefundPayment(r.Context(), caller(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (s *Server) handleCancelPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := s.escrow.CancelPayment(r.Context(), caller(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

type createSplitRequest struct {
	CreatorAgent uint64   `json:"creator_agent"`
	Participants []uint64 `json:"participants"`
	SharesBps    []uint32 `json:"shares_bps"`
}

func (s *Server) handleCreateSplit(w http.ResponseWriter, r *http.Request) {
	var req createSplitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	agreement, err := s.split.CreateSplit(r.Context(), caller(r), split.CreateSplitRequest{
		CreatorAgent: req.CreatorAgent,
		Participants: req.Participants,
		SharesBps:    req.SharesBps,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, agreement)
}

func (s *Server) handleGetSplit(w http.ResponseWriter, r *http.Request) {
	agreement, err := s.split.GetSplit(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agreement)
}

func (s *Server) handleSplitParticipants(w http.ResponseWriter, r *http.Request) {
	participants, shares, err := s.split.SplitParticipants(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"participants": participants,
		"shares_bps":   shares,
	})
}

func (s *Server) handleSplitDeposits(w http.ResponseWriter, r *http.Request) {
	deposits, err := s.split.SplitDeposits(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deposits)
}

func (s *Server) handleDeactivateSplit(w http.ResponseWriter, r *http.Request) {
	if err := s.split.DeactivateSplit(r.Context(), caller(r), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "inactive"})
}

type depositRequest struct {
	Amount  uint64 `json:"amount"`
	Value   uint64 `json:"value"`
	Target  string `json:"target"`
	TaskRef string `json:"task_ref"`
}

func (s *Server) handlePayToSplit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	target, ok := parseTarget(w, req.Target)
	if !ok {
		return
	}
	deposit, err := s.split.PayToSplit(r.Context(), caller(r), split.DepositRequest{
		SplitID:       r.PathValue("id"),
		Amount:        req.Amount,
		SuppliedValue: req.Value,
		Target:        target,
		TaskRef:       req.TaskRef,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, deposit)
}

func (s *Server) handleGetDeposit(w http.ResponseWriter, r *http.Request) {
	deposit, err := s.split.GetSplitPayment(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deposit)
}

func (s *Server) handleDistribute(w http.ResponseWriter, r *http.Request) {
	deposit, err := s.split.DistributeSplit(r.Context(), caller(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deposit)
}

func (s *Server) handleAgentPayments(w http.ResponseWriter, r *http.Request) {
	agentID, ok := parseAgentID(w, r)
	if !ok {
		return
	}
	payments, err := s.escrow.AgentPayments(r.Context(), agentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

func (s *Server) handleAgentEarnings(w http.ResponseWriter, r *http.Request) {
	agentID, ok := parseAgentID(w, r)
	if !ok {
		return
	}
	earnings, err := s.escrow.AgentEarnings(r.Context(), agentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, earnings)
}

func (s *Server) handleAgentSplits(w http.ResponseWriter, r *http.Request) {
	agentID, ok := parseAgentID(w, r)
	if !ok {
		return
	}
	agreements, err := s.split.AgentSplits(r.Context(), agentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agreements)
}

// handleAgentTrust 汇总一个智能体的风险画像，外部在创建支付前据此
// 定价抵押与利率。
func (s *Server) handleAgentTrust(w http.ResponseWriter, r *http.Request) {
	agentID, ok := parseAgentID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	collateral, err := s.gate.CollateralMultiplier(ctx, agentID)
	if err != nil {
		writeError(w, err)
		return
	}
	discount, err := s.gate.InterestRateDiscount(ctx, agentID)
	if err != nil {
		writeError(w, err)
		return
	}
	priority, err := s.gate.PriorityScore(ctx, agentID)
	if err != nil {
		writeError(w, err)
		return
	}
	maxValue, err := s.gate.MaxTrustedValue(ctx, agentID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]any{
		"collateral_multiplier_bps": collateral,
		"rate_discount_bps":         discount,
		"priority_score":            priority,
		"max_trusted_value":         maxValue,
	}
	if raw := r.URL.Query().Get("value"); raw != "" {
		value, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "非法的 value 参数"))
			return
		}
		trusted, err := s.gate.IsTrustedForValue(ctx, agentID, value)
		if err != nil {
			writeError(w, err)
			return
		}
		resp["trusted_for_value"] = trusted
	}
	writeJSON(w, http.StatusOK, resp)
}

type trustCheckRequest struct {
	Agents  []uint64 `json:"agents"`
	MinTier string   `json:"min_tier"`
}

// handleTrustCheck 对一批智能体做准入筛查，逐个返回是否达标。
func (s *Server) handleTrustCheck(w http.ResponseWriter, r *http.Request) {
	var req trustCheckRequest
	if !decodeBody(w, r, &req) {
		return
	}
	min := reputation.Tier(strings.ToLower(req.MinTier))
	results, err := s.gate.BatchCheckTier(r.Context(), req.Agents, min)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type feeRequest struct {
	FeeBps uint32 `json:"fee_bps"`
}

func (s *Server) handleSetFee(w http.ResponseWriter, r *http.Request) {
	var req feeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.settings.SetProtocolFee(r.Context(), caller(r), req.FeeBps); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fee_bps": req.FeeBps,
		"max_bps": ledger.MaxFeeBps,
	})
}

type treasuryRequest struct {
	Treasury string `json:"treasury"`
}

func (s *Server) handleSetTreasury(w http.ResponseWriter, r *http.Request) {
	var req treasuryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.settings.SetTreasury(r.Context(), caller(r), identity.Address(req.Treasury)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"treasury": req.Treasury})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.settings.Pause(r.Context(), caller(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	if err := s.settings.Unpause(r.Context(), caller(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

type operatorRequest struct {
	Operator string `json:"operator"`
	Action   string `json:"action"`
}

func (s *Server) handleOperators(w http.ResponseWriter, r *http.Request) {
	var req operatorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	operator := identity.Address(req.Operator)
	var err error
	switch req.Action {
	case "allow", "":
		err = s.settings.AllowOperator(r.Context(), caller(r), operator)
	case "revoke":
		err = s.settings.RevokeOperator(r.Context(), caller(r), operator)
	default:
		err = xerrors.New(xerrors.CodeInvalidArgument, "未知的 action")
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"operator": req.Operator, "action": req.Action})
}

// instrument 记录每个处理器的请求量与时延。
func instrument(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
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
