package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"citanft/internal/chainstate"
	"citanft/internal/config"
	"citanft/internal/hmacauth"
	"citanft/internal/idempotency"
	"citanft/internal/metrics"
	"citanft/internal/notify"
	"citanft/internal/txn"
	"citanft/internal/view"
	"citanft/internal/wallet"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
)

// Wallet is the session surface the API drives. *wallet.Manager satisfies it.
type Wallet interface {
	Connect(ctx context.Context, needWrite bool) (*wallet.Handle, error)
	Handle(ctx context.Context, needWrite bool) (*wallet.Handle, error)
	Disconnect()
	Session() wallet.Session
	Backends() []string
}

// StateSource is satisfied by *chainstate.Poller.
type StateSource interface {
	State() chainstate.State
	Sync(ctx context.Context) chainstate.State
	SupplyCap() *big.Int
}

// Submitter is satisfied by *txn.Orchestrator.
type Submitter interface {
	Start(ctx context.Context, op txn.Operation) (<-chan txn.Result, error)
	InFlight() bool
}

type NoticeSource interface {
	Notices() []notify.Notice
}

// Deps are the collaborators the API is built over.
type Deps struct {
	Wallet  Wallet
	State   StateSource
	Txn     Submitter
	Store   idempotency.Store
	Notices NoticeSource
	Metrics *metrics.Registry
}

type Server struct {
	cfg        *config.AppConfig
	wallet     Wallet
	state      StateSource
	txn        Submitter
	store      idempotency.Store
	notices    NoticeSource
	hmac       *hmacauth.Verifier
	httpServer *http.Server
	metrics    *metrics.Registry
	dbHealthFn func(context.Context) error

	// baseCtx outlives individual requests so a transaction keeps waiting for
	// its receipt after the 202 has been written.
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

func NewServer(cfg *config.AppConfig, deps Deps) *Server {
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		wallet:     deps.Wallet,
		state:      deps.State,
		txn:        deps.Txn,
		store:      deps.Store,
		notices:    deps.Notices,
		metrics:    deps.Metrics,
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}
	s.hmac = &hmacauth.Verifier{
		Secret:  cfg.Site.Secrets.HMACSalt,
		MaxSkew: cfg.Service.HMACClockSkew,
		OnReject: func(r *http.Request, _ error) {
			s.metrics.IncRequest(operationForPath(r.URL.Path), "unauthorized")
		},
	}

	if checker, ok := deps.Store.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

// Handler returns the routed API with request ids attached.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/wallet/connect", s.handleConnect)
	mux.HandleFunc("/api/v1/wallet/disconnect", s.handleDisconnect)
	mux.HandleFunc("/api/v1/state", s.handleState)
	mux.Handle("/api/v1/presale/start", s.hmac.Middleware(s.writeHandler(txn.StartPresale)))
	mux.Handle("/api/v1/mint", s.hmac.Middleware(s.writeHandler(txn.Mint)))
	mux.HandleFunc("/api/v1/notices", s.handleNotices)
	mux.Handle("/api/v1/metrics", s.metrics.Handler())
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	return requestIDMiddleware(mux)
}

func (s *Server) Start() error {
	log.Info("API listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	defer s.cancelBase()
	return s.httpServer.Shutdown(ctx)
}

type connectRequest struct {
	Write bool `json:"write"`
}

type stateResponse struct {
	Session     wallet.Session   `json:"session"`
	Backends    []string         `json:"backends"`
	Chain       chainstate.State `json:"chain"`
	InFlight    bool             `json:"inFlight"`
	SupplyCap   string           `json:"supplyCap"`
	MintedLabel string           `json:"mintedLabel"`
	NextAction  string           `json:"nextAction"`
	MintCaption string           `json:"mintCaption"`
}

type writeResponse struct {
	Operation string `json:"operation"`
	Status    string `json:"status"`
	RequestID string `json:"requestId,omitempty"`
	TxHash    string `json:"txHash,omitempty"`
	Error     string `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	var payload connectRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, errors.New("invalid json payload"))
		return
	}

	ctx := r.Context()
	if _, err := s.wallet.Connect(ctx, payload.Write); err != nil {
		writeError(w, connectStatus(err), err)
		return
	}
	s.state.Sync(ctx)
	writeJSON(w, http.StatusOK, s.snapshot())
}

func connectStatus(err error) int {
	switch {
	case errors.Is(err, wallet.ErrWrongNetwork):
		return http.StatusConflict
	case errors.Is(err, wallet.ErrNoSigner):
		return http.StatusForbidden
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	s.wallet.Disconnect()
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) snapshot() stateResponse {
	session := s.wallet.Session()
	chain := s.state.State()
	inFlight := s.txn.InFlight()
	supplyCap := s.supplyCap()
	snap := view.Snapshot{
		Connected:      session.Connected,
		InFlight:       inFlight,
		IsOwner:        chain.IsOwner,
		PresaleStarted: chain.PresaleStarted,
		MintedCount:    chain.MintedCount,
		SupplyCap:      supplyCap,
	}

	backends := s.wallet.Backends()
	if backends == nil {
		backends = []string{}
	}
	return stateResponse{
		Session:     session,
		Backends:    backends,
		Chain:       chain,
		InFlight:    inFlight,
		SupplyCap:   supplyCap.String(),
		MintedLabel: view.MintedLabel(chain.MintedCount, supplyCap),
		NextAction:  view.NextAction(snap),
		MintCaption: view.MintCaption(snap),
	}
}

// supplyCap prefers the cap read from the contract over configuration.
func (s *Server) supplyCap() *big.Int {
	if c := s.state.SupplyCap(); c != nil {
		return c
	}
	if s.cfg.Chain.SupplyCap == nil {
		return new(big.Int)
	}
	return s.cfg.Chain.SupplyCap
}

// writeHandler accepts a signed request for op. Replays with a known
// idempotency key get the stored response and never reach the orchestrator.
func (s *Server) writeHandler(op txn.Operation) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
			return
		}

		clientKey := strings.TrimSpace(r.Header.Get("X-Idempotency-Key"))
		if clientKey == "" {
			s.metrics.IncRequest(op.String(), "bad_request")
			writeError(w, http.StatusBadRequest, errors.New("missing X-Idempotency-Key header"))
			return
		}
		key := idempotency.Key(op.String(), clientKey)

		ctx := r.Context()
		if existing, _ := s.store.Get(ctx, key); existing != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(existing.StatusCode)
			_, _ = w.Write(existing.Response)
			s.metrics.IncRequest(op.String(), "cached")
			return
		}

		if !s.wallet.Session().Connected {
			s.metrics.IncRequest(op.String(), "not_connected")
			writeError(w, http.StatusPreconditionFailed, errors.New("wallet not connected"))
			return
		}

		results, err := s.txn.Start(s.baseCtx, op)
		if errors.Is(err, txn.ErrAlreadyPending) {
			s.metrics.IncRequest(op.String(), "pending")
			writeError(w, http.StatusConflict, err)
			return
		}
		if err != nil {
			s.metrics.IncRequest(op.String(), "failed")
			writeError(w, http.StatusBadGateway, err)
			return
		}
		resp := writeResponse{
			Operation: op.String(),
			Status:    "submitted",
			RequestID: r.Header.Get("X-Request-Id"),
		}
		b, _ := json.Marshal(resp)

		now := time.Now()
		record := idempotency.Record{
			Operation:  op.String(),
			StatusCode: http.StatusAccepted,
			Response:   b,
			CreatedAt:  now,
			ExpiresAt:  now.Add(s.cfg.Service.IdempotencyWindow),
		}
		if err := s.store.Save(ctx, key, record); err != nil {
			log.Warn("Idempotency record not saved", "op", op, "err", err)
		}
		go s.finish(key, record, resp, results)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write(b)
		s.metrics.IncRequest(op.String(), "accepted")
	})
}

// finish waits for the transaction outcome and rewrites the stored response so
// replays of the same key report the hash and final status.
func (s *Server) finish(key string, record idempotency.Record, resp writeResponse, results <-chan txn.Result) {
	res := <-results
	resp.TxHash = res.TxHash
	if res.Err != nil {
		resp.Status = "failed"
		resp.Error = res.Err.Error()
		log.Debug("Write request finished with error", "op", resp.Operation, "err", res.Err)
	} else {
		resp.Status = "confirmed"
		log.Debug("Write request finished", "op", resp.Operation, "hash", res.TxHash)
	}

	b, err := json.Marshal(resp)
	if err != nil {
		return
	}
	record.Response = b
	record.TxHash = res.TxHash
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Save(ctx, key, record); err != nil {
		log.Warn("Idempotency record not updated", "op", resp.Operation, "err", err)
	}
}

func operationForPath(path string) string {
	switch path {
	case "/api/v1/mint":
		return txn.Mint.String()
	case "/api/v1/presale/start":
		return txn.StartPresale.String()
	}
	return "unknown"
}

func (s *Server) handleNotices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	notices := []notify.Notice{}
	if s.notices != nil {
		notices = append(notices, s.notices.Notices()...)
	}
	writeJSON(w, http.StatusOK, notices)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		Block     uint64  `json:"block,omitempty"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{}

	start := time.Now()
	rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if block, err := s.blockNumber(rpcCtx); err != nil {
		rpcInfo.Error = err.Error()
		overallHealthy = false
	} else {
		rpcInfo.Connected = true
		rpcInfo.Block = block
		rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status   string      `json:"status"`
		RPC      interface{} `json:"rpc"`
		Database interface{} `json:"database"`
		InFlight bool        `json:"in_flight"`
	}{
		Status:   status,
		RPC:      rpcInfo,
		Database: dbInfo,
		InFlight: s.txn.InFlight(),
	}

	code := http.StatusOK
	if !overallHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) blockNumber(ctx context.Context) (uint64, error) {
	h, err := s.wallet.Handle(ctx, false)
	if err != nil {
		return 0, err
	}
	return h.Client().BlockNumber(ctx)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
			r.Header.Set("X-Request-Id", id)
		}
		w.Header().Set("X-Request-Id", id)
		log.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "id", id)
		next.ServeHTTP(w, r)
	})
}
