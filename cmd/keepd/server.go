package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	keep "github.com/trustkeep/keep"
	"github.com/trustkeep/keep/errors"
	"github.com/trustkeep/keep/store"
	"github.com/trustkeep/keep/x/cash"
	"github.com/trustkeep/keep/x/escrow"
)

// Server exposes the escrow engine over HTTP. Party identity comes from
// the caller field of the request body, there is no authentication
// layer here.
type Server struct {
	engine  *escrow.Engine
	ledger  *cash.Controller
	db      store.CacheableKVStore
	router  *gin.Engine
	logger  zerolog.Logger
	started time.Time
}

// NewServer wires the HTTP layer around an engine and its ledger.
func NewServer(engine *escrow.Engine, ledger *cash.Controller, db store.CacheableKVStore, logger zerolog.Logger) *Server {
	s := &Server{
		engine:  engine,
		ledger:  ledger,
		db:      db,
		router:  gin.New(),
		logger:  logger,
		started: time.Now(),
	}
	s.router.Use(gin.Recovery(), requestLogger(logger))
	s.registerRoutes()
	return s
}

// Run blocks serving HTTP on the given address.
func (s *Server) Run(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("listening")
	return s.router.Run(addr)
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(s.started).String(),
		})
	})

	s.router.POST("/escrows", s.handleInitialize)
	s.router.GET("/escrows", s.handleList)
	s.router.GET("/escrows/:id", s.handleEscrow)
	s.router.POST("/escrows/:id/withdraw", s.handleWithdraw)
	s.router.POST("/escrows/:id/refund", s.handleRefund)
	s.router.POST("/escrows/:id/cancel", s.handleCancel)
	s.router.POST("/escrows/:id/resolve", s.handleResolve)
	s.router.GET("/events", s.handleEvents)
	s.router.GET("/wallets/:address", s.handleWallet)
}

type initializeRequest struct {
	Caller    keep.Address  `json:"caller"`
	Recipient keep.Address  `json:"recipient"`
	Arbiter   keep.Address  `json:"arbiter"`
	Amount    int64         `json:"amount"`
	Deadline  keep.UnixTime `json:"deadline"`
	Memo      string        `json:"memo"`
}

func (s *Server) handleInitialize(c *gin.Context) {
	var req initializeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := s.engine.Initialize(c.Request.Context(), req.Caller, &escrow.CreateMsg{
		Recipient: req.Recipient,
		Arbiter:   req.Arbiter,
		Amount:    req.Amount,
		Deadline:  req.Deadline,
		Memo:      req.Memo,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	esc, err := s.engine.Escrow(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":     encodeID(id),
		"escrow": esc,
	})
}

type settleRequest struct {
	Caller keep.Address `json:"caller"`
}

type resolveRequest struct {
	Caller  keep.Address `json:"caller"`
	Release bool         `json:"release"`
}

func (s *Server) handleWithdraw(c *gin.Context) {
	s.settle(c, s.engine.Withdraw)
}

func (s *Server) handleRefund(c *gin.Context) {
	s.settle(c, s.engine.Refund)
}

func (s *Server) handleCancel(c *gin.Context) {
	s.settle(c, s.engine.Cancel)
}

func (s *Server) settle(c *gin.Context, op func(ctx context.Context, caller keep.Address, id []byte) error) {
	id, ok := s.escrowID(c)
	if !ok {
		return
	}
	var req settleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := op(c.Request.Context(), req.Caller, id); err != nil {
		s.fail(c, err)
		return
	}
	s.respondEscrow(c, id)
}

func (s *Server) handleResolve(c *gin.Context) {
	id, ok := s.escrowID(c)
	if !ok {
		return
	}
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.Resolve(c.Request.Context(), req.Caller, id, req.Release); err != nil {
		s.fail(c, err)
		return
	}
	s.respondEscrow(c, id)
}

func (s *Server) handleEscrow(c *gin.Context) {
	id, ok := s.escrowID(c)
	if !ok {
		return
	}
	s.respondEscrow(c, id)
}

func (s *Server) handleList(c *gin.Context) {
	var (
		list []escrow.Stored
		err  error
	)
	if party := c.Query("party"); party != "" {
		var addr keep.Address
		addr, err = keep.ParseAddress(party)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		list, err = s.engine.ByParty(addr)
	} else {
		list, err = s.engine.List()
	}
	if err != nil {
		s.fail(c, err)
		return
	}

	out := make([]gin.H, 0, len(list))
	for _, item := range list {
		out = append(out, gin.H{
			"id":     encodeID(item.ID),
			"escrow": item.Escrow,
		})
	}
	c.JSON(http.StatusOK, gin.H{"escrows": out})
}

func (s *Server) handleEvents(c *gin.Context) {
	events := s.engine.Events()
	out := make([]gin.H, 0, len(events))
	for _, ev := range events {
		entry := gin.H{
			"id":          ev.ID,
			"type":        ev.Type,
			"escrow_id":   encodeID(ev.EscrowID),
			"initializer": ev.Initializer,
			"recipient":   ev.Recipient,
			"arbiter":     ev.Arbiter,
			"amount":      ev.Amount,
			"time":        ev.Time,
		}
		if len(ev.ReleasedTo) != 0 {
			entry["released_to"] = ev.ReleasedTo
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

func (s *Server) handleWallet(c *gin.Context) {
	addr, err := keep.ParseAddress(c.Param("address"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	balance, err := s.ledger.Balance(s.db, addr)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address": addr,
		"balance": balance,
	})
}

func (s *Server) respondEscrow(c *gin.Context, id []byte) {
	esc, err := s.engine.Escrow(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":     encodeID(id),
		"escrow": esc,
	})
}

func (s *Server) escrowID(c *gin.Context) ([]byte, bool) {
	id, err := decodeID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	return id, true
}

func (s *Server) fail(c *gin.Context, err error) {
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("internal error")
	}
	c.JSON(status, gin.H{
		"error": err.Error(),
		"code":  errors.Code(err),
	})
}

// httpStatus maps the root cause of an engine error onto an HTTP status.
func httpStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.ErrNotFound.Is(err):
		return http.StatusNotFound
	case errors.ErrUnauthorized.Is(err):
		return http.StatusForbidden
	case errors.ErrState.Is(err),
		errors.ErrExpired.Is(err),
		errors.ErrNotExpired.Is(err):
		return http.StatusConflict
	case errors.ErrTransfer.Is(err):
		return http.StatusUnprocessableEntity
	case errors.ErrAmount.Is(err),
		errors.ErrDeadline.Is(err),
		errors.ErrInput.Is(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		event := logger.Info()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("http_request")
	}
}

// Escrow IDs travel as uppercase hex of the sequence value.
func encodeID(id []byte) string {
	return strings.ToUpper(hex.EncodeToString(id))
}

func decodeID(enc string) ([]byte, error) {
	id, err := hex.DecodeString(strings.ToLower(enc))
	if err != nil {
		return nil, fmt.Errorf("not a hex escrow id: %q", enc)
	}
	if len(id) == 0 {
		return nil, fmt.Errorf("empty escrow id")
	}
	return id, nil
}
