package rpc

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/heliolabs/rollup/common"
	"github.com/heliolabs/rollup/executor"
	"github.com/heliolabs/rollup/ledger"
	"github.com/heliolabs/rollup/node"
	"github.com/heliolabs/rollup/sequencer"
)

// Server is the HTTP front end mapping wire calls onto the node operations.
type Server struct {
	app  *fiber.App
	node *node.Node
	log  *zap.Logger
}

func NewServer(n *node.Node, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	server := &Server{app: app, node: n, log: log}

	app.Get("/healthz", server.health)
	app.Get("/account/:id", server.getAccount)
	app.Get("/commitment", server.getCommitment)
	app.Post("/transactions", server.submit)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	return server
}

func (s *Server) Listen(addr string) error {
	s.log.Info("rpc server listening", zap.String("addr", addr))
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the underlying fiber app for in-process testing.
func (s *Server) App() *fiber.App {
	return s.app
}

// --- Handlers ---

type accountResponse struct {
	Balance    uint64 `json:"balance"`
	Data       []byte `json:"data"`
	Owner      string `json:"owner"`
	Executable bool   `json:"executable"`
	RentEpoch  uint64 `json:"rentEpoch"`
}

type submitRequest struct {
	Signature string   `json:"signature"`
	From      string   `json:"from"`
	Keys      []string `json:"keys"`
	Data      []byte   `json:"data"`
	Nonce     uint64   `json:"nonce"`
}

type receiptResponse struct {
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
}

type commitmentResponse struct {
	Commitment string `json:"commitment"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) health(c *fiber.Ctx) error {
	if s.node.Degraded() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(errorResponse{Error: "degraded"})
	}
	return c.SendStatus(fiber.StatusOK)
}

func (s *Server) getAccount(c *fiber.Ctx) error {
	id, err := common.AddressFromBase58(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
	}
	record, found, err := s.node.GetAccount(id)
	if err != nil {
		return s.errorStatus(c, err)
	}
	if !found {
		record = ledger.ZeroAccountRecord()
	}
	return c.JSON(accountResponse{
		Balance:    record.Balance,
		Data:       record.Data,
		Owner:      record.Owner.String(),
		Executable: record.Executable,
		RentEpoch:  record.RentEpoch,
	})
}

func (s *Server) getCommitment(c *fiber.Ctx) error {
	return c.JSON(commitmentResponse{Commitment: s.node.StateCommitment().String()})
}

func (s *Server) submit(c *fiber.Ctx) error {
	var req submitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
	}
	tx, err := decodeTransaction(req)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
	}

	receipt, err := s.node.Submit(tx)
	if err != nil {
		return s.errorStatus(c, err)
	}
	return c.JSON(receiptResponse{
		Signature: receipt.Signature.String(),
		Slot:      receipt.Slot,
	})
}

func decodeTransaction(req submitRequest) (*executor.Transaction, error) {
	signature, err := common.SignatureFromBase58(req.Signature)
	if err != nil {
		return nil, err
	}
	from, err := common.AddressFromBase58(req.From)
	if err != nil {
		return nil, err
	}
	keys := make([]common.Address, 0, len(req.Keys))
	for _, key := range req.Keys {
		id, err := common.AddressFromBase58(key)
		if err != nil {
			return nil, err
		}
		keys = append(keys, id)
	}
	return &executor.Transaction{
		Signature: signature,
		From:      from,
		Keys:      keys,
		Data:      req.Data,
		Nonce:     req.Nonce,
	}, nil
}

// errorStatus maps the error taxonomy onto response codes, one code per
// class so callers can react precisely.
func (s *Server) errorStatus(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, executor.ErrInvalidSignature),
		errors.Is(err, executor.ErrMalformedInstruction):
		status = fiber.StatusBadRequest
	case errors.Is(err, executor.ErrInsufficientFunds):
		status = fiber.StatusPaymentRequired
	case errors.Is(err, executor.ErrReplayedNonce):
		status = fiber.StatusConflict
	case errors.Is(err, sequencer.ErrBackpressureExceeded):
		status = fiber.StatusTooManyRequests
	case errors.Is(err, ledger.ErrPersistence),
		errors.Is(err, node.ErrUnavailable):
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(errorResponse{Error: err.Error()})
}
