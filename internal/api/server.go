package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/robbenti/nsdb/internal/config"
	"github.com/robbenti/nsdb/internal/guardian"
	"github.com/robbenti/nsdb/internal/logger"
	"github.com/robbenti/nsdb/internal/model"
	"github.com/robbenti/nsdb/internal/statement"
)

const msgpackContentType = "application/msgpack"

// Server adapts the RPC surface to the coordinators: public write, metric
// init, SQL and health routes, plus the internal shard routes peers call.
type Server struct {
	app    *fiber.App
	g      *guardian.Guardian
	cfg    *config.Config
	logger zerolog.Logger
}

func NewServer(cfg *config.Config, g *guardian.Guardian) *Server {
	s := &Server{
		g:      g,
		cfg:    cfg,
		logger: logger.Get("api-server"),
	}

	s.app = fiber.New(fiber.Config{
		ReadTimeout:           time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(cfg.Server.WriteTimeout) * time.Second,
		DisableStartupMessage: true,
	})

	s.app.Get("/health", s.handleHealth)

	v1 := s.app.Group("/api/v1")
	v1.Post("/write", s.handleWrite)
	v1.Post("/metric/init", s.handleInitMetric)
	v1.Post("/sql", s.handleSQL)
	v1.Get("/queries", s.handleQueries)
	v1.Delete("/queries/:id", s.handleCancelQuery)

	internal := s.app.Group("/internal")
	internal.Post("/write", s.handleInternalWrite)
	internal.Post("/shard/query", s.handleInternalShardQuery)
	internal.Post("/shard/delete", s.handleInternalShardDelete)

	return s
}

// Listen serves until Shutdown.
func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.logger.Info().Str("addr", addr).Msg("API server listening")
	return s.app.Listen(addr)
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown() error { return s.app.Shutdown() }

// writeRequest is the public write body. The value keeps its wire kind:
// integers stay BIGINT, fractions become DECIMAL, strings VARCHAR.
type writeRequest struct {
	Db         string                 `json:"db" msgpack:"db"`
	Namespace  string                 `json:"namespace" msgpack:"namespace"`
	Metric     string                 `json:"metric" msgpack:"metric"`
	Timestamp  *int64                 `json:"timestamp" msgpack:"timestamp"`
	Value      interface{}            `json:"value" msgpack:"value"`
	Dimensions map[string]interface{} `json:"dimensions" msgpack:"dimensions"`
	Tags       map[string]interface{} `json:"tags" msgpack:"tags"`
}

// decodeBody decodes a JSON or msgpack request body. JSON numbers decode as
// json.Number so the value kind survives.
func decodeBody(c *fiber.Ctx, dst interface{}) error {
	if strings.Contains(c.Get(fiber.HeaderContentType), "msgpack") {
		return msgpack.Unmarshal(c.Body(), dst)
	}
	dec := json.NewDecoder(bytes.NewReader(c.Body()))
	dec.UseNumber()
	return dec.Decode(dst)
}

func (s *Server) handleWrite(c *fiber.Ctx) error {
	var req writeRequest
	if err := decodeBody(c, &req); err != nil {
		return badRequest(c, "invalid write body: "+err.Error())
	}
	if req.Db == "" || req.Namespace == "" || req.Metric == "" {
		return badRequest(c, "db, namespace and metric are required")
	}

	bit, err := s.bitFrom(req)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if err := s.g.Write.MapInput(c.Context(), req.Db, req.Namespace, req.Metric, bit); err != nil {
		return s.reply(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (s *Server) bitFrom(req writeRequest) (model.Bit, error) {
	if req.Value == nil {
		return model.Bit{}, fmt.Errorf("value is required")
	}
	value, err := toScalar(req.Value)
	if err != nil {
		return model.Bit{}, fmt.Errorf("value: %w", err)
	}
	dims, err := toScalarMap(req.Dimensions)
	if err != nil {
		return model.Bit{}, err
	}
	tags, err := toScalarMap(req.Tags)
	if err != nil {
		return model.Bit{}, err
	}
	ts := time.Now().UnixMilli()
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}
	return model.Bit{Timestamp: ts, Value: value, Dimensions: dims, Tags: tags}, nil
}

type initMetricRequest struct {
	Db            string `json:"db" msgpack:"db"`
	Namespace     string `json:"namespace" msgpack:"namespace"`
	Metric        string `json:"metric" msgpack:"metric"`
	ShardInterval int64  `json:"shard_interval" msgpack:"shard_interval"`
	Retention     int64  `json:"retention" msgpack:"retention"`
}

func (s *Server) handleInitMetric(c *fiber.Ctx) error {
	var req initMetricRequest
	if err := decodeBody(c, &req); err != nil {
		return badRequest(c, "invalid init body: "+err.Error())
	}
	if req.Db == "" || req.Namespace == "" || req.Metric == "" {
		return badRequest(c, "db, namespace and metric are required")
	}
	err := s.g.Metadata.PutMetricInfo(req.Db, req.Namespace, model.MetricInfo{
		Metric:        req.Metric,
		ShardInterval: req.ShardInterval,
		Retention:     req.Retention,
	})
	if err != nil {
		return s.reply(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

type sqlRequest struct {
	Db        string `json:"db" msgpack:"db"`
	Namespace string `json:"namespace" msgpack:"namespace"`
	Statement string `json:"statement" msgpack:"statement"`
}

func (s *Server) handleSQL(c *fiber.Ctx) error {
	var req sqlRequest
	if err := decodeBody(c, &req); err != nil {
		return badRequest(c, "invalid sql body: "+err.Error())
	}
	if req.Db == "" || req.Namespace == "" {
		return badRequest(c, "db and namespace are required")
	}

	stmt, err := statement.Parse(req.Statement)
	if err != nil {
		return badRequest(c, err.Error())
	}

	switch st := stmt.(type) {
	case *statement.SelectSQLStatement:
		records, err := s.g.Read.ExecuteStatement(c.Context(), req.Db, req.Namespace, st)
		if err != nil {
			return s.reply(c, err)
		}
		out := make([]map[string]interface{}, len(records))
		for i, b := range records {
			out[i] = recordJSON(b)
		}
		return c.JSON(fiber.Map{"records": out})

	case *statement.InsertSQLStatement:
		ts := time.Now().UnixMilli()
		if st.Timestamp != nil {
			ts = *st.Timestamp
		}
		bit := model.Bit{Timestamp: ts, Value: st.Value, Dimensions: st.Dimensions, Tags: st.Tags}
		if err := s.g.Write.MapInput(c.Context(), req.Db, req.Namespace, st.Metric, bit); err != nil {
			return s.reply(c, err)
		}
		return c.JSON(fiber.Map{"ok": true})

	case *statement.DeleteSQLStatement:
		if err := s.g.Write.ExecuteDeleteStatement(c.Context(), req.Db, req.Namespace, st); err != nil {
			return s.reply(c, err)
		}
		return c.JSON(fiber.Map{"ok": true})

	case *statement.DropSQLStatement:
		if err := s.g.Write.DropMetric(c.Context(), req.Db, req.Namespace, st.Metric); err != nil {
			return s.reply(c, err)
		}
		return c.JSON(fiber.Map{"ok": true})

	default:
		return badRequest(c, "unsupported statement")
	}
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"counters": fiber.Map{
			"writes_accepted":        atomic.LoadInt64(&s.g.Write.Accepted),
			"writes_rejected":        atomic.LoadInt64(&s.g.Write.Rejected),
			"statements_executed":    atomic.LoadInt64(&s.g.Read.Executed),
			"statements_failed":      atomic.LoadInt64(&s.g.Read.Failed),
			"reconstruction_skipped": s.g.Shards.SkippedReconstructions(),
		},
	})
}

func (s *Server) handleQueries(c *fiber.Ctx) error {
	tracker := s.g.Read.Tracker()
	return c.JSON(fiber.Map{
		"active":  tracker.Active(),
		"history": tracker.History(c.QueryInt("limit", 20)),
	})
}

func (s *Server) handleCancelQuery(c *fiber.Ctx) error {
	if !s.g.Read.Tracker().Cancel(c.Params("id")) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "statement not found"})
	}
	return c.JSON(fiber.Map{"ok": true})
}

// internalWriteRequest carries a forwarded record in tagged form.
type internalWriteRequest struct {
	Db        string        `msgpack:"db"`
	Namespace string        `msgpack:"ns"`
	Metric    string        `msgpack:"metric"`
	Record    recordPayload `msgpack:"record"`
}

func (s *Server) handleInternalWrite(c *fiber.Ctx) error {
	var req internalWriteRequest
	if err := msgpack.Unmarshal(c.Body(), &req); err != nil {
		return badRequest(c, "invalid internal write body: "+err.Error())
	}
	if err := s.g.Write.MapInput(c.Context(), req.Db, req.Namespace, req.Metric, decodeBit(req.Record)); err != nil {
		return s.reply(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

// shardRequest carries one shard subquery: the statement text plus the bin.
type shardRequest struct {
	Db        string `msgpack:"db"`
	Namespace string `msgpack:"ns"`
	Bin       int64  `msgpack:"bin"`
	SQL       string `msgpack:"sql"`
}

func (s *Server) handleInternalShardQuery(c *fiber.Ctx) error {
	var req shardRequest
	if err := msgpack.Unmarshal(c.Body(), &req); err != nil {
		return badRequest(c, "invalid shard query body: "+err.Error())
	}
	stmt, err := statement.Parse(req.SQL)
	if err != nil {
		return badRequest(c, err.Error())
	}
	sel, ok := stmt.(*statement.SelectSQLStatement)
	if !ok {
		return badRequest(c, "shard query must be a select")
	}

	records, err := s.g.Read.ExecuteOnShard(c.Context(), req.Db, req.Namespace, req.Bin, sel)
	if err != nil {
		return s.reply(c, err)
	}
	body, err := msgpack.Marshal(encodeBits(records))
	if err != nil {
		return s.reply(c, err)
	}
	c.Set(fiber.HeaderContentType, msgpackContentType)
	return c.Send(body)
}

func (s *Server) handleInternalShardDelete(c *fiber.Ctx) error {
	var req shardRequest
	if err := msgpack.Unmarshal(c.Body(), &req); err != nil {
		return badRequest(c, "invalid shard delete body: "+err.Error())
	}
	stmt, err := statement.Parse(req.SQL)
	if err != nil {
		return badRequest(c, err.Error())
	}
	del, ok := stmt.(*statement.DeleteSQLStatement)
	if !ok {
		return badRequest(c, "shard delete must be a delete")
	}
	if err := s.g.Write.DeleteOnShard(c.Context(), req.Db, req.Namespace, req.Bin, del); err != nil {
		return s.reply(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

func badRequest(c *fiber.Ctx, detail string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": detail})
}

// reply maps an error kind to its status code and serialises the reason.
func (s *Server) reply(c *fiber.Ctx, err error) error {
	return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
}
