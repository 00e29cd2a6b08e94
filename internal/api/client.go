package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/robbenti/nsdb/internal/cluster"
	"github.com/robbenti/nsdb/internal/model"
)

// NodeClient carries forwarded writes and shard subqueries to peer nodes over
// the internal HTTP surface. Each peer sits behind a circuit; an open circuit
// or an unreachable peer reports Unavailable.
type NodeClient struct {
	view    cluster.View
	breaker *cluster.Breaker
	http    *http.Client
	logger  zerolog.Logger
}

func NewNodeClient(view cluster.View, breaker *cluster.Breaker, logger zerolog.Logger) *NodeClient {
	return &NodeClient{
		view:    view,
		breaker: breaker,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger.With().Str("component", "node-client").Logger(),
	}
}

// WriteRemote forwards a record to the node owning its bin.
func (n *NodeClient) WriteRemote(ctx context.Context, nodeID, db, ns, metric string, bit model.Bit) error {
	body, err := msgpack.Marshal(internalWriteRequest{
		Db:        db,
		Namespace: ns,
		Metric:    metric,
		Record:    encodeBit(bit),
	})
	if err != nil {
		return err
	}
	_, err = n.call(ctx, nodeID, "/internal/write", body)
	return err
}

// QueryShard executes a select subquery against one bin on its owner.
func (n *NodeClient) QueryShard(ctx context.Context, nodeID, db, ns string, bin int64, sqlText string) ([]model.Bit, error) {
	body, err := msgpack.Marshal(shardRequest{Db: db, Namespace: ns, Bin: bin, SQL: sqlText})
	if err != nil {
		return nil, err
	}
	resp, err := n.call(ctx, nodeID, "/internal/shard/query", body)
	if err != nil {
		return nil, err
	}
	var payloads []recordPayload
	if err := msgpack.Unmarshal(resp, &payloads); err != nil {
		return nil, fmt.Errorf("failed to decode shard reply: %w", err)
	}
	return decodeBits(payloads), nil
}

// DeleteShard executes a delete subquery against one bin on its owner.
func (n *NodeClient) DeleteShard(ctx context.Context, nodeID, db, ns string, bin int64, sqlText string) error {
	body, err := msgpack.Marshal(shardRequest{Db: db, Namespace: ns, Bin: bin, SQL: sqlText})
	if err != nil {
		return err
	}
	_, err = n.call(ctx, nodeID, "/internal/shard/delete", body)
	return err
}

func (n *NodeClient) call(ctx context.Context, nodeID, path string, body []byte) ([]byte, error) {
	addr, ok := n.view.Addr(nodeID)
	if !ok || addr == "" {
		return nil, model.ErrUnavailable
	}

	var respBody []byte
	err := n.breaker.Execute(nodeID, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+addr+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", msgpackContentType)

		resp, err := n.http.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", model.ErrUnavailable, err)
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("peer %s replied %d: %s", nodeID, resp.StatusCode, string(respBody))
		}
		return nil
	})
	if err != nil {
		n.logger.Warn().Err(err).Str("node", nodeID).Str("path", path).Msg("Peer call failed")
		return nil, err
	}
	return respBody, nil
}
