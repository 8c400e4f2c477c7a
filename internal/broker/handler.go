package broker

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dlog/internal/cluster"
	"dlog/internal/errs"
	"dlog/internal/protocol"
	"dlog/internal/record"
)

const (
	produceResponseBodySize = 8  // offset
	consumeTrailerSize      = 12 // offset(8) + max_bytes(4)
)

func (b *Broker) handleRequest(req *protocol.Request) ([]byte, error) {
	switch req.Header.ApiKey {
	case protocol.ApiKeyProduce:
		return b.handleProduce(req)
	case protocol.ApiKeyConsume:
		return b.handleConsume(req)
	case protocol.ApiKeyCreateLog:
		return b.handleCreateLog(req)
	case protocol.ApiKeyDeleteLog:
		return b.handleDeleteLog(req)
	case protocol.ApiKeyListLogs:
		return b.handleListLogs(req)
	default:
		return nil, fmt.Errorf("unknown api key: %d", req.Header.ApiKey)
	}
}

func (b *Broker) handleProduce(req *protocol.Request) ([]byte, error) {
	reqID := uuid.New()

	addr, n, err := protocol.DecodeTopicAddress(req.Body)
	if err != nil {
		return nil, err
	}
	if len(req.Body) < n+1 {
		return nil, fmt.Errorf("invalid produce body size")
	}
	acks := protocol.Acks(req.Body[n])
	batchBytes := req.Body[n+1:]

	if !b.isLeaderFor(addr.Partition) {
		return nil, errs.NotLeader(b.leaderHint(addr.Partition))
	}

	engine, err := b.engineFor(addr)
	if err != nil {
		return nil, err
	}

	wireBatch, err := record.DecodeBatch(batchBytes)
	if err != nil {
		return nil, errs.Wrap(errs.KindSerialization, "decode produce batch", err)
	}
	records, err := wireBatch.Records()
	if err != nil {
		return nil, errs.Wrap(errs.KindSerialization, "decode produce records", err)
	}

	currentEpoch := b.currentEpochFor(addr.Partition, engine)
	if !b.sequencer.CanWrite(addr.Partition, currentEpoch) {
		return nil, errs.New(errs.KindNotLeader, "partition epoch is sealed, no longer writable on this node")
	}

	offset, err := engine.AppendBatch(records, uint64(currentEpoch), record.CompressionNone)
	if err != nil {
		return nil, err
	}
	lastOffset := offset + uint64(len(records)) - 1

	b.replication.UpdateProgress(b.Config.DLog.Node.NodeID, offset)

	switch acks {
	case protocol.AcksLeader:
		if err := engine.Flush(); err != nil {
			return nil, err
		}
	case protocol.AcksAll:
		if err := engine.Flush(); err != nil {
			return nil, err
		}
		if err := b.replication.Replicate(context.Background(), addr.Partition, batchBytes, lastOffset); err != nil {
			return nil, err
		}
	}

	b.logger.Debug("produce",
		zap.String("request_id", reqID.String()),
		zap.String("log", addr.Log.String()),
		zap.Uint32("partition", uint32(addr.Partition)),
		zap.Uint64("offset", offset),
		zap.Int("records", len(records)),
		zap.Uint8("acks", uint8(acks)),
	)

	resp := make([]byte, produceResponseBodySize)
	binary.BigEndian.PutUint64(resp, offset)
	return resp, nil
}

func (b *Broker) handleConsume(req *protocol.Request) ([]byte, error) {
	reqID := uuid.New()

	addr, n, err := protocol.DecodeTopicAddress(req.Body)
	if err != nil {
		return nil, err
	}

	if len(req.Body) < n+consumeTrailerSize {
		return nil, fmt.Errorf("invalid consume body size")
	}
	fetchOffset := binary.BigEndian.Uint64(req.Body[n : n+8])
	maxBytes := binary.BigEndian.Uint32(req.Body[n+8 : n+12])

	engine, err := b.engineFor(addr)
	if err != nil {
		return nil, err
	}

	data, err := engine.ReadFrom(fetchOffset, int(maxBytes))
	if err != nil {
		if errs.Is(err, errs.KindInvalidOffset) {
			return []byte{}, nil
		}
		return nil, err
	}

	b.logger.Debug("consume",
		zap.String("request_id", reqID.String()),
		zap.String("log", addr.Log.String()),
		zap.Uint32("partition", uint32(addr.Partition)),
		zap.Uint64("from_offset", fetchOffset),
	)
	return data, nil
}

type createLogRequest struct {
	Namespace         string
	Name              string
	PartitionCount    uint32
	ReplicationFactor uint32
}

func (b *Broker) handleCreateLog(req *protocol.Request) ([]byte, error) {
	var cr createLogRequest
	if err := json.Unmarshal(req.Body, &cr); err != nil {
		return nil, errs.Wrap(errs.KindInvalidRequest, "decode create_log request", err)
	}

	meta := cluster.LogMetadata{
		ID:                record.LogID{Namespace: cr.Namespace, Name: cr.Name},
		PartitionCount:    cr.PartitionCount,
		ReplicationFactor: cr.ReplicationFactor,
		Config:            cluster.DefaultLogConfig(),
	}
	if err := b.cluster.CreateLog(meta); err != nil {
		return nil, err
	}
	return nil, nil
}

type deleteLogRequest struct {
	Namespace string
	Name      string
}

func (b *Broker) handleDeleteLog(req *protocol.Request) ([]byte, error) {
	var dr deleteLogRequest
	if err := json.Unmarshal(req.Body, &dr); err != nil {
		return nil, errs.Wrap(errs.KindInvalidRequest, "decode delete_log request", err)
	}
	if err := b.cluster.DeleteLog(record.LogID{Namespace: dr.Namespace, Name: dr.Name}); err != nil {
		return nil, err
	}
	return nil, nil
}

func (b *Broker) handleListLogs(req *protocol.Request) ([]byte, error) {
	ids := b.cluster.ListLogs()
	out := make([]deleteLogRequest, len(ids))
	for i, id := range ids {
		out[i] = deleteLogRequest{Namespace: id.Namespace, Name: id.Name}
	}
	return json.Marshal(out)
}
