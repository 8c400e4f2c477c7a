package broker

import (
	"io"
	"net"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dlog/internal/cluster"
	"dlog/internal/epoch"
	"dlog/internal/errs"
	"dlog/internal/protocol"
	"dlog/internal/raft"
	"dlog/internal/record"
	"dlog/internal/replication"
	"dlog/internal/retention"
	"dlog/internal/storage"
)

type engineKey struct {
	namespace string
	name      string
	partition uint32
}

// Broker is one node's network-facing front end: it owns every partition's
// storage engine on this node, the node's metadata registry, and the
// replication manager that pushes produced batches to a partition's other
// replicas.
type Broker struct {
	Config Config
	logger *zap.Logger

	mu      sync.RWMutex
	engines map[engineKey]*storage.Engine

	segmentCache *storage.SegmentCache
	cluster      *cluster.Manager
	replication  *replication.Manager
	raftNode     *raft.Node
	retention    *retention.RetentionCleaner
	sequencer    *epoch.Sequencer

	quit chan struct{}
	wg   sync.WaitGroup
}

func NewBroker(cfg Config, logger *zap.Logger) (*Broker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	raftLog, err := raft.OpenRaftLog(filepath.Join(cfg.DLog.Node.DataDir, "raft-state.json"))
	if err != nil {
		return nil, errs.Wrap(errs.KindStorage, "open raft log", err)
	}

	peers := make([]uint64, 0, len(cfg.DLog.Node.ClusterNodes))
	for _, id := range cfg.DLog.Node.ClusterNodes {
		if id != cfg.DLog.Node.NodeID {
			peers = append(peers, id)
		}
	}

	raftCfg := raft.DefaultConfig(cfg.DLog.Node.NodeID, peers)
	raftNode, err := raft.NewNode(raftCfg, raftLog, noopTransport{}, logger)
	if err != nil {
		return nil, errs.Wrap(errs.KindConsensus, "start raft node", err)
	}

	var uploader retention.TieredUploader
	if cfg.DLog.Retention.ArchiveDir != "" {
		uploader = retention.NewLocalUploader(cfg.DLog.Retention.ArchiveDir)
	}

	b := &Broker{
		Config:       cfg,
		logger:       logger,
		engines:      make(map[engineKey]*storage.Engine),
		segmentCache: storage.NewSegmentCache(cfg.DLog.Storage.CacheCapacity),
		cluster:      cluster.NewManager(cfg.DLog.Node.NodeID, raftNode),
		replication:  replication.NewManager(cfg.DLog.Replication, cfg.DLog.Node.ClusterNodes, noopReplicationTransport{}),
		raftNode:     raftNode,
		retention: retention.NewRetentionCleaner(retention.CleanerConfig{
			RetentionCheckIntervalMs: cfg.DLog.Retention.CheckIntervalMs,
		}, uploader, logger),
		sequencer: epoch.NewSequencer(cfg.DLog.Node.NodeID),
		quit:      make(chan struct{}),
	}
	return b, nil
}

func (b *Broker) Start() error {
	b.raftNode.Start()
	b.retention.Start()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.cluster.RunApplyLoop(b.quit, 50*time.Millisecond)
	}()

	ln, err := net.Listen("tcp", b.Config.DLog.Network.ListenAddress)
	if err != nil {
		return err
	}

	b.logger.Info("listening", zap.String("address", b.Config.DLog.Network.ListenAddress))

	go func() {
		<-b.quit
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-b.quit:
				return nil
			default:
				b.logger.Warn("accept error", zap.Error(err))
				continue
			}
		}

		b.wg.Add(1)
		go b.handleConnection(conn)
	}
}

func (b *Broker) Stop() {
	close(b.quit)
	b.raftNode.Stop()
	b.retention.Stop()
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()

	var g errgroup.Group
	for _, e := range b.engines {
		e := e
		g.Go(e.Close)
	}
	if err := g.Wait(); err != nil {
		b.logger.Warn("error closing engines", zap.Error(err))
	}
	_ = b.segmentCache.Close()
}

func (b *Broker) handleConnection(conn net.Conn) {
	defer func() {
		conn.Close()
		b.wg.Done()
	}()

	for {
		req, err := protocol.ReadRequest(conn)
		if err != nil {
			if err != io.EOF {
				b.logger.Debug("connection closed", zap.Error(err))
			}
			return
		}

		err = func() error {
			defer req.Release()

			respBody, handleErr := b.handleRequest(req)
			if handleErr != nil {
				b.logger.Warn("handler error", zap.Error(handleErr))
				return handleErr
			}
			return protocol.SendResponse(conn, req.Header.CorrelationID, respBody)
		}()
		if err != nil {
			return
		}
	}
}

// engineFor returns the storage engine for a log partition, opening it on
// first use.
func (b *Broker) engineFor(addr protocol.TopicAddress) (*storage.Engine, error) {
	key := engineKey{namespace: addr.Log.Namespace, name: addr.Log.Name, partition: uint32(addr.Partition)}

	b.mu.RLock()
	e, ok := b.engines[key]
	b.mu.RUnlock()
	if ok {
		return e, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.engines[key]; ok {
		return e, nil
	}

	dir := filepath.Join(b.Config.DLog.Node.DataDir, addr.Log.Namespace, addr.Log.Name)
	e, err := storage.Open(dir, addr.Log.Name, uint32(addr.Partition), b.Config.DLog.Storage, b.segmentCache, b.logger)
	if err != nil {
		return nil, err
	}
	b.engines[key] = e
	b.retention.Register(e)
	return e, nil
}

func (b *Broker) isLeaderFor(partition record.PartitionID) bool {
	if !b.cluster.IsPartitionLeader(partition) {
		nodes, ok := b.cluster.PartitionNodes(partition)
		if !ok || len(nodes) == 0 {
			// No assignment recorded yet (e.g. a fresh single-node
			// deployment bootstrapping its first log): this node is the
			// only candidate, so it may as well lead.
			return len(b.Config.DLog.Node.ClusterNodes) == 1
		}
		return false
	}
	return true
}

// currentEpochFor returns this node's current epoch for partition, activating
// one against the partition's recovered high watermark the first time this
// node produces to it. A production deployment would instead activate on a
// Raft leadership change; lazily activating on first write is equivalent
// for a node that only ever produces while it already holds leadership.
func (b *Broker) currentEpochFor(partition record.PartitionID, engine *storage.Engine) epoch.Epoch {
	if e, ok := b.sequencer.CurrentEpoch(partition); ok {
		return e
	}
	return b.sequencer.Activate(partition, engine.HighWatermark())
}

func (b *Broker) leaderHint(partition record.PartitionID) *uint64 {
	nodes, ok := b.cluster.PartitionNodes(partition)
	if !ok || len(nodes) == 0 {
		return nil
	}
	leader := nodes[0]
	return &leader
}
