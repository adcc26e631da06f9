package raftfsm

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/raftsession/pkg/events"
	"github.com/cuemby/raftsession/pkg/log"
	"github.com/cuemby/raftsession/pkg/session"
	"github.com/cuemby/raftsession/pkg/storage"
	"github.com/cuemby/raftsession/pkg/transport"
	"github.com/cuemby/raftsession/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// metadataKeyClusterID is the raft_metadata key node identity is persisted
// under, so a restarted process can tell it already belongs to a cluster.
const metadataKeyClusterID = "cluster_id"

// Node hosts one replica of the session state machine: a Raft instance, its
// FSM, the session registry and executor the FSM dispatches onto, the
// BoltDB store both are backed by, and the transport server/registry used
// for event delivery.
type Node struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft *raft.Raft
	fsm  *FSM

	store    storage.Store
	sessions *session.Manager
	executor *session.Executor

	eventBroker *events.Broker

	transportServer *transport.Server
	connections     *transport.Registry
}

// Config holds the configuration needed to create a Node.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string

	// TransportAddr is where this node's transport.Server listens for
	// inbound publish RPCs, typically bindAddr's host with a different
	// port. Defaults to BindAddr if empty.
	TransportAddr string

	// CommandExecutor supplies the business-logic behavior for
	// OpSubmitCommand entries; nil echoes input back (see FSM doc).
	CommandExecutor CommandExecutor

	// QueryExecutor supplies the read-only behavior for deferred queries
	// submitted via Node.Query; nil echoes input back (see FSM doc).
	QueryExecutor QueryExecutor

	// ExecutorQueueDepth sizes the session executor's task queue.
	ExecutorQueueDepth int
}

// NewNode creates a Node instance: opens the BoltDB store, builds the
// session registry, executor, FSM, transport server, and starts the local
// event broker. It does not start Raft itself; call Bootstrap or Join.
func NewNode(cfg *Config) (*Node, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	queueDepth := cfg.ExecutorQueueDepth
	if queueDepth <= 0 {
		queueDepth = 256
	}
	executor := session.NewExecutor(queueDepth)
	sessions := session.NewManager(executor)

	connections := transport.NewRegistry()
	transportServer := transport.NewServer()

	eventBroker := events.NewBroker()
	eventBroker.Start()

	n := &Node{
		nodeID:          cfg.NodeID,
		bindAddr:        cfg.BindAddr,
		dataDir:         cfg.DataDir,
		store:           store,
		sessions:        sessions,
		executor:        executor,
		eventBroker:     eventBroker,
		transportServer: transportServer,
		connections:     connections,
	}

	n.fsm = NewFSM(store, sessions, executor, connections, n.IsLeader, cfg.CommandExecutor, cfg.QueryExecutor)
	n.fsm.SetEventBroker(eventBroker)

	transportAddr := cfg.TransportAddr
	if transportAddr == "" {
		transportAddr = cfg.BindAddr
	}
	go func() {
		if err := transportServer.Serve(transportAddr); err != nil {
			eventBroker.Publish(&events.Event{
				Type:    events.EventTransportDialFailed,
				Message: err.Error(),
			})
		}
	}()

	return n, nil
}

func raftConfig(nodeID string) *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(nodeID)

	// Tuned for LAN/edge deployments, not hashicorp's WAN-conservative
	// defaults: target sub-10s failover.
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond
	return config
}

func (n *Node) newRaft() (*raft.Raft, *raft.NetworkTransport, error) {
	config := raftConfig(n.nodeID)

	addr, err := net.ResolveTCPAddr("tcp", n.bindAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve bind address: %w", err)
	}

	raftTransport, err := raft.NewTCPTransport(n.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create raft transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(n.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(n.dataDir, "raft-log.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(n.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stable store: %w", err)
	}

	r, err := raft.NewRaft(config, n.fsm, logStore, stableStore, snapshotStore, raftTransport)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create raft: %w", err)
	}
	go n.watchLeadership(r.LeaderCh())
	return r, raftTransport, nil
}

// watchLeadership republishes hashicorp/raft's own leadership-change
// notifications onto the local operability bus, so an admin watcher
// doesn't need a direct handle on *raft.Raft.
func (n *Node) watchLeadership(ch <-chan bool) {
	for acquired := range ch {
		if acquired {
			n.eventBroker.Publish(&events.Event{Type: events.EventLeaderAcquired, Message: n.nodeID})
		} else {
			n.eventBroker.Publish(&events.Event{Type: events.EventLeaderLost, Message: n.nodeID})
		}
	}
}

// Bootstrap initializes a new single-node Raft cluster with this node as
// its only member.
func (n *Node) Bootstrap() error {
	r, raftTransport, err := n.newRaft()
	if err != nil {
		return err
	}
	n.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(n.nodeID), Address: raftTransport.LocalAddr()},
		},
	}
	future := n.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %w", err)
	}

	if err := n.store.SaveRaftMetadata(metadataKeyClusterID, []byte(n.nodeID)); err != nil {
		return fmt.Errorf("failed to persist cluster metadata: %w", err)
	}
	return nil
}

// Join starts this node's Raft instance expecting the cluster leader to
// add it as a voter out of band (by calling AddVoter on the leader). It
// returns once Raft is started, without waiting; the new configuration
// arrives later through the log.
func (n *Node) Join() error {
	r, _, err := n.newRaft()
	if err != nil {
		return err
	}
	n.raft = r
	return nil
}

// AddVoter adds a new node to the Raft cluster. Must be called on the
// leader.
func (n *Node) AddVoter(nodeID, address string) error {
	if n.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !n.IsLeader() {
		return fmt.Errorf("not the leader, current leader: %s", n.LeaderAddr())
	}
	future := n.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to add voter: %w", err)
	}
	return nil
}

// RemoveServer removes a server from the Raft cluster. Must be called on
// the leader.
func (n *Node) RemoveServer(nodeID string) error {
	if n.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !n.IsLeader() {
		return fmt.Errorf("not the leader")
	}
	future := n.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to remove server: %w", err)
	}
	return nil
}

// GetClusterServers returns the Raft cluster's current configuration.
func (n *Node) GetClusterServers() ([]raft.Server, error) {
	if n.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}
	future := n.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}
	return future.Configuration().Servers, nil
}

// IsLeader reports whether this node currently holds Raft leadership; it
// is also the FSM's proxy for a command's synchronous apply path (see
// NewFSM).
func (n *Node) IsLeader() bool {
	return n.raft != nil && n.raft.State() == raft.Leader
}

// LeaderAddr returns the current Raft leader's address.
func (n *Node) LeaderAddr() string {
	if n.raft == nil {
		return ""
	}
	return string(n.raft.Leader())
}

// GetRaftStats returns a snapshot of Raft's internal counters.
func (n *Node) GetRaftStats() map[string]interface{} {
	if n.raft == nil {
		return nil
	}

	stats := map[string]interface{}{
		"state":          n.raft.State().String(),
		"last_log_index": n.raft.LastIndex(),
		"applied_index":  n.raft.AppliedIndex(),
		"leader":         string(n.raft.Leader()),
	}

	if cfgFuture := n.raft.GetConfiguration(); cfgFuture.Error() == nil {
		stats["peers"] = uint64(len(cfgFuture.Configuration().Servers))
	} else {
		stats["peers"] = uint64(0)
	}
	return stats
}

// Sessions returns the node's session registry, for admin/inspection use.
func (n *Node) Sessions() *session.Manager { return n.sessions }

// SessionView returns a live snapshot of a session's registration-half
// state, in the same shape persisted to storage, for admin inspection.
func (n *Node) SessionView(id session.ID) (*storage.SessionRecord, bool) {
	sess, ok := n.sessions.Get(id)
	if !ok {
		return nil, false
	}
	return toRecord(sess), true
}

// SessionViews returns a live snapshot of every registered session.
func (n *Node) SessionViews() []*storage.SessionRecord {
	views := make([]*storage.SessionRecord, 0, n.sessions.Len())
	n.sessions.Each(func(s *session.Session) {
		views = append(views, toRecord(s))
	})
	return views
}

// EventBroker returns the node's local operability event broker.
func (n *Node) EventBroker() *events.Broker { return n.eventBroker }

// Apply submits cmd to the Raft log and waits for it to be committed and
// applied, returning the FSM's Apply response.
func (n *Node) Apply(cmd types.Command) (interface{}, error) {
	if n.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %w", err)
	}

	future := n.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("failed to apply command: %w", err)
	}

	resp := future.Response()
	if err, ok := resp.(error); ok && err != nil {
		return nil, err
	}
	return resp, nil
}

// RegisterClient applies an OpRegisterClient command and returns the new
// session's ID (the Raft log index it was applied at).
func (n *Node) RegisterClient(timeout time.Duration, address string) (session.ID, error) {
	data, err := json.Marshal(types.RegisterClientPayload{
		TimeoutMillis: timeout.Milliseconds(),
		Address:       address,
	})
	if err != nil {
		return 0, err
	}
	resp, err := n.Apply(types.Command{Op: types.OpRegisterClient, Data: data})
	if err != nil {
		return 0, err
	}
	id, _ := resp.(uint64)
	return session.ID(id), nil
}

// KeepAlive applies an OpKeepAlive command for sessionID.
func (n *Node) KeepAlive(sessionID uint64, commandSequence uint64) error {
	data, err := json.Marshal(types.KeepAlivePayload{SessionID: sessionID, CommandSequence: commandSequence})
	if err != nil {
		return err
	}
	_, err = n.Apply(types.Command{Op: types.OpKeepAlive, Data: data})
	return err
}

// SubmitCommand applies an OpSubmitCommand command for sessionID/sequence.
func (n *Node) SubmitCommand(sessionID, sequence uint64, consistency types.Consistency, operation string, input []byte) (interface{}, error) {
	data, err := json.Marshal(types.SubmitCommandPayload{
		SessionID:   sessionID,
		Sequence:    sequence,
		Consistency: consistency,
		Operation:   operation,
		Input:       input,
	})
	if err != nil {
		return nil, err
	}
	return n.Apply(types.Command{Op: types.OpSubmitCommand, Data: data})
}

// Query runs a read-only operation against sessionID's already-replicated
// state, deferred until its command_sequence or last_applied reaches
// gate.Value. See FSM.Query for why this bypasses the Raft log entirely.
func (n *Node) Query(sessionID uint64, gate QueryGate, operation string, input []byte) ([]byte, error) {
	return n.fsm.Query(sessionID, gate, operation, input)
}

// Unregister applies an OpUnregister command for sessionID.
func (n *Node) Unregister(sessionID uint64, expired bool) error {
	data, err := json.Marshal(types.UnregisterPayload{SessionID: sessionID, Expired: expired})
	if err != nil {
		return err
	}
	_, err = n.Apply(types.Command{Op: types.OpUnregister, Data: data})
	return err
}

// Connections exposes the outbound transport registry, for wiring a newly
// opened session's connection (see session.Session.SetConnection).
func (n *Node) Connections() *transport.Registry { return n.connections }

// TransportServer exposes the inbound transport server, for registering a
// session's publish handler on connect (see transport.Server.RegisterHandler).
func (n *Node) TransportServer() *transport.Server { return n.transportServer }

// ExpireStale applies an expiring OpUnregister for every session the
// registry reports as timed out. Intended to be driven by a periodic
// ticker on the leader; Apply on a non-leader node simply fails (raft has
// no local leader to route the entry through), so calling this
// unconditionally on every node is harmless.
func (n *Node) ExpireStale(now time.Time) {
	for _, s := range n.sessions.Expired(now) {
		if err := n.Unregister(uint64(s.ID()), true); err != nil {
			log.WithSessionID(uint64(s.ID())).Warn().Err(err).Msg("failed to apply expire command for stale session")
		}
	}
}

// Shutdown stops Raft, the transport server, the session executor, the
// event broker, and closes the store.
func (n *Node) Shutdown() error {
	if n.raft != nil {
		if err := n.raft.Shutdown().Error(); err != nil {
			return fmt.Errorf("failed to shutdown raft: %w", err)
		}
	}
	n.transportServer.Stop()
	n.executor.Stop()
	n.eventBroker.Stop()
	if err := n.connections.Close(); err != nil {
		return fmt.Errorf("failed to close connections: %w", err)
	}
	return n.store.Close()
}
