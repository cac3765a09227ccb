// Package rpc provides Unix socket IPC so an out-of-process transport can
// publish results onto the bus and inspect the fleet.
package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	netrpc "net/rpc"
	"net/rpc/jsonrpc"
	"os"

	"github.com/rs/zerolog"

	"autofleet/internal/bus"
	"autofleet/internal/dispatcher"
	"autofleet/internal/fleet"
	"autofleet/internal/node"
)

// Service is the RPC service exposed by the run command.
type Service struct {
	channel  string
	queues   map[string]*bus.Queue
	fleet    *fleet.Context
	registry *node.Registry
	monitor  *dispatcher.MonitorRouter
	log      zerolog.Logger
}

// NewService returns a service publishing onto q by default and serving the
// nodes of ctx.
func NewService(q *bus.Queue, ctx *fleet.Context, r *node.Registry, log zerolog.Logger) *Service {
	return &Service{
		channel:  q.Channel(),
		queues:   map[string]*bus.Queue{q.Channel(): q},
		fleet:    ctx,
		registry: r,
		log:      log,
	}
}

// AddChannel makes q publishable by name. Call before StartServer.
func (s *Service) AddChannel(q *bus.Queue) {
	s.queues[q.Channel()] = q
}

// SetMonitor exposes the watches of m through Watches. Call before StartServer.
func (s *Service) SetMonitor(m *dispatcher.MonitorRouter) {
	s.monitor = m
}

// NodeSnapshot is the wire view of one node.
type NodeSnapshot struct {
	Address    string         `json:"address"`
	Connection string         `json:"connection"`
	User       string         `json:"user"`
	Group      string         `json:"group,omitempty"`
	Class      string         `json:"class"`
	Family     string         `json:"family,omitempty"`
	State      string         `json:"state"`
	Facts      map[string]any `json:"facts,omitempty"`
}

// PublishArgs is the request for Publish. An empty Channel is the default one.
type PublishArgs struct {
	Channel string
	Payload string
}

// PublishReply is the response for Publish.
type PublishReply struct {
	Seq uint64
}

// ListNodesArgs is the request for ListNodes. An empty Group lists all nodes.
type ListNodesArgs struct {
	Group string
}

// ListNodesReply is the response for ListNodes.
type ListNodesReply struct {
	Nodes []NodeSnapshot
}

// Watch is one monitored rule.
type Watch struct {
	Host  string `json:"host"`
	Rule  string `json:"rule"`
	Delay string `json:"delay"`
}

// WatchesArgs is the request for Watches.
type WatchesArgs struct{}

// WatchesReply is the response for Watches.
type WatchesReply struct {
	Watches []Watch
}

// PromoteArgs is the request for Promote.
type PromoteArgs struct{}

// PromoteReply is the response for Promote.
type PromoteReply struct {
	Changed int
}

// Publish validates a result payload and appends it to the bus.
func (s *Service) Publish(args *PublishArgs, reply *PublishReply) error {
	channel := args.Channel
	if channel == "" {
		channel = s.channel
	}
	q, ok := s.queues[channel]
	if !ok {
		return fmt.Errorf("channel %q not served", channel)
	}
	if _, err := dispatcher.Decode([]byte(args.Payload)); err != nil {
		return err
	}
	seq, err := q.Publish(args.Payload)
	if err != nil {
		return fmt.Errorf("publishing payload: %w", err)
	}
	reply.Seq = seq
	s.log.Debug().Str("channel", channel).Uint64("seq", seq).Int("bytes", len(args.Payload)).Msg("Payload published")
	return nil
}

// Watches lists the rules registered on the monitor channel.
func (s *Service) Watches(args *WatchesArgs, reply *WatchesReply) error {
	if s.monitor == nil {
		return errors.New("monitor not enabled")
	}
	for _, h := range s.monitor.Hosts() {
		for _, rule := range s.monitor.Rules(h) {
			d, _ := s.monitor.Delay(h, rule)
			reply.Watches = append(reply.Watches, Watch{Host: h, Rule: rule, Delay: d.String()})
		}
	}
	return nil
}

// ListNodes returns snapshots of the requested group, or of every node.
func (s *Service) ListNodes(args *ListNodesArgs, reply *ListNodesReply) error {
	nodes := s.fleet.All()
	if args.Group != "" {
		g, ok := s.fleet.Get(args.Group)
		if !ok {
			return fmt.Errorf("group %q not found", args.Group)
		}
		nodes = g
	}
	reply.Nodes = make([]NodeSnapshot, 0, nodes.Len())
	for _, n := range nodes.Items() {
		reply.Nodes = append(reply.Nodes, Snapshot(n))
	}
	return nil
}

// Promote runs a promotion pass over the fleet.
func (s *Service) Promote(args *PromoteArgs, reply *PromoteReply) error {
	reply.Changed = s.fleet.PromoteAll(s.registry)
	s.log.Info().Int("changed", reply.Changed).Msg("Promotion pass complete")
	return nil
}

// Snapshot copies the wire view of n.
func Snapshot(n node.Node) NodeSnapshot {
	return NodeSnapshot{
		Address:    n.Address(),
		Connection: n.Connection(),
		User:       n.User(),
		Group:      n.Group(),
		Class:      n.Class(),
		Family:     n.Family(),
		State:      n.State().String(),
		Facts:      n.Facts(),
	}
}

// StartServer starts the Unix socket RPC server. Closing the returned
// listener stops it.
func StartServer(socketPath string, svc *Service, log zerolog.Logger) (net.Listener, error) {
	server := netrpc.NewServer()
	if err := server.Register(svc); err != nil {
		return nil, fmt.Errorf("registering RPC service: %w", err)
	}

	// Remove existing socket file if present
	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", socketPath, err)
	}

	// Set socket permissions
	if err := os.Chmod(socketPath, 0660); err != nil {
		log.Warn().Err(err).Msg("Failed to set socket permissions")
	}

	log.Info().Str("socket", socketPath).Msg("RPC server started")

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				log.Error().Err(err).Msg("RPC accept error")
				continue
			}
			go server.ServeCodec(jsonrpc.NewServerCodec(conn))
		}
	}()

	return listener, nil
}

// Client is a client for the autofleet RPC service.
type Client struct {
	client *netrpc.Client
}

// NewClient dials the Unix socket and returns an RPC client.
func NewClient(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to RPC socket %s: %w", socketPath, err)
	}
	return &Client{client: jsonrpc.NewClient(conn)}, nil
}

// Close closes the RPC client connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Publish sends a raw payload to channel and returns its bus sequence. An
// empty channel is the server's default.
func (c *Client) Publish(channel string, payload []byte) (uint64, error) {
	args := &PublishArgs{Channel: channel, Payload: string(payload)}
	reply := &PublishReply{}
	if err := c.client.Call("Service.Publish", args, reply); err != nil {
		return 0, err
	}
	return reply.Seq, nil
}

// Put publishes item on the default channel. Strings and byte slices are sent
// as-is; anything else is JSON-encoded.
func (c *Client) Put(item any) error {
	var data []byte
	switch v := item.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		encoded, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("encoding item: %w", err)
		}
		data = encoded
	}
	_, err := c.Publish("", data)
	return err
}

// Watches fetches the monitored rules from the server.
func (c *Client) Watches() ([]Watch, error) {
	reply := &WatchesReply{}
	if err := c.client.Call("Service.Watches", &WatchesArgs{}, reply); err != nil {
		return nil, err
	}
	return reply.Watches, nil
}

// ListNodes fetches node snapshots from the server.
func (c *Client) ListNodes(group string) ([]NodeSnapshot, error) {
	args := &ListNodesArgs{Group: group}
	reply := &ListNodesReply{}
	if err := c.client.Call("Service.ListNodes", args, reply); err != nil {
		return nil, err
	}
	return reply.Nodes, nil
}

// Promote asks the server to run a promotion pass.
func (c *Client) Promote() (int, error) {
	reply := &PromoteReply{}
	if err := c.client.Call("Service.Promote", &PromoteArgs{}, reply); err != nil {
		return 0, err
	}
	return reply.Changed, nil
}
