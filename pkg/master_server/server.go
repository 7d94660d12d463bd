// Package master_server tracks live storage nodes per group and hands out
// write assignments across them.
package master_server

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/rxanders35/fdfs/pkg/tracker"
	"github.com/rxanders35/fdfs/pkg/volume_server/wrr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// MissedHeartbeats is how many intervals a node may stay silent before it
// is dropped.
const MissedHeartbeats = 3

type node struct {
	id       uuid.UUID
	info     tracker.HeartbeatRequest
	weight   int
	lastSeen time.Time
}

func (n *node) Weight() int {
	return n.weight
}

func (n *node) serves(volume string) bool {
	for _, v := range n.info.Volumes {
		if v.Name == volume {
			return true
		}
	}
	return false
}

type group struct {
	nodes    map[uuid.UUID]*node
	selector *wrr.Interleaved[*node]
}

type ServerOption func(*GRPCServer)

func WithClock(now func() time.Time) ServerOption {
	return func(g *GRPCServer) {
		g.now = now
	}
}

type GRPCServer struct {
	port   string
	srv    *grpc.Server
	mu     sync.Mutex
	groups map[string]*group
	expiry time.Duration
	now    func() time.Time
}

func NewGRPCServer(port string, heartbeatInterval time.Duration, opts ...ServerOption) *GRPCServer {
	s := grpc.NewServer()
	g := &GRPCServer{
		port:   port,
		srv:    s,
		groups: make(map[string]*group),
		expiry: MissedHeartbeats * heartbeatInterval,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}

	tracker.RegisterTrackerServer(s, g)

	return g
}

func (g *GRPCServer) Run() error {
	listener, err := net.Listen("tcp", g.port)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", g.port, err)
	}
	return g.Serve(listener)
}

func (g *GRPCServer) Serve(l net.Listener) error {
	log.Info().Str("addr", l.Addr().String()).Msg("tracker listening")
	return g.srv.Serve(l)
}

func (g *GRPCServer) Stop() {
	g.srv.GracefulStop()
}

func (g *GRPCServer) Heartbeat(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	hb, err := tracker.HeartbeatFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	id, err := uuid.Parse(hb.NodeID)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid node id %q: %v", hb.NodeID, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// A node that moved groups leaves its old one.
	for name, grp := range g.groups {
		if _, ok := grp.nodes[id]; ok && name != hb.Group {
			delete(grp.nodes, id)
			g.rebuild(grp)
		}
	}

	grp, ok := g.groups[hb.Group]
	if !ok {
		grp = &group{nodes: make(map[uuid.UUID]*node)}
		g.groups[hb.Group] = grp
	}

	n, known := grp.nodes[id]
	weight := hb.Weight()
	changed := !known || n.weight != weight
	if !known {
		n = &node{id: id}
		grp.nodes[id] = n
		log.Info().Str("node", hb.NodeID).Str("group", hb.Group).Str("addr", hb.HTTPAddr).Msg("node joined")
	}
	n.info = hb
	n.weight = weight
	n.lastSeen = g.now()

	if changed {
		g.rebuild(grp)
	}
	return &emptypb.Empty{}, nil
}

func (g *GRPCServer) Assign(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name, err := tracker.AssignGroup(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	g.mu.Lock()
	g.pruneLocked()
	grp, ok := g.groups[name]
	if !ok || grp.selector == nil {
		g.mu.Unlock()
		return nil, status.Errorf(codes.Unavailable, "no storage nodes in group %q", name)
	}
	n, err := grp.selector.Next()
	g.mu.Unlock()
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "group %q: %v", name, err)
	}

	return tracker.Assignment{NodeID: n.id.String(), HTTPAddr: n.info.HTTPAddr}.ToStruct()
}

func (g *GRPCServer) Locate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name, volume, err := tracker.LocateTarget(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	g.mu.Lock()
	g.pruneLocked()
	var found *node
	if grp, ok := g.groups[name]; ok {
		for _, n := range sortedNodes(grp) {
			if n.serves(volume) {
				found = n
				break
			}
		}
	}
	g.mu.Unlock()

	if found == nil {
		return nil, status.Errorf(codes.NotFound, "no node in group %q serves volume %q", name, volume)
	}
	return tracker.Assignment{NodeID: found.id.String(), HTTPAddr: found.info.HTTPAddr}.ToStruct()
}

// Prune drops nodes that have missed too many heartbeats.
func (g *GRPCServer) Prune() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pruneLocked()
}

// RunPruner prunes every interval until ctx is done.
func (g *GRPCServer) RunPruner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Prune()
		}
	}
}

func (g *GRPCServer) pruneLocked() {
	cutoff := g.now().Add(-g.expiry)
	for name, grp := range g.groups {
		dropped := false
		for id, n := range grp.nodes {
			if n.lastSeen.Before(cutoff) {
				delete(grp.nodes, id)
				dropped = true
				log.Warn().Str("node", id.String()).Str("group", name).Msg("node expired")
			}
		}
		if dropped {
			g.rebuild(grp)
		}
	}
}

// rebuild replaces the group's selector. Selectors sample weights once, so
// any change to the node set or a node's weight needs a new one.
func (g *GRPCServer) rebuild(grp *group) {
	nodes := sortedNodes(grp)
	if len(nodes) == 0 {
		grp.selector = nil
		return
	}
	grp.selector = wrr.NewInterleaved(nodes)
}

func sortedNodes(grp *group) []*node {
	nodes := make([]*node, 0, len(grp.nodes))
	for _, n := range grp.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].id.String() < nodes[j].id.String()
	})
	return nodes
}
