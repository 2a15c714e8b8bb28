// Package sessions unions the per-protocol session listings of every active
// node into one queryable view.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dan246/mtx-toolkit/internal/models"
	"github.com/dan246/mtx-toolkit/internal/relay"
	"github.com/dan246/mtx-toolkit/internal/repository"
)

// NodeAPI is the slice of the relay API the aggregator consumes.
type NodeAPI interface {
	ListSessions(ctx context.Context, protocol models.Protocol) ([]relay.Session, error)
	KickSession(ctx context.Context, protocol models.Protocol, id string) error
}

// ClientFactory returns the relay API client for one node.
type ClientFactory func(node *models.Node) NodeAPI

// Session is one client connection, normalized across nodes and protocols.
type Session struct {
	ID            string          `json:"id"`
	Node          string          `json:"node"`
	NodeID        models.ULID     `json:"node_id"`
	Protocol      models.Protocol `json:"protocol"`
	Path          string          `json:"path"`
	State         string          `json:"state"`
	RemoteAddr    string          `json:"remote_addr"`
	ClientIP      string          `json:"client_ip"`
	ClientPort    int             `json:"client_port"`
	Created       *time.Time      `json:"created,omitempty"`
	DurationS     float64         `json:"duration_s"`
	BytesReceived int64           `json:"bytes_rx"`
	BytesSent     int64           `json:"bytes_tx"`
	Transport     string          `json:"transport,omitempty"`
}

// Viewer reports whether the session is consuming media.
func (s *Session) Viewer() bool {
	return s.State == "read"
}

// Filter narrows a session listing.
type Filter struct {
	Node        string
	Protocol    models.Protocol
	Path        string
	ViewersOnly bool
	Offset      int
	Limit       int
}

// ListResult is one page of the aggregated session view.
type ListResult struct {
	Sessions []Session `json:"sessions"`
	Total    int       `json:"total"`
	// NodeErrors counts nodes that could not be listed; their sessions are
	// simply absent from this page.
	NodeErrors int `json:"node_errors,omitempty"`
}

// Summary aggregates session counts across the fleet.
type Summary struct {
	Total        int                     `json:"total"`
	TotalViewers int                     `json:"total_viewers"`
	ByProtocol   map[models.Protocol]int `json:"by_protocol"`
	ByNode       map[string]int          `json:"by_node"`
	ByPath       map[string]int          `json:"by_path"`
}

// Aggregator lists and kicks sessions across all active nodes.
type Aggregator struct {
	store   *repository.Store
	clients ClientFactory
	logger  *slog.Logger

	now func() time.Time
}

// NewAggregator creates a session aggregator.
func NewAggregator(store *repository.Store, clients ClientFactory, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		store:   store,
		clients: clients,
		logger:  logger,
		now:     time.Now,
	}
}

// List fans out over every active node and protocol in parallel and returns
// one sorted, paginated page. A node that cannot be reached drops out of the
// view rather than failing the listing.
func (a *Aggregator) List(ctx context.Context, filter Filter) (*ListResult, error) {
	nodes, err := a.store.Nodes.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}

	all, nodeErrors := a.collect(ctx, nodes, filter)

	filtered := all[:0]
	for _, s := range all {
		if filter.Path != "" && s.Path != filter.Path {
			continue
		}
		if filter.ViewersOnly && !s.Viewer() {
			continue
		}
		filtered = append(filtered, s)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		ci, cj := filtered[i].Created, filtered[j].Created
		switch {
		case ci == nil:
			return false
		case cj == nil:
			return true
		default:
			return ci.After(*cj)
		}
	})

	result := &ListResult{Total: len(filtered), NodeErrors: nodeErrors}
	result.Sessions = paginate(filtered, filter.Offset, filter.Limit)
	return result, nil
}

// Summarize computes fleet-wide session counts.
func (a *Aggregator) Summarize(ctx context.Context) (*Summary, error) {
	nodes, err := a.store.Nodes.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}

	all, _ := a.collect(ctx, nodes, Filter{})

	summary := &Summary{
		Total:      len(all),
		ByProtocol: map[models.Protocol]int{},
		ByNode:     map[string]int{},
		ByPath:     map[string]int{},
	}
	for _, s := range all {
		summary.ByProtocol[s.Protocol]++
		summary.ByNode[s.Node]++
		if s.Path != "" {
			summary.ByPath[s.Path]++
		}
		if s.Viewer() {
			summary.TotalViewers++
		}
	}
	return summary, nil
}

// Kick disconnects one session on one node, best-effort at the relay.
func (a *Aggregator) Kick(ctx context.Context, nodeID models.ULID, protocol models.Protocol, sessionID string) error {
	node, err := a.store.Nodes.GetByID(ctx, nodeID)
	if err != nil {
		return err
	}
	if node == nil {
		return models.ErrNodeNotFound
	}
	if _, ok := relay.SessionEndpoint(protocol); !ok {
		return fmt.Errorf("protocol %s has no kickable sessions", protocol)
	}

	if err := a.clients(node).KickSession(ctx, protocol, sessionID); err != nil {
		return fmt.Errorf("kicking session %s on %s: %w", sessionID, node.Name, err)
	}
	a.logger.Info("session kicked",
		slog.String("node", node.Name),
		slog.String("protocol", string(protocol)),
		slog.String("session_id", sessionID),
	)
	return nil
}

// collect queries every (node, protocol) pair concurrently. The node and
// protocol filters prune the fan-out itself.
func (a *Aggregator) collect(ctx context.Context, nodes []*models.Node, filter Filter) ([]Session, int) {
	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		all        []Session
		nodeErrors int
	)
	now := a.now()

	for _, node := range nodes {
		if filter.Node != "" && node.Name != filter.Node {
			continue
		}
		api := a.clients(node)

		for _, protocol := range models.SessionProtocols {
			if filter.Protocol != "" && protocol != filter.Protocol {
				continue
			}

			wg.Add(1)
			go func(node *models.Node, protocol models.Protocol) {
				defer wg.Done()

				raw, err := api.ListSessions(ctx, protocol)
				if err != nil {
					if errors.Is(err, relay.ErrProtocolDisabled) {
						return
					}
					a.logger.Warn("session listing failed",
						slog.String("node", node.Name),
						slog.String("protocol", string(protocol)),
						slog.String("error", err.Error()),
					)
					mu.Lock()
					nodeErrors++
					mu.Unlock()
					return
				}

				normalized := make([]Session, 0, len(raw))
				for _, r := range raw {
					normalized = append(normalized, normalize(node, protocol, r, now))
				}
				mu.Lock()
				all = append(all, normalized...)
				mu.Unlock()
			}(node, protocol)
		}
	}

	wg.Wait()
	return all, nodeErrors
}

func normalize(node *models.Node, protocol models.Protocol, r relay.Session, now time.Time) Session {
	ip, port := parseAddr(r.RemoteAddr)
	s := Session{
		ID:            r.ID,
		Node:          node.Name,
		NodeID:        node.ID,
		Protocol:      protocol,
		Path:          r.Path,
		State:         r.State,
		RemoteAddr:    r.RemoteAddr,
		ClientIP:      ip,
		ClientPort:    port,
		Created:       r.Created,
		BytesReceived: r.BytesReceived,
		BytesSent:     r.BytesSent,
		Transport:     r.Transport,
	}
	if r.Created != nil {
		s.DurationS = now.Sub(*r.Created).Seconds()
	}
	return s
}

// parseAddr splits "host:port" and "[ipv6]:port" remote addresses. Anything
// unsplittable is kept whole as the IP with port zero.
func parseAddr(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = 0
	}
	return host, port
}

func paginate(sessions []Session, offset, limit int) []Session {
	if offset >= len(sessions) {
		return []Session{}
	}
	sessions = sessions[offset:]
	if limit > 0 && limit < len(sessions) {
		sessions = sessions[:limit]
	}
	return sessions
}
