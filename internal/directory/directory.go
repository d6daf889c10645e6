package directory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"molva/internal/models"
	"molva/internal/rest"

	"github.com/c-pro/geche"
)

type directoryAPI interface {
	ListUsers(ctx context.Context, credential string) ([]rest.UserRecord, error)
	ListGroups(ctx context.Context, credential string) ([]rest.GroupRecord, error)
}

type unreadStore interface {
	SaveUnread(peerID string, count int) error
	ListUnread() (map[string]int, error)
}

// Client maintains the merged peer collection (individual users and group
// rooms), their live presence, and per-peer unread counters. Live events
// patch the collection in place; only ListPeers refetches.
type Client struct {
	api   directoryAPI
	store unreadStore

	mu       sync.RWMutex
	peers    geche.Geche[string, models.Peer]
	unread   map[string]int
	activeID string
}

func NewClient(api directoryAPI, store unreadStore) *Client {
	return &Client{
		api:    api,
		store:  store,
		peers:  geche.NewMapCache[string, models.Peer](),
		unread: make(map[string]int),
	}
}

// ListPeers fetches individuals and groups and replaces the peer
// collection with the merged result. The requesting principal is excluded
// from the individual list. Persisted unread counters are restored
// alongside.
func (c *Client) ListPeers(ctx context.Context, principal models.Principal) ([]models.Peer, error) {
	users, err := c.api.ListUsers(ctx, principal.Credential)
	if err != nil {
		return nil, fmt.Errorf("failed to list peers: %w", err)
	}
	groups, err := c.api.ListGroups(ctx, principal.Credential)
	if err != nil {
		return nil, fmt.Errorf("failed to list peers: %w", err)
	}

	c.mu.Lock()
	c.peers = geche.NewMapCache[string, models.Peer]()
	for _, u := range users {
		if u.ID == principal.ID {
			continue
		}
		avatar := u.Avatar
		if avatar == "" {
			avatar = models.DefaultAvatarURL
		}
		c.peers.Set(u.ID, models.Peer{
			Kind:        models.PeerIndividual,
			ID:          u.ID,
			DisplayName: u.Username,
			AvatarURL:   avatar,
			Online:      u.IsActive,
		})
	}
	for _, g := range groups {
		c.peers.Set(g.ID, models.Peer{
			Kind:        models.PeerGroup,
			ID:          g.ID,
			DisplayName: g.Name,
			MemberIDs:   g.Members,
		})
	}

	if counts, err := c.store.ListUnread(); err == nil {
		c.unread = counts
	} else {
		slog.Warn("failed to restore unread counters", "error", err)
	}
	c.mu.Unlock()

	return c.Peers(), nil
}

// Peers returns the current collection sorted by display name.
func (c *Client) Peers() []models.Peer {
	c.mu.RLock()
	snapshot := c.peers.Snapshot()
	c.mu.RUnlock()

	peers := make([]models.Peer, 0, len(snapshot))
	for _, p := range snapshot {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool {
		return peers[i].DisplayName < peers[j].DisplayName
	})
	return peers
}

// Search filters the collection by a case-insensitive display-name match.
func (c *Client) Search(query string) []models.Peer {
	query = strings.ToLower(query)
	var out []models.Peer
	for _, p := range c.Peers() {
		if strings.Contains(strings.ToLower(p.DisplayName), query) {
			out = append(out, p)
		}
	}
	return out
}

func (c *Client) Peer(id string) (models.Peer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, err := c.peers.Get(id)
	return p, err == nil
}

// OnPresenceChanged patches the matching individual's presence flag in
// place; unknown ids are ignored.
func (c *Client) OnPresenceChanged(payload models.StatusUpdatedPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, err := c.peers.Get(payload.UserID)
	if err != nil || p.Kind != models.PeerIndividual {
		return
	}
	p.Online = payload.Active
	c.peers.Set(payload.UserID, p)
}

// OnRoomCreated adds a freshly created group room to the collection.
func (c *Client) OnRoomCreated(payload models.RoomCreatedPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.peers.Set(payload.RoomID, models.Peer{
		Kind:        models.PeerGroup,
		ID:          payload.RoomID,
		DisplayName: payload.RoomName,
		MemberIDs:   payload.Members,
	})
}

// SetActivePeer records which conversation is open. Unread increments for
// that peer are suppressed and its counter is cleared.
func (c *Client) SetActivePeer(peerID string) {
	c.mu.Lock()
	c.activeID = peerID
	c.mu.Unlock()
	if peerID != "" {
		c.OnUnreadClear(peerID)
	}
}

// OnUnreadIncrement bumps the counter for a peer, unless its conversation
// is the one currently open.
func (c *Client) OnUnreadIncrement(peerID string) {
	c.mu.Lock()
	if peerID == c.activeID {
		c.mu.Unlock()
		return
	}
	c.unread[peerID]++
	count := c.unread[peerID]
	c.mu.Unlock()

	if err := c.store.SaveUnread(peerID, count); err != nil {
		slog.Warn("failed to persist unread counter", "peer", peerID, "error", err)
	}
}

func (c *Client) OnUnreadClear(peerID string) {
	c.mu.Lock()
	delete(c.unread, peerID)
	c.mu.Unlock()

	if err := c.store.SaveUnread(peerID, 0); err != nil {
		slog.Warn("failed to persist unread counter", "peer", peerID, "error", err)
	}
}

func (c *Client) Unread(peerID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.unread[peerID]
}
