package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/giantswarm/oauth-authserver/storage"
)

// FindActiveClient returns an active client by ID
func (s *Store) FindActiveClient(ctx context.Context, clientID string) (c *storage.Client, err error) {
	ctx, done := s.startOperation(ctx, "find_active_client")
	defer func() { done(err) }()

	client, err := s.getClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !client.Active {
		return nil, storage.ErrClientNotFound
	}
	return client, nil
}

func (s *Store) getClient(ctx context.Context, clientID string) (*storage.Client, error) {
	var j clientJSON
	if err := s.getJSON(ctx, s.clientKey(clientID), &j, storage.ErrClientNotFound); err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return fromClientJSON(&j), nil
}

// SaveClient inserts or replaces a client and indexes it by creation time
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	ctx, done := s.startOperation(ctx, "save_client")
	defer func() { done(err) }()

	if client == nil || client.ID == "" {
		return fmt.Errorf("invalid client")
	}

	if err := s.setJSON(ctx, s.clientKey(client.ID), toClientJSON(client), 0); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	score := float64(client.CreatedAt.UnixMilli())
	if err := s.client.Do(ctx,
		s.client.B().Zadd().Key(s.clientsKey()).ScoreMember().ScoreMember(score, client.ID).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to index client: %w", err)
	}

	s.logger.Debug("Saved client", "client_id", client.ID)
	return nil
}

// DeactivateClient marks a client inactive. The record is kept.
func (s *Store) DeactivateClient(ctx context.Context, clientID string) (err error) {
	ctx, done := s.startOperation(ctx, "deactivate_client")
	defer func() { done(err) }()

	client, err := s.getClient(ctx, clientID)
	if err != nil {
		return err
	}
	client.Active = false

	data, err := json.Marshal(toClientJSON(client))
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	// XX: a client is never resurrected by a concurrent delete
	err = s.client.Do(ctx,
		s.client.B().Set().Key(s.clientKey(clientID)).Value(string(data)).Xx().Build(),
	).Error()
	if err != nil {
		if isNilError(err) {
			return storage.ErrClientNotFound
		}
		return fmt.Errorf("failed to deactivate client: %w", err)
	}

	s.logger.Debug("Deactivated client", "client_id", clientID)
	return nil
}

// ListClients returns all clients ordered by creation time, then ID
func (s *Store) ListClients(ctx context.Context) (clients []*storage.Client, err error) {
	ctx, done := s.startOperation(ctx, "list_clients")
	defer func() { done(err) }()

	// members with equal scores come back in lexicographic order
	ids, err := s.client.Do(ctx,
		s.client.B().Zrange().Key(s.clientsKey()).Min("0").Max("-1").Build(),
	).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}

	clients = make([]*storage.Client, 0, len(ids))
	for _, id := range ids {
		client, err := s.getClient(ctx, id)
		if errors.Is(err, storage.ErrClientNotFound) {
			s.logger.Warn("Client index references missing client", "client_id", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}
	return clients, nil
}
