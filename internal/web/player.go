package web

import (
	"context"
	"log"

	spotifyapi "github.com/zmb3/spotify/v2"

	"github.com/musicwalk/music-walk-map/internal/auth"
	"github.com/musicwalk/music-walk-map/internal/spotify"
)

// authedPlayer backs PlayerService with the single-user authenticator. A
// fresh client is built per call so the oauth2 transport can refresh the
// token, and a rotated token is persisted afterwards.
type authedPlayer struct {
	authn *auth.Authenticator
}

// NewPlayerService wraps authn as a PlayerService.
func NewPlayerService(authn *auth.Authenticator) PlayerService {
	return &authedPlayer{authn: authn}
}

func (p *authedPlayer) CurrentlyPlaying(ctx context.Context) (*spotify.CurrentlyPlayingItem, error) {
	client, err := p.authn.Client(ctx)
	if err != nil {
		return nil, err
	}

	item, err := spotify.New(client).CurrentlyPlaying(ctx)
	if err != nil {
		return nil, err
	}
	p.persist(client)
	return item, nil
}

func (p *authedPlayer) RecentlyPlayed(ctx context.Context, limit int) ([]spotify.RecentItem, error) {
	client, err := p.authn.Client(ctx)
	if err != nil {
		return nil, err
	}

	items, err := spotify.New(client).RecentlyPlayed(ctx, limit)
	if err != nil {
		return nil, err
	}
	p.persist(client)
	return items, nil
}

func (p *authedPlayer) persist(client *spotifyapi.Client) {
	if err := p.authn.PersistRefreshed(client); err != nil {
		log.Printf("error persisting refreshed token: %v", err)
	}
}
