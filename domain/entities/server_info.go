package entities

import "fmt"

// ServerInfo is the live snapshot of a tracked game server
type ServerInfo struct {
	ID         int64
	Name       string
	GameID     string
	Players    int
	MaxPlayers int
}

// PlayerCount formats the occupancy as "players/max"
func (s *ServerInfo) PlayerCount() string {
	return fmt.Sprintf("%d/%d", s.Players, s.MaxPlayers)
}
