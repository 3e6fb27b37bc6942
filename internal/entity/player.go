package entity

const (
	DefaultHostName   = "Host"
	DefaultPlayerName = "Player"
)

type Player struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	RoomID string `json:"roomId"`
	Online bool   `json:"online"`
	Turn   int    `json:"turn"`
	Score  int    `json:"score"`
}

func NewHost(id, roomID string) *Player {
	return &Player{
		ID:     id,
		Name:   DefaultHostName,
		RoomID: roomID,
		Online: true,
		Turn:   TurnX,
	}
}

func NewGuest(id, roomID, name string, turn int) *Player {
	if name == "" {
		name = DefaultPlayerName
	}

	return &Player{
		ID:     id,
		Name:   name,
		RoomID: roomID,
		Online: true,
		Turn:   turn,
	}
}
