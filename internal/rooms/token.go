package rooms

import (
	"encoding/json"
	"fmt"

	"github.com/ZEGOCLOUD/zego_server_assistant/token/go/src/token04"
)

// roomPayload is the token04 privilege payload for one room.
type roomPayload struct {
	RoomID       string      `json:"RoomId"`
	Privilege    map[int]int `json:"Privilege"`
	StreamIDList []string    `json:"StreamIdList,omitempty"`
}

// GenerateRoomToken issues a ZEGOCLOUD token04 for userID in roomID.
// Everyone in a group session may publish their own stream.
// serverSecret must be the 32 character secret from the ZEGOCLOUD console.
func GenerateRoomToken(appID uint32, serverSecret, roomID, userID string, effectiveTimeSec int64) (string, error) {
	if appID == 0 || serverSecret == "" {
		return "", fmt.Errorf("zego: app_id and server_secret required")
	}
	if len(serverSecret) != 32 {
		return "", fmt.Errorf("zego: server_secret must be 32 characters")
	}
	payload := roomPayload{
		RoomID: roomID,
		Privilege: map[int]int{
			token04.PrivilegeKeyLogin:   token04.PrivilegeEnable,
			token04.PrivilegeKeyPublish: token04.PrivilegeEnable,
		},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("zego: marshal payload: %w", err)
	}
	return token04.GenerateToken04(appID, userID, serverSecret, effectiveTimeSec, string(raw))
}
