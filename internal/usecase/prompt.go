package usecase

import (
	"fmt"
	"strings"

	"chat-relay/internal/domain"
)

const (
	// ClearCommand is the exact message body that wipes the active history.
	ClearCommand = "clear"
	// FallbackReply is sent, and stored as the model turn, when the model
	// call fails.
	FallbackReply = "抱歉，我無法理解這個問題。"
)

// SystemInstruction accompanies every model call.
var SystemInstruction = strings.Join([]string{
	"You are a RPA assistant. We have a learning group will ask or discuss relevant topics.",
	"Making each answer less than 150 words, let everyone understand easier.",
	"You may need to base on history record to answer.",
}, "\n")

func isClearCommand(text string) bool {
	return text == ClearCommand
}

func clearReply(userID string) string {
	return fmt.Sprintf("userId:%s 對話紀錄清空", userID)
}

// modelWindow returns the turns sent to the model. With maxTurns > 0 only
// the newest turns are kept, and a leading model turn is dropped so the
// window always opens with the user.
func modelWindow(history domain.History, maxTurns int) domain.History {
	window := history.Latest(maxTurns)
	if maxTurns <= 0 {
		return window
	}
	for len(window) > 1 && window[0].Role == domain.RoleModel {
		window = window[1:]
	}
	return window
}
