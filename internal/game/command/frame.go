package command

import "strings"

// MessageType prefixes every outbound frame.
type MessageType string

// Outbound message types.
const (
	LoginSuccess   MessageType = "LoginSuccess"
	LoginFailed    MessageType = "LoginFailed"
	BalanceInfo    MessageType = "BalanceInfo"
	UpdateSuccess  MessageType = "UpdateSuccess"
	Error          MessageType = "Error"
	GiftSuccess    MessageType = "GiftSuccess"
	GiftFailed     MessageType = "GiftFailed"
	PlayerNotFound MessageType = "PlayerNotFound"
	UnknownCommand MessageType = "UnknownCommand"
	GiftQueued     MessageType = "GiftQueued"
	GiftDelivered  MessageType = "GiftDelivered"
)

// FieldSeparator joins the message type and content fields of a frame.
const FieldSeparator = "::"

// Frame formats an outbound frame as "<type>::<field>::<field>...".
// Fields are joined verbatim; a field containing the separator is not escaped.
func Frame(mt MessageType, fields ...string) string {
	var b strings.Builder
	b.WriteString(string(mt))
	for _, f := range fields {
		b.WriteString(FieldSeparator)
		b.WriteString(f)
	}
	return b.String()
}

// SplitFrame splits a frame into its message type and content fields.
// It is the inverse of Frame for fields that do not contain the separator.
func SplitFrame(frame string) (MessageType, []string) {
	parts := strings.Split(frame, FieldSeparator)
	return MessageType(parts[0]), parts[1:]
}
