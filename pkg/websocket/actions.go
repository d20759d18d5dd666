package websocket

// Action constants for WebSocket messages
const (
	ActionHealthCheck = "health.check"

	// Conversation actions (client -> server)
	ActionConversationSend        = "conversation.send_message"
	ActionConversationStop        = "conversation.stop_streaming"
	ActionConversationSubscribe   = "conversation.subscribe"
	ActionConversationUnsubscribe = "conversation.unsubscribe"
	ActionAskUserResponse         = "conversation.ask_user_response"
	ActionConversationCreate      = "conversation.create"
	ActionConversationList        = "conversation.list"
	ActionConversationGet         = "conversation.get"
	ActionConversationUpdate      = "conversation.update"
	ActionConversationDelete      = "conversation.delete"
	ActionConversationBulkDelete  = "conversation.bulk_delete"
	ActionConversationMessages    = "conversation.get_messages"
	ActionPing                    = "ping"

	// Notification actions (server -> client) that mirror the inbound
	// conversation CRUD actions (§6.1's outbound table).
	ActionConnected               = "connected"
	ActionPong                    = "pong"
	ActionSubscribed              = "subscribed"
	ActionConversationCreated     = "conversation.created"
	ActionConversationDetails     = "conversation.details"
	ActionConversationUpdated     = "conversation.updated"
	ActionConversationDeleted     = "conversation.deleted"
	ActionConversationListResult  = "conversation.list_result"
	ActionConversationMessagesResult = "conversation.messages_result"
	ActionConversationBulkDeleted = "conversation.bulk_deleted"

	// Notification actions (server -> client), published on subject
	// stream.<conversation_id>.<event_type> and re-rendered as WS frames.
	ActionStreamStart          = "stream.start"
	ActionStreamToolUse        = "stream.tool_use"
	ActionStreamProgress       = "stream.progress"
	ActionStreamContent        = "stream.content"
	ActionStreamAskUser        = "stream.ask_user"
	ActionStreamTitleUpdated   = "stream.title_updated"
	ActionStreamContextUsage   = "stream.context_usage"
	ActionStreamComplete       = "stream.complete"
	ActionStreamError          = "stream.error"

	// Sent to a connection that has not completed the session handshake.
	ActionAuthenticationRequired = "authentication_required"
)

// Error codes
const (
	ErrorCodeBadRequest    = "BAD_REQUEST"
	ErrorCodeNotFound      = "NOT_FOUND"
	ErrorCodeInternalError = "INTERNAL_ERROR"
	ErrorCodeUnauthorized  = "UNAUTHORIZED"
	ErrorCodeForbidden     = "FORBIDDEN"
	ErrorCodeValidation    = "VALIDATION_ERROR"
	ErrorCodeUnknownAction = "UNKNOWN_ACTION"
)
