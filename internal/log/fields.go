package log

const (
	// HTTP
	FieldMethod   = "method"
	FieldPath     = "path"
	FieldStatus   = "status"
	FieldLatency  = "latency_ms"
	FieldClientIP = "client_ip"

	// Broker
	FieldConnID    = "conn_id"
	FieldUsername  = "username"
	FieldRoom      = "room"
	FieldIntent    = "intent"
	FieldMessageID = "message_id"
	FieldPeer      = "peer"

	FieldService = "service"

	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
