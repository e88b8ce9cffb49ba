package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "gatekeeper"
)

// Ключи хранилища заявок (driver: redis)
const (
	// RedisKeyApprovals — hash: requestID -> JSON записи.
	RedisKeyApprovals = RedisNamespace + ":approvals"
	// RedisKeyApprovalTokens — hash: token -> requestID, индекс для ResolveByToken.
	RedisKeyApprovalTokens = RedisNamespace + ":approvals:tokens"
	// RedisKeyOwnerLease — аренда единственного владельца хранилища.
	RedisKeyOwnerLease = RedisNamespace + ":lock:owner"
)
