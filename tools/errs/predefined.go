package errs

// 业务错误码（1xxx 通用，2xxx 连接/路由）
const (
	ServerInternalError = 1001
	ArgsError           = 1002
	TokenExpiredError   = 1501
	ConnNotFoundError   = 2001
	QueueFullError      = 2002
)

var (
	ErrInternalServer = NewCodeError(ServerInternalError, "server internal error")
	ErrArgs           = NewCodeError(ArgsError, "args invalid")
	ErrTokenExpired   = NewCodeError(TokenExpiredError, "token expired or missing")

	// ErrConnectionNotFound 路由期间目标用户没有任何在线连接
	ErrConnectionNotFound = NewCodeError(ConnNotFoundError, "connection not found")
)
