package errs

// 通用错误码
const (
	ServerInternalError = 500
	ArgsError           = 1000 // 入参不合法（父码）
)

// 聊天业务错误码
const (
	NotAuthenticatedError     = 1101
	InvalidUsernameError      = 1102
	InvalidContentError       = 1103
	RecipientOfflineError     = 1104
	StoreUnavailableError     = 1105
	AlreadyAuthenticatedError = 1106
	BadFrameError             = 1107
	UnknownEventError         = 1108
	UserNotFoundError         = 1109
)

var (
	ErrInternalServer = NewCodeError(ServerInternalError, "internal error")
	ErrArgs           = NewCodeError(ArgsError, "invalid argument")

	ErrNotAuthenticated     = NewCodeError(NotAuthenticatedError, "not authenticated")
	ErrInvalidUsername      = NewCodeError(InvalidUsernameError, "username must be 2-20 characters")
	ErrInvalidContent       = NewCodeError(InvalidContentError, "message must be 1-500 characters")
	ErrRecipientOffline     = NewCodeError(RecipientOfflineError, "recipient is offline")
	ErrStoreUnavailable     = NewCodeError(StoreUnavailableError, "store unavailable")
	ErrAlreadyAuthenticated = NewCodeError(AlreadyAuthenticatedError, "already logged in")
	ErrBadFrame             = NewCodeError(BadFrameError, "malformed event")
	ErrUnknownEvent         = NewCodeError(UnknownEventError, "unknown event")
	ErrUserNotFound         = NewCodeError(UserNotFoundError, "user not found")
)

func init() {
	for _, child := range []int{InvalidUsernameError, InvalidContentError, BadFrameError} {
		_ = DefaultCodeRelation.Add(ArgsError, child)
	}
}

// Reason 给客户端的 error 事件文案；非业务错误一律返回 internal error
func Reason(err error) string {
	if err == nil {
		return ""
	}
	if ce, ok := As(err); ok {
		return ce.Msg
	}
	return ErrInternalServer.Msg
}
