package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"reflect"

	"github.com/ethereum/go-ethereum/common/hexutil"

	xerrors "DappBridge/internal/errors"
	"DappBridge/internal/role"
	"DappBridge/internal/web3"
)

// ErrorBody 是统一的错误响应。
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail 描述错误码、可读信息与附加元数据。
type ErrorDetail struct {
	Code     xerrors.Code      `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// StatusFor 返回错误码对应的 HTTP 状态码。
func StatusFor(code xerrors.Code) int {
	switch code {
	case web3.CodeProviderUnavailable:
		return http.StatusServiceUnavailable
	case web3.CodeUserRejected:
		return http.StatusForbidden
	case web3.CodeInsufficientResources:
		return http.StatusPaymentRequired
	case web3.CodeEndpointUnreachable:
		return http.StatusBadGateway
	case web3.CodeEndpointRejected, role.CodeRoleNotRegistered:
		return http.StatusConflict
	case web3.CodeNotConnected:
		return http.StatusUnauthorized
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := xerrors.CodeOf(err)
	detail := ErrorDetail{Code: code, Message: err.Error(), Metadata: xerrors.MetadataOf(err)}
	if e, ok := xerrors.From(err); ok {
		detail.Message = e.Message()
	}
	status := StatusFor(code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("请求处理失败", slog.String("path", r.URL.Path), slog.String("code", string(code)), slog.Any("error", err))
	}
	writeJSON(w, status, ErrorBody{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// renderOutputs 将字节类输出编码为十六进制字符串，其余值保持原样交给 JSON 编码。
func renderOutputs(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = renderValue(v)
	}
	return out
}

func renderValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return hexutil.Bytes(val)
	case nil:
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Array && rv.Type().Elem().Kind() == reflect.Uint8 {
		buf := make([]byte, rv.Len())
		reflect.Copy(reflect.ValueOf(buf), rv)
		return hexutil.Bytes(buf)
	}
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = renderValue(rv.Index(i).Interface())
		}
		return items
	}
	return v
}
