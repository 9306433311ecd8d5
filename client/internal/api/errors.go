package api

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// ErrUnauthenticated 没有可用的访问令牌，或服务端返回 401。
var ErrUnauthenticated = errors.New("unauthenticated")

// NetworkError 请求未能到达服务端（连接失败、超时、响应体读取失败）。
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError 服务端返回非 2xx，Message 取自响应体 {message}。
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error: status %d", e.Status)
	}
	return fmt.Sprintf("server error: status %d: %s", e.Status, e.Message)
}

// Is 让 errors.Is(err, ErrUnauthenticated) 同时覆盖 401 响应。
func (e *ServerError) Is(target error) bool {
	return target == ErrUnauthenticated && e.Status == http.StatusUnauthorized
}

// IsNotFound 便于视图层区分“资源不存在”与其他失败。
func IsNotFound(err error) bool {
	var se *ServerError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}
