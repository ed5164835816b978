package types

import "errors"

// ErrNotFound 简历或岗位不存在
var ErrNotFound = errors.New("记录不存在")
