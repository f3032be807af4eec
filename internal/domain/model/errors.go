package model

import "errors"

// 错误分类。各层用 fmt.Errorf("...: %w") 包装，边界层用 errors.Is 判定并映射为不同响应。
var (
	// ErrNotFound 引用的 caseID 不存在。
	ErrNotFound = errors.New("case not found")
	// ErrInvalidStatus 状态值不在四个枚举之内。
	ErrInvalidStatus = errors.New("invalid case status")
	// ErrMalformedStore 持久化文档无法解析。与“还没有案件”严格区分，属于运维告警级别。
	ErrMalformedStore = errors.New("malformed case store")
	// ErrEmptyPayload 上传内容为空或缺失。
	ErrEmptyPayload = errors.New("empty evidence payload")
)
