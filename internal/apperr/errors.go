package apperr

import "errors"

// 错误分类。各组件用 %w 包装具体上下文，调用方用 errors.Is 判断类别。
var (
	// ErrInputValidation 外部调用前必填字段缺失，立即返回，不重试
	ErrInputValidation = errors.New("输入校验失败")

	// ErrUpstreamService 外部文本/图片服务调用失败或返回不可用内容
	ErrUpstreamService = errors.New("上游服务调用失败")

	// ErrAssetNotFound 本地素材池为空或不可读
	ErrAssetNotFound = errors.New("未找到可用素材")

	// ErrMalformedResponse 响应存在但违反约定格式，触发降级路径，不对外暴露
	ErrMalformedResponse = errors.New("响应格式不符合约定")
)
